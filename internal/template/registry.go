// Package template holds the report template definitions a task layout can extend.
package template

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"reportd/internal/models"
)

//go:embed definitions/*.json
var builtinFS embed.FS

//go:embed schema/definition.schema.json
var definitionSchema []byte

//go:embed schema/descriptor.schema.json
var descriptorSchema []byte

// Definition is a registered base template.
type Definition struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Fetch   map[string]interface{} `json:"fetch,omitempty"`
	Layouts []models.Layout        `json:"layouts"`
}

// Resolved is a definition with a task descriptor applied to it.
type Resolved struct {
	ID      string
	Name    string
	Fetch   map[string]interface{}
	Layouts []models.Layout

	defaults  map[string]interface{}
	overrides map[string]interface{}
}

// QueryOptions merges the options of one layout query between the template
// defaults and the task overrides.
func (r *Resolved) QueryOptions(query map[string]interface{}) map[string]interface{} {
	return MergeOptions(r.defaults, query, r.overrides)
}

// Registry maps template ids to validated definitions.
type Registry struct {
	defs       map[string]Definition
	definition *gojsonschema.Schema
	descriptor *gojsonschema.Schema
}

// NewRegistry builds a registry holding the built-in definitions.
func NewRegistry() (*Registry, error) {
	r, err := NewEmptyRegistry()
	if err != nil {
		return nil, err
	}

	files, err := fs.Glob(builtinFS, "definitions/*.json")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, name := range files {
		raw, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := r.Register(raw); err != nil {
			return nil, fmt.Errorf("template %s: %w", path.Base(name), err)
		}
	}
	return r, nil
}

// NewEmptyRegistry builds a registry with no definitions.
func NewEmptyRegistry() (*Registry, error) {
	defSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to create definition schema: %w", err)
	}
	descSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(descriptorSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor schema: %w", err)
	}
	return &Registry{
		defs:       make(map[string]Definition),
		definition: defSchema,
		descriptor: descSchema,
	}, nil
}

// Register validates a JSON definition and adds it to the registry.
func (r *Registry) Register(raw []byte) (*Definition, error) {
	if err := validate(r.definition, gojsonschema.NewBytesLoader(raw)); err != nil {
		return nil, err
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if _, dup := r.defs[def.ID]; dup {
		return nil, models.NewArgumentError("template %q is already registered", def.ID)
	}
	r.defs[def.ID] = def
	return &def, nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*Definition, error) {
	def, ok := r.defs[id]
	if !ok {
		return nil, models.NewArgumentError("unknown template %q", id)
	}
	return &def, nil
}

// List returns every definition sorted by id.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateDescriptor checks a task descriptor against the schema and the
// registered templates without resolving it.
func (r *Registry) ValidateDescriptor(desc models.LayoutDescriptor) error {
	if err := validate(r.descriptor, gojsonschema.NewGoLoader(desc)); err != nil {
		return err
	}
	_, err := r.Resolve(desc)
	return err
}

// Resolve applies a task descriptor to its base template. Fetch options of the
// descriptor override the template's; inserts are spliced in order, each at
// its index in the list produced by the previous inserts.
func (r *Registry) Resolve(desc models.LayoutDescriptor) (*Resolved, error) {
	def, err := r.Get(desc.Extends)
	if err != nil {
		return nil, err
	}

	layouts := append([]models.Layout(nil), def.Layouts...)
	for _, ins := range desc.Inserts {
		if ins.At < 0 || ins.At > len(layouts) {
			return nil, models.NewArgumentError("insert index %d out of range [0, %d]", ins.At, len(layouts))
		}
		spliced := make([]models.Layout, 0, len(layouts)+len(ins.Layouts))
		spliced = append(spliced, layouts[:ins.At]...)
		spliced = append(spliced, ins.Layouts...)
		spliced = append(spliced, layouts[ins.At:]...)
		layouts = spliced
	}

	return &Resolved{
		ID:      def.ID,
		Name:    def.Name,
		Fetch:   MergeOptions(def.Fetch, desc.Fetch),
		Layouts: layouts,

		defaults:  def.Fetch,
		overrides: desc.Fetch,
	}, nil
}

// MergeOptions shallow-merges option maps; later maps win.
func MergeOptions(sources ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, src := range sources {
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}

func validate(schema *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	result, err := schema.Validate(doc)
	if err != nil {
		return models.NewArgumentError("failed to validate: %v", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return models.NewArgumentError("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
