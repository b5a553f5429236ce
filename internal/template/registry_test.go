package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportd/internal/models"
)

func TestBuiltinDefinitionsAreValid(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	ids := []string{}
	for _, def := range r.List() {
		ids = append(ids, def.ID)
		assert.NotEmpty(t, def.Layouts)
	}
	assert.Equal(t, []string{"activity", "basic"}, ids)
}

func TestUnknownTemplateIsArgumentError(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Resolve(models.LayoutDescriptor{Extends: "nope"})
	require.Error(t, err)
	assert.True(t, models.IsArgument(err))
}

func TestResolveSplicesInsertsAndMergesFetch(t *testing.T) {
	r, err := NewEmptyRegistry()
	require.NoError(t, err)
	_, err = r.Register([]byte(`{
		"id": "base",
		"name": "Base",
		"fetch": {"filter": "*", "index": "default-*"},
		"layouts": [
			{"figures": [{"type": "md", "title": "A"}]},
			{"figures": [{"type": "md", "title": "B"}]}
		]
	}`))
	require.NoError(t, err)

	md := func(title string) models.Layout {
		return models.Layout{Figures: []models.FigureSpec{{Type: "md", Title: title}}}
	}
	resolved, err := r.Resolve(models.LayoutDescriptor{
		Extends: "base",
		Fetch:   map[string]interface{}{"filter": "platform:web"},
		Inserts: []models.LayoutInsert{
			{At: 1, Layouts: []models.Layout{md("X"), md("Y")}},
			{At: 4, Layouts: []models.Layout{md("Z")}},
		},
	})
	require.NoError(t, err)

	titles := []string{}
	for _, l := range resolved.Layouts {
		titles = append(titles, l.Figures[0].Title)
	}
	assert.Equal(t, []string{"A", "X", "Y", "B", "Z"}, titles)
	assert.Equal(t, "platform:web", resolved.Fetch["filter"])
	assert.Equal(t, "default-*", resolved.Fetch["index"])

	q := resolved.QueryOptions(map[string]interface{}{"filter": "ignored", "size": 5})
	assert.Equal(t, "platform:web", q["filter"])
	assert.Equal(t, 5, q["size"])

	def, err := r.Get("base")
	require.NoError(t, err)
	assert.Len(t, def.Layouts, 2, "resolving must not alter the definition")
}

func TestResolveRejectsOutOfRangeInsert(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Resolve(models.LayoutDescriptor{
		Extends: "basic",
		Inserts: []models.LayoutInsert{{At: 5, Layouts: []models.Layout{{Figures: []models.FigureSpec{{Type: "md"}}}}}},
	})
	assert.True(t, models.IsArgument(err))
}

func TestRegisterValidatesSchema(t *testing.T) {
	r, err := NewEmptyRegistry()
	require.NoError(t, err)

	_, err = r.Register([]byte(`{"id": "bad", "name": "Bad", "layouts": [{"figures": [{"type": "radar"}]}]}`))
	require.Error(t, err)
	assert.True(t, models.IsArgument(err))

	_, err = r.Register([]byte(`{"id": "ok", "name": "Ok", "layouts": [{"figures": [{"type": "bar"}]}]}`))
	require.NoError(t, err)
	_, err = r.Register([]byte(`{"id": "ok", "name": "Ok", "layouts": [{"figures": [{"type": "bar"}]}]}`))
	assert.True(t, models.IsArgument(err))
}

func TestValidateDescriptor(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.NoError(t, r.ValidateDescriptor(models.LayoutDescriptor{Extends: "activity"}))
	assert.True(t, models.IsArgument(r.ValidateDescriptor(models.LayoutDescriptor{})))
	assert.True(t, models.IsArgument(r.ValidateDescriptor(models.LayoutDescriptor{
		Extends: "activity",
		Inserts: []models.LayoutInsert{{At: 0, Layouts: []models.Layout{{Figures: []models.FigureSpec{{Type: "radar"}}}}}},
	})))
}
