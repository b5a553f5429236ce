package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseMarkdown(t *testing.T) {
	blocks := parseMarkdown("# Title\nfirst line\nsecond line\n\n- item\n## Sub")
	require.Len(t, blocks, 4)
	assert.True(t, blocks[0].bold)
	assert.Equal(t, 12.0, blocks[0].size)
	assert.Equal(t, "first line second line", blocks[1].text)
	assert.Equal(t, "-", blocks[2].marker)
	assert.Equal(t, "item", blocks[2].text)
	assert.Equal(t, "Sub", blocks[3].text)
	assert.Equal(t, 10.0, blocks[3].size)
}

func TestParseMarkdownKeepsIdentifiers(t *testing.T) {
	blocks := parseMarkdown("Field `user_agent` and snake_case_name stay, **bold** and _soft_ lose markers.")
	require.Len(t, blocks, 1)
	assert.Equal(t, "Field user_agent and snake_case_name stay, bold and soft lose markers.", blocks[0].text)
}

func TestParseMarkdownLists(t *testing.T) {
	blocks := parseMarkdown("3. third\n4. fourth\n   - nested\n\n> quoted")
	require.Len(t, blocks, 4)

	assert.Equal(t, "3.", blocks[0].marker)
	assert.Equal(t, 1, blocks[0].depth)
	assert.Equal(t, "4.", blocks[1].marker)
	assert.Equal(t, "-", blocks[2].marker)
	assert.Equal(t, "nested", blocks[2].text)
	assert.Equal(t, 2, blocks[2].depth)

	assert.Empty(t, blocks[3].marker)
	assert.Equal(t, "quoted", blocks[3].text)
	assert.Equal(t, 1, blocks[3].depth)
}

func TestParseMarkdownCode(t *testing.T) {
	blocks := parseMarkdown("```\nGET /_search\n  size: 0\n```\n\n<b>raw</b> text")
	require.Len(t, blocks, 3)
	assert.True(t, blocks[0].mono)
	assert.Equal(t, "GET /_search", blocks[0].text)
	assert.Equal(t, "  size: 0", blocks[1].text)
	assert.Equal(t, "raw text", blocks[2].text)
	assert.False(t, blocks[2].mono)
}

func TestRenderMarkdownFigure(t *testing.T) {
	c := newTestCompositor(zap.NewNop())
	_, err := c.Render(context.Background(), filepath.Join(t.TempDir(), "md.pdf"), Header{}, []PageProducer{
		page(&MarkdownFigure{Title: "Notes", Text: "1. one\n   - two\n\n```\ncode_line\n```"}),
	})
	require.NoError(t, err)
}
