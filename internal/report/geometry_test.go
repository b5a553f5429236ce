package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportExcludesMarginsAndOffsets(t *testing.T) {
	g := DefaultGeometry()
	v := g.Viewport()

	assert.Equal(t, g.Margin, v.X)
	assert.Equal(t, g.Margin+g.HeaderOffset, v.Y)
	assert.Equal(t, g.Width-2*g.Margin, v.W)
	assert.Equal(t, g.Height-2*g.Margin-g.HeaderOffset-g.FooterOffset, v.H)
}

func TestSlotsSplitViewportWithGutters(t *testing.T) {
	viewport := Rect{X: 10, Y: 20, W: 210, H: 110}
	slots := Slots(viewport, Grid{Cols: 2, Rows: 2}, 10)

	require.Len(t, slots, 4)
	assert.Equal(t, Rect{X: 10, Y: 20, W: 102.5, H: 52.5}, slots[0])
	assert.Equal(t, Rect{X: 117.5, Y: 20, W: 102.5, H: 52.5}, slots[1])
	assert.Equal(t, Rect{X: 10, Y: 77.5, W: 102.5, H: 52.5}, slots[2])
	assert.InDelta(t, viewport.Right(), slots[3].Right(), 1e-9)
	assert.InDelta(t, viewport.Bottom(), slots[3].Bottom(), 1e-9)
}

func TestAssignSlots(t *testing.T) {
	viewport := Rect{X: 10, Y: 20, W: 210, H: 110}
	grid := Grid{Cols: 2, Rows: 2}
	slots := Slots(viewport, grid, 10)

	t.Run("single figure takes the viewport", func(t *testing.T) {
		got := AssignSlots(1, slots, viewport, grid)
		require.Len(t, got, 1)
		assert.Equal(t, viewport, got[0])
	})

	t.Run("two figures use one full-height row", func(t *testing.T) {
		got := AssignSlots(2, slots, viewport, grid)
		require.Len(t, got, 2)
		for i, r := range got {
			assert.Equal(t, viewport.Y, r.Y)
			assert.Equal(t, viewport.H, r.H)
			assert.Equal(t, slots[i].W, r.W)
		}
	})

	t.Run("last figure on second-to-last slot absorbs the trailing one", func(t *testing.T) {
		got := AssignSlots(3, slots, viewport, grid)
		require.Len(t, got, 3)
		assert.Equal(t, slots[0], got[0])
		assert.Equal(t, slots[1], got[1])
		assert.Equal(t, slots[2].X, got[2].X)
		assert.InDelta(t, slots[3].Right(), got[2].Right(), 1e-9)
		assert.Equal(t, slots[2].H, got[2].H)
	})

	t.Run("four figures keep their slots", func(t *testing.T) {
		got := AssignSlots(4, slots, viewport, grid)
		require.Len(t, got, 4)
		assert.Equal(t, slots, got)
		assert.Equal(t, slots[2].W, got[2].W)
	})

	t.Run("extra figures are dropped", func(t *testing.T) {
		assert.Len(t, AssignSlots(6, slots, viewport, grid), 4)
		assert.Empty(t, AssignSlots(0, slots, viewport, grid))
	})

	t.Run("single column grows the figure downwards", func(t *testing.T) {
		colGrid := Grid{Cols: 1, Rows: 3}
		col := Slots(viewport, colGrid, 10)
		got := AssignSlots(2, col, viewport, colGrid)
		require.Len(t, got, 2)
		assert.InDelta(t, viewport.Bottom(), got[1].Bottom(), 1e-9)
		assert.Equal(t, col[1].W, got[1].W)
	})
}

func TestMaxTableRows(t *testing.T) {
	assert.Equal(t, 7, MaxTableRows(tableTitleHeight+tableHeaderHeight+7*tableRowHeight))
	assert.Equal(t, 6, MaxTableRows(tableTitleHeight+tableHeaderHeight+7*tableRowHeight-0.1))
	assert.Equal(t, 0, MaxTableRows(5))
}
