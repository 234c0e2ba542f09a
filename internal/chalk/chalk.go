// Package chalk tracks the shared chalk canvases players draw on. The game
// ships four fixed canvases; the server accumulates every cell it sees so
// that players joining later receive the full drawing.
package chalk

import (
	"sort"
	"sync"

	"github.com/lagoon-server/lagoon/internal/godot"
)

// Chalk colors as the game encodes them.
const (
	ColorBlack int64 = iota
	ColorWhite
	ColorRed
	ColorBlue
	ColorYellow
	ColorSpecial
	ColorGreen

	ColorNone int64 = -1
)

// Channel is the game's network channel for chalk traffic.
const Channel = 1

// CanvasCount is the number of canvases the game world contains. Updates
// addressed to any other canvas ID are dropped.
const CanvasCount = 4

// Canvas is one chalk surface. Cells map a world position to a color.
type Canvas struct {
	id int64

	mu    sync.Mutex
	cells map[godot.Vector2]int64
}

// NewCanvas returns an empty canvas with the given ID.
func NewCanvas(id int64) *Canvas {
	return &Canvas{id: id, cells: make(map[godot.Vector2]int64)}
}

// ID returns the canvas ID.
func (c *Canvas) ID() int64 { return c.id }

// Apply merges a chalk_packet data section into the canvas. The section is a
// pseudoarray dictionary: integer keys in send order, each value a dictionary
// holding the cell position under key 0 and the color under key 1. Entries
// that do not match that shape are skipped.
func (c *Canvas) Apply(data *godot.Dictionary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range data.Entries() {
		cell := entry.Value.Dict()
		if cell == nil {
			continue
		}
		pos, ok := cell.Get(godot.Int(0))
		if !ok || pos.Kind() != godot.KindVector2 {
			continue
		}
		color, ok := cell.Get(godot.Int(1))
		if !ok {
			continue
		}
		c.cells[pos.Vector2()] = color.Int()
	}
}

// SetCell writes one cell without touching the rest of the canvas.
func (c *Canvas) SetCell(pos godot.Vector2, color int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cells[pos] = color
}

// Cell returns the color stored at pos.
func (c *Canvas) Cell(pos godot.Vector2) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	color, ok := c.cells[pos]
	return color, ok
}

// Len returns the number of cells the canvas holds.
func (c *Canvas) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cells)
}

// Clear erases every cell.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cells = make(map[godot.Vector2]int64)
}

// Snapshot returns the canvas contents as a chalk data pseudoarray, cells in
// a stable position order. With omitEmpty set, cells erased back to ColorNone
// are left out.
func (c *Canvas) Snapshot(omitEmpty bool) *godot.Dictionary {
	c.mu.Lock()
	positions := make([]godot.Vector2, 0, len(c.cells))
	for pos := range c.cells {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	data := godot.NewDictionary()
	idx := int64(0)
	for _, pos := range positions {
		color := c.cells[pos]
		if omitEmpty && color == ColorNone {
			continue
		}
		cell := godot.NewDictionary()
		cell.Set(godot.Int(0), godot.Vec2(pos))
		cell.Set(godot.Int(1), godot.Int(color))
		data.Set(godot.Int(idx), godot.Dict(cell))
		idx++
	}
	c.mu.Unlock()
	return data
}

// Packet wraps the full canvas snapshot in a chalk_packet gameplay payload,
// ready for the relay.
func (c *Canvas) Packet(omitEmpty bool) *godot.Dictionary {
	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("chalk_packet"))
	packet.SetString("canvas_id", godot.Int(c.id))
	packet.SetString("data", godot.Dict(c.Snapshot(omitEmpty)))
	packet.SetString("channel", godot.Int(Channel))
	return packet
}

// Board holds the world's canvases, indexed by canvas ID.
type Board struct {
	canvases [CanvasCount]*Canvas
}

// NewBoard returns a board with all canvases empty.
func NewBoard() *Board {
	b := &Board{}
	for i := range b.canvases {
		b.canvases[i] = NewCanvas(int64(i))
	}
	return b
}

// Canvas returns the canvas with the given ID, or false for an ID outside
// the world's range.
func (b *Board) Canvas(id int64) (*Canvas, bool) {
	if id < 0 || id >= CanvasCount {
		return nil, false
	}
	return b.canvases[id], true
}

// Apply routes a chalk_packet data section to its canvas. Out-of-range IDs
// are dropped and reported false.
func (b *Board) Apply(id int64, data *godot.Dictionary) bool {
	canvas, ok := b.Canvas(id)
	if !ok {
		return false
	}
	canvas.Apply(data)
	return true
}

// Canvases returns every canvas in ID order.
func (b *Board) Canvases() []*Canvas {
	return b.canvases[:]
}
