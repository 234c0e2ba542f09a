package chalk

import (
	"testing"

	"github.com/lagoon-server/lagoon/internal/godot"
)

func cellData(cells ...[3]int64) *godot.Dictionary {
	data := godot.NewDictionary()
	for i, c := range cells {
		cell := godot.NewDictionary()
		cell.Set(godot.Int(0), godot.Vec2(godot.Vector2{X: float32(c[0]), Y: float32(c[1])}))
		cell.Set(godot.Int(1), godot.Int(c[2]))
		data.Set(godot.Int(int64(i)), godot.Dict(cell))
	}
	return data
}

func TestCanvasAccumulatesCells(t *testing.T) {
	canvas := NewCanvas(0)

	canvas.Apply(cellData([3]int64{1, 2, ColorRed}, [3]int64{3, 4, ColorBlue}))
	canvas.Apply(cellData([3]int64{1, 2, ColorGreen}))

	if got := canvas.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	color, ok := canvas.Cell(godot.Vector2{X: 1, Y: 2})
	if !ok || color != ColorGreen {
		t.Errorf("cell (1,2) = (%d, %v), want (%d, true)", color, ok, ColorGreen)
	}
	color, ok = canvas.Cell(godot.Vector2{X: 3, Y: 4})
	if !ok || color != ColorBlue {
		t.Errorf("cell (3,4) = (%d, %v), want (%d, true)", color, ok, ColorBlue)
	}
}

func TestCanvasApplySkipsMalformedEntries(t *testing.T) {
	canvas := NewCanvas(0)

	data := godot.NewDictionary()
	data.Set(godot.Int(0), godot.String("not a cell"))
	missingColor := godot.NewDictionary()
	missingColor.Set(godot.Int(0), godot.Vec2(godot.Vector2{X: 9, Y: 9}))
	data.Set(godot.Int(1), godot.Dict(missingColor))
	good := godot.NewDictionary()
	good.Set(godot.Int(0), godot.Vec2(godot.Vector2{X: 5, Y: 5}))
	good.Set(godot.Int(1), godot.Int(ColorYellow))
	data.Set(godot.Int(2), godot.Dict(good))

	canvas.Apply(data)

	if got := canvas.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if color, ok := canvas.Cell(godot.Vector2{X: 5, Y: 5}); !ok || color != ColorYellow {
		t.Errorf("cell (5,5) = (%d, %v), want (%d, true)", color, ok, ColorYellow)
	}
}

func TestCanvasSnapshotRoundTrips(t *testing.T) {
	canvas := NewCanvas(2)
	canvas.Apply(cellData(
		[3]int64{0, 1, ColorBlack},
		[3]int64{2, 0, ColorWhite},
		[3]int64{1, 1, ColorNone},
	))

	snap := canvas.Snapshot(false)
	if snap.Len() != 3 {
		t.Fatalf("Snapshot(false) has %d cells, want 3", snap.Len())
	}

	restored := NewCanvas(2)
	restored.Apply(snap)
	if restored.Len() != canvas.Len() {
		t.Fatalf("restored canvas has %d cells, want %d", restored.Len(), canvas.Len())
	}
	for _, pos := range []godot.Vector2{{X: 0, Y: 1}, {X: 2, Y: 0}, {X: 1, Y: 1}} {
		want, _ := canvas.Cell(pos)
		got, ok := restored.Cell(pos)
		if !ok || got != want {
			t.Errorf("restored cell %v = (%d, %v), want (%d, true)", pos, got, ok, want)
		}
	}
}

func TestCanvasSnapshotOmitsErasedCells(t *testing.T) {
	canvas := NewCanvas(0)
	canvas.SetCell(godot.Vector2{X: 1, Y: 1}, ColorRed)
	canvas.SetCell(godot.Vector2{X: 2, Y: 2}, ColorNone)

	if got := canvas.Snapshot(true).Len(); got != 1 {
		t.Errorf("Snapshot(true) has %d cells, want 1", got)
	}
	if got := canvas.Snapshot(false).Len(); got != 2 {
		t.Errorf("Snapshot(false) has %d cells, want 2", got)
	}
}

func TestCanvasPacketShape(t *testing.T) {
	canvas := NewCanvas(3)
	canvas.SetCell(godot.Vector2{X: 7, Y: 7}, ColorSpecial)

	packet := canvas.Packet(false)
	if got := packet.StringField("type"); got != "chalk_packet" {
		t.Errorf("type = %q, want chalk_packet", got)
	}
	if got := packet.IntField("canvas_id"); got != 3 {
		t.Errorf("canvas_id = %d, want 3", got)
	}
	if got := packet.IntField("channel"); got != Channel {
		t.Errorf("channel = %d, want %d", got, Channel)
	}
	data, _ := packet.GetString("data")
	if data.Dict().Len() != 1 {
		t.Errorf("data has %d cells, want 1", data.Dict().Len())
	}
}

func TestBoardRejectsOutOfRangeCanvas(t *testing.T) {
	board := NewBoard()

	tests := []struct {
		id   int64
		want bool
	}{
		{0, true},
		{3, true},
		{4, false},
		{-1, false},
	}
	for _, tt := range tests {
		if got := board.Apply(tt.id, cellData([3]int64{0, 0, ColorBlack})); got != tt.want {
			t.Errorf("Apply(canvas %d) = %v, want %v", tt.id, got, tt.want)
		}
	}

	canvas, _ := board.Canvas(0)
	if canvas.Len() != 1 {
		t.Errorf("canvas 0 has %d cells, want 1", canvas.Len())
	}
	if len(board.Canvases()) != CanvasCount {
		t.Errorf("board has %d canvases, want %d", len(board.Canvases()), CanvasCount)
	}
}
