package command

import (
	"io"
	"testing"

	"github.com/go-test/deep"
	"github.com/sirupsen/logrus"

	"github.com/lagoon-server/lagoon/internal/player"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTableRegisterAndInvoke(t *testing.T) {
	table := NewTable(testLogger())

	var gotArgs []string
	table.Register("kick", func(sender *player.Player, args []string) {
		gotArgs = args
	}, "boot")

	sender := player.New(76561198000000001, "alice")
	if !table.Invoke(sender, "KICK", []string{"bob"}) {
		t.Fatal("Invoke() should find the command by name case-insensitively")
	}
	if diff := deep.Equal([]string{"bob"}, gotArgs); len(diff) > 0 {
		t.Errorf("handler args mismatch: %v", diff)
	}

	if !table.Invoke(sender, "Boot", []string{"carol"}) {
		t.Error("Invoke() should find the command by alias")
	}
	if !table.Exists("boot") || !table.Exists("kick") {
		t.Error("Exists() should match both name and alias")
	}
}

func TestTableUnknownCommand(t *testing.T) {
	table := NewTable(testLogger())
	if table.Invoke(player.New(1, "a"), "nosuch", nil) {
		t.Error("Invoke() of an unknown command should report false, not panic")
	}
}

func TestTableRejectsNameCollision(t *testing.T) {
	table := NewTable(testLogger())

	table.Register("help", func(*player.Player, []string) {})
	first := table.Find("help")

	table.Register("help", func(*player.Player, []string) {})
	if table.Find("help") != first {
		t.Error("second registration must not replace the first")
	}
	if len(table.All()) != 1 {
		t.Errorf("table has %d commands, want 1", len(table.All()))
	}
}

func TestTableRejectsAliasCollision(t *testing.T) {
	table := NewTable(testLogger())

	table.Register("previous", func(*player.Player, []string) {}, "recent")
	table.Register("recentchalk", func(*player.Player, []string) {}, "recent")

	// The second registration collides on the alias and must leave the table
	// exactly as it was: first command intact, second command absent.
	if got := len(table.All()); got != 1 {
		t.Fatalf("table has %d commands, want 1", got)
	}
	if table.Exists("recentchalk") {
		t.Error("colliding command should not have been registered")
	}
	cmd := table.Find("recent")
	if cmd == nil || cmd.Name != "previous" {
		t.Error("original alias binding should be untouched")
	}
}

func TestTableUnregister(t *testing.T) {
	table := NewTable(testLogger())
	table.Register("reload", func(*player.Player, []string) {})

	table.Unregister("reload")
	if table.Exists("reload") {
		t.Error("command should be gone after Unregister()")
	}

	// A plugin reload re-registers the same name; that must now succeed.
	table.Register("reload", func(*player.Player, []string) {})
	if !table.Exists("reload") {
		t.Error("re-registration after Unregister() should succeed")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{name: "bare command", message: "!help", wantName: "help", wantArgs: []string{}, wantOK: true},
		{name: "command with args", message: "!ban bob \"spamming chat\"", wantName: "ban", wantArgs: []string{"bob", `"spamming`, `chat"`}, wantOK: true},
		{name: "plain chat", message: "hello there", wantOK: false},
		{name: "prefix only", message: "!", wantOK: false},
		{name: "empty", message: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, ok := Parse(tt.message)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.message, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if diff := deep.Equal(tt.wantArgs, args); len(diff) > 0 {
				t.Errorf("args mismatch: %v", diff)
			}
		})
	}
}
