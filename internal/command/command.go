// Package command implements the chat command table: a registry mapping text
// commands and their aliases to handlers, consulted by the chat message path.
package command

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lagoon-server/lagoon/internal/player"
)

// Prefix is the character that marks a chat message as a command.
const Prefix = '!'

// Handler is invoked with the sending player and the space-separated
// arguments after the command token. Handlers needing a multi-word argument
// (like a quoted ban reason) re-join and re-parse args themselves.
type Handler func(sender *player.Player, args []string)

// Registered is one entry in the command table. Names and aliases are
// canonicalized to lower case at registration.
type Registered struct {
	Name        string
	Description string
	Aliases     []string
	Handler     Handler
}

// Table is the command registry. Name and every alias must be globally unique
// across the table; registration collisions are rejected, not overwritten.
type Table struct {
	mu       sync.Mutex
	logger   *logrus.Logger
	commands []*Registered
}

// NewTable returns an empty command table.
func NewTable(logger *logrus.Logger) *Table {
	return &Table{logger: logger}
}

// Register adds a command. If the name or any alias collides with an existing
// command or alias the registration is logged and dropped, leaving the table
// unchanged.
func (t *Table) Register(name string, handler Handler, aliases ...string) {
	name = strings.ToLower(name)
	canonical := make([]string, len(aliases))
	for i, alias := range aliases {
		canonical[i] = strings.ToLower(alias)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.findLocked(name) != nil {
		t.logger.Warnf("command %q is already registered", name)
		return
	}
	for _, alias := range canonical {
		if t.findLocked(alias) != nil {
			t.logger.Warnf("command %q has alias %q that is already registered elsewhere", name, alias)
			return
		}
	}

	t.commands = append(t.commands, &Registered{
		Name:    name,
		Aliases: canonical,
		Handler: handler,
	})
}

// Unregister removes the command registered under name.
func (t *Table) Unregister(name string) {
	name = strings.ToLower(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, cmd := range t.commands {
		if cmd.Name == name {
			t.commands = append(t.commands[:i], t.commands[i+1:]...)
			return
		}
	}
}

// SetDescription attaches help text to a registered command.
func (t *Table) SetDescription(name, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd := t.findLocked(strings.ToLower(name))
	if cmd == nil {
		t.logger.Warnf("command %q not found", name)
		return
	}
	cmd.Description = description
}

// Find looks up a command by name or alias, case-insensitively.
func (t *Table) Find(name string) *Registered {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findLocked(strings.ToLower(name))
}

// Exists reports whether a command is registered under name or any alias.
func (t *Table) Exists(name string) bool {
	return t.Find(name) != nil
}

// Invoke calls the handler registered for name. The return value tells the
// caller whether the command existed so unknown commands can be reported back
// to the sender instead of silently dropped.
func (t *Table) Invoke(sender *player.Player, name string, args []string) bool {
	cmd := t.Find(name)
	if cmd == nil {
		t.logger.Infof("command %q not found", name)
		return false
	}
	cmd.Handler(sender, args)
	return true
}

// All returns the registered commands sorted by name for help listings.
func (t *Table) All() []*Registered {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]*Registered, len(t.commands))
	copy(all, t.commands)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func (t *Table) findLocked(name string) *Registered {
	for _, cmd := range t.commands {
		if cmd.Name == name {
			return cmd
		}
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd
			}
		}
	}
	return nil
}

// Parse splits a chat message into a command name and arguments. It returns
// ok=false if the message is not prefixed as a command. The remainder after
// the command token is split on single spaces.
func Parse(message string) (name string, args []string, ok bool) {
	if len(message) < 2 || message[0] != Prefix {
		return "", nil, false
	}
	fields := strings.Split(message[1:], " ")
	return fields[0], fields[1:], true
}
