// Package plugin defines the extension module surface: the hook interface
// plugins implement, the registration metadata they declare, and the event
// bus that fans server events out to every loaded instance.
package plugin

import (
	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
)

// ChatContext carries the extended chat hook data for plugins that declare
// the HandlesLocalChat capability.
type ChatContext struct {
	Local    bool
	Position godot.Vector3
	Zone     string
}

// Plugin is the hook surface exposed to extension modules. Every hook is
// optional; embed Base to get no-op defaults. Hooks execute synchronously on
// the polling worker, so they are expected to be non-blocking — a slow hook
// delays the sweep for every connection.
type Plugin interface {
	// OnInit is triggered when the plugin is started.
	OnInit()
	// OnEnd is triggered when the plugin is stopped or the server shuts down.
	// Plugins must release any resources they hold here so that a reload
	// starts from a clean slate.
	OnEnd()
	// OnUpdate is triggered on the server tick (12/s).
	OnUpdate()
	// OnChatMessage is triggered when a player sends a chat message.
	OnChatMessage(sender *player.Player, message string)
	// OnLocalChatMessage is the extended chat hook, delivered instead of
	// OnChatMessage to plugins registered with HandlesLocalChat.
	OnLocalChatMessage(sender *player.Player, message string, ctx ChatContext)
	// OnNetworkPacket is triggered once per inbound gameplay frame.
	OnNetworkPacket(sender *player.Player, packet *godot.Dictionary)
	// OnChalkUpdate is triggered when a chalk canvas changes.
	OnChalkUpdate(sender *player.Player, canvasID int64, data *godot.Dictionary)
	// OnPlayerJoin is triggered after a player authenticates.
	OnPlayerJoin(p *player.Player)
	// OnPlayerLeave is triggered after a player's teardown completes.
	OnPlayerLeave(p *player.Player)
	// OnPlayerBanned is triggered when a player is banned. The reason may be
	// empty if none was given.
	OnPlayerBanned(p *player.Player, reason string)
}

// Base is a no-op implementation of every hook, intended for embedding.
type Base struct{}

func (Base) OnInit()                                                   {}
func (Base) OnEnd()                                                    {}
func (Base) OnUpdate()                                                 {}
func (Base) OnChatMessage(*player.Player, string)                      {}
func (Base) OnLocalChatMessage(*player.Player, string, ChatContext)    {}
func (Base) OnNetworkPacket(*player.Player, *godot.Dictionary)         {}
func (Base) OnChalkUpdate(*player.Player, int64, *godot.Dictionary)    {}
func (Base) OnPlayerJoin(*player.Player)                               {}
func (Base) OnPlayerLeave(*player.Player)                              {}
func (Base) OnPlayerBanned(*player.Player, string)                     {}

// Registration declares a plugin to the bus: its identity, the capabilities
// it implements, and a constructor. Capabilities are declared here rather
// than detected at runtime so dispatch never needs reflection.
type Registration struct {
	Name   string
	Author string
	// HandlesLocalChat selects the extended chat hook variant.
	HandlesLocalChat bool
	// New constructs a fresh instance. Called once per load pass; a reload
	// constructs new instances rather than reusing old ones.
	New func(api API) Plugin
}

// API is the server surface exposed to plugins. The bus wraps it per instance
// so that commands registered by a plugin can be cleaned up when it unloads.
type API interface {
	// Players returns all currently connected, authenticated players.
	Players() []*player.Player
	// FindPlayer resolves a username or fisher ID to a connected player.
	FindPlayer(ident string) *player.Player

	// MessagePlayer delivers a chat message to one player.
	MessagePlayer(text string, steamID uint64)
	// MessageGlobal delivers a chat message to every player.
	MessageGlobal(text string)

	// SendPacketToPlayer delivers a gameplay packet to one player.
	SendPacketToPlayer(packet *godot.Dictionary, steamID uint64)
	// SendPacketToAll delivers a gameplay packet to every player.
	SendPacketToAll(packet *godot.Dictionary)

	// RegisterCommand adds a chat command to the command table.
	RegisterCommand(name string, handler command.Handler, aliases ...string)
	// UnregisterCommand removes a chat command from the command table.
	UnregisterCommand(name string)
	// SetCommandDescription attaches help text to a command.
	SetCommandDescription(name, description string)
	// CommandExists reports whether a command or alias is registered.
	CommandExists(name string) bool

	// KickPlayer disconnects a player from the server.
	KickPlayer(steamID uint64)
	// BanPlayer bans a player, persisting the ban and disconnecting them.
	BanPlayer(steamID uint64, reason string)
	// IsAdmin reports whether the identity has admin access.
	IsAdmin(steamID uint64) bool

	// ReloadPlugins unloads and reloads the full plugin set. Safe to call
	// from inside a hook; the reload is deferred until dispatch finishes.
	ReloadPlugins()
	// Plugins returns the registration metadata of every loaded plugin.
	Plugins() []Registration

	// Logf writes to the server log, tagged with the calling plugin's name.
	Logf(format string, args ...interface{})
}
