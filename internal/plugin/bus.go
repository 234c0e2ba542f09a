package plugin

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
)

// Instance wraps one loaded plugin with its registration metadata and the
// commands it registered while running.
type Instance struct {
	Plugin       Plugin
	Registration Registration

	// commandNames tracks every command the instance registered through its
	// API so that unload can clean up anything the plugin forgot to.
	commandNames []string
}

// Name returns the plugin's declared name.
func (i *Instance) Name() string { return i.Registration.Name }

// Author returns the plugin's declared author.
func (i *Instance) Author() string { return i.Registration.Author }

// Bus owns the loaded plugin set and fans events out to it. Event dispatch is
// serialized on the polling worker's goroutine; the bus itself only guards
// the instance list so loads and shutdown can happen from the controller.
type Bus struct {
	logger   *logrus.Logger
	commands *command.Table

	mu            sync.Mutex
	registrations []Registration
	instances     []*Instance

	// dispatchDepth and pendingReload implement reload-from-inside-a-hook:
	// tearing the instance list down mid-iteration would corrupt dispatch, so
	// the reload is deferred until the outermost emit returns. Both fields
	// are only touched on the dispatch goroutine.
	dispatchDepth int
	pendingReload bool
	reloadAPI     API
}

// NewBus returns a bus with no registrations.
func NewBus(logger *logrus.Logger, commands *command.Table) *Bus {
	return &Bus{logger: logger, commands: commands}
}

// Register declares a plugin. Registrations are fixed for the process
// lifetime; loading and reloading constructs instances from them.
func (b *Bus) Register(reg Registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations = append(b.registrations, reg)
}

// LoadAll constructs an instance of every registered plugin and runs its init
// hook. Each instance gets an API wrapper that records command registrations
// for cleanup at unload.
func (b *Bus) LoadAll(api API) {
	b.mu.Lock()
	regs := make([]Registration, len(b.registrations))
	copy(regs, b.registrations)
	b.mu.Unlock()

	var loaded []*Instance
	for _, reg := range regs {
		inst := &Instance{Registration: reg}
		scoped := &instanceAPI{API: api, bus: b, instance: inst}
		inst.Plugin = reg.New(scoped)

		b.safely(inst, "OnInit", func() { inst.Plugin.OnInit() })
		b.logger.Infof("loaded plugin %s by %s", reg.Name, reg.Author)
		loaded = append(loaded, inst)
	}

	b.mu.Lock()
	b.instances = append(b.instances, loaded...)
	b.mu.Unlock()
}

// UnloadAll runs every instance's end hook and unregisters every command the
// instances registered. It is fully synchronous: when it returns, the command
// table holds no entries from the old instances, so a following load pass
// cannot hit spurious name collisions.
func (b *Bus) UnloadAll() {
	b.mu.Lock()
	instances := b.instances
	b.instances = nil
	b.mu.Unlock()

	for _, inst := range instances {
		b.safely(inst, "OnEnd", func() { inst.Plugin.OnEnd() })
		for _, name := range inst.commandNames {
			b.commands.Unregister(name)
		}
		b.logger.Infof("unloaded plugin %s", inst.Name())
	}
}

// Reload performs the two-phase reload: a complete unload pass, then a fresh
// load pass. When called from inside a hook it is deferred until the current
// dispatch finishes.
func (b *Bus) Reload(api API) {
	if b.dispatchDepth > 0 {
		b.pendingReload = true
		b.reloadAPI = api
		return
	}
	b.UnloadAll()
	b.LoadAll(api)
}

// Instances returns a snapshot of the loaded plugin set.
func (b *Bus) Instances() []*Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make([]*Instance, len(b.instances))
	copy(snapshot, b.instances)
	return snapshot
}

// EmitUpdate fires the tick hook.
func (b *Bus) EmitUpdate() {
	b.emit("OnUpdate", func(inst *Instance) { inst.Plugin.OnUpdate() })
}

// EmitChatMessage fires the chat hook, selecting the variant each plugin
// declared at registration.
func (b *Bus) EmitChatMessage(sender *player.Player, message string, ctx ChatContext) {
	b.emit("OnChatMessage", func(inst *Instance) {
		if inst.Registration.HandlesLocalChat {
			inst.Plugin.OnLocalChatMessage(sender, message, ctx)
		} else {
			inst.Plugin.OnChatMessage(sender, message)
		}
	})
}

// EmitNetworkPacket fires the gameplay packet hook.
func (b *Bus) EmitNetworkPacket(sender *player.Player, packet *godot.Dictionary) {
	b.emit("OnNetworkPacket", func(inst *Instance) { inst.Plugin.OnNetworkPacket(sender, packet) })
}

// EmitChalkUpdate fires the chalk canvas hook.
func (b *Bus) EmitChalkUpdate(sender *player.Player, canvasID int64, data *godot.Dictionary) {
	b.emit("OnChalkUpdate", func(inst *Instance) { inst.Plugin.OnChalkUpdate(sender, canvasID, data) })
}

// EmitPlayerJoin fires the join hook.
func (b *Bus) EmitPlayerJoin(p *player.Player) {
	b.emit("OnPlayerJoin", func(inst *Instance) { inst.Plugin.OnPlayerJoin(p) })
}

// EmitPlayerLeave fires the leave hook.
func (b *Bus) EmitPlayerLeave(p *player.Player) {
	b.emit("OnPlayerLeave", func(inst *Instance) { inst.Plugin.OnPlayerLeave(p) })
}

// EmitPlayerBanned fires the ban hook.
func (b *Bus) EmitPlayerBanned(p *player.Player, reason string) {
	b.emit("OnPlayerBanned", func(inst *Instance) { inst.Plugin.OnPlayerBanned(p, reason) })
}

// emit runs hook for every loaded instance. A panicking plugin is isolated:
// the failure is logged and the remaining plugins still run.
func (b *Bus) emit(hook string, fn func(*Instance)) {
	b.dispatchDepth++
	for _, inst := range b.Instances() {
		b.safely(inst, hook, func() { fn(inst) })
	}
	b.dispatchDepth--

	if b.dispatchDepth == 0 && b.pendingReload {
		b.pendingReload = false
		api := b.reloadAPI
		b.reloadAPI = nil
		b.UnloadAll()
		b.LoadAll(api)
	}
}

func (b *Bus) safely(inst *Instance, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("plugin %s: %s hook panicked: %v", inst.Name(), hook, r)
		}
	}()
	fn()
}

// instanceAPI scopes the server API to one plugin instance, recording command
// registrations and tagging log lines.
type instanceAPI struct {
	API
	bus      *Bus
	instance *Instance
}

func (a *instanceAPI) RegisterCommand(name string, handler command.Handler, aliases ...string) {
	a.API.RegisterCommand(name, handler, aliases...)
	a.instance.commandNames = append(a.instance.commandNames, name)
}

func (a *instanceAPI) UnregisterCommand(name string) {
	a.API.UnregisterCommand(name)
	for i, n := range a.instance.commandNames {
		if n == name {
			a.instance.commandNames = append(a.instance.commandNames[:i], a.instance.commandNames[i+1:]...)
			break
		}
	}
}

func (a *instanceAPI) Logf(format string, args ...interface{}) {
	a.bus.logger.Infof("["+a.instance.Name()+"] "+format, args...)
}
