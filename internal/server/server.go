// Package server implements the connection and protocol dispatch engine: the
// accept loop, the connection registry, the polling worker that frames and
// routes traffic, session authentication, the gameplay relay, and disconnect
// teardown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lagoon-server/lagoon/internal/chalk"
	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/core"
	"github.com/lagoon-server/lagoon/internal/data"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
	"github.com/lagoon-server/lagoon/internal/plugin"
	"github.com/lagoon-server/lagoon/internal/protocol"
)

// serverSteamID is the identity the server itself occupies in lobby rosters.
const serverSteamID uint64 = 0

const (
	// idleSleep is how long the polling worker yields when a sweep found no
	// work on any connection.
	idleSleep = 10 * time.Millisecond
	// updateInterval paces the plugin OnUpdate hook at roughly 12/s, the rate
	// the game itself ticks hosts at.
	updateInterval = time.Second / 12
	// frameReadTimeout bounds how long the worker waits for a frame body that
	// has started arriving to complete.
	frameReadTimeout = 2 * time.Second
)

// Server owns the listener, the connection registry, the player roster, and
// the polling worker. It is the plugin.API implementation handed to plugins.
type Server struct {
	config   *core.Config
	logger   *logrus.Logger
	db       *gorm.DB
	registry *Registry
	commands *command.Table
	bus      *plugin.Bus
	board    *chalk.Board
	previous *player.PreviousRoster

	mu      sync.Mutex
	players []*player.Player

	listener  net.Listener
	startedAt time.Time

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

// New builds a Server and registers the default chat commands. The database
// handle may be nil, in which case bans and other persisted state are
// unavailable but the traffic path still works.
func New(cfg *core.Config, logger *logrus.Logger, db *gorm.DB, bus *plugin.Bus, commands *command.Table) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: NewRegistry(),
		commands: commands,
		bus:      bus,
		board:    chalk.NewBoard(),
		previous: player.NewPreviousRoster(),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.registerDefaultCommands()
	return s
}

// Start begins listening and launches the accept loop and the polling worker.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddress())
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.config.ListenAddress(), err)
	}
	s.listener = listener
	s.startedAt = time.Now()

	s.logger.Infof("%s (game version %s) listening on %s",
		s.config.Server.Name, s.config.Server.GameVersion, s.config.ListenAddress())

	// Plugins load before the first sweep so no event can slip past them.
	s.bus.LoadAll(s)

	go s.acceptLoop()
	go s.run(ctx)
	return nil
}

// Done is closed once the server has fully stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// StartedAt returns when the server began accepting connections.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// Board returns the shared chalk canvases.
func (s *Server) Board() *chalk.Board {
	return s.board
}

// Stop requests shutdown. The teardown itself runs on the polling worker so
// plugin end hooks never execute concurrently with traffic hooks; Done is
// closed once it completes. Safe to call more than once and from inside a
// command handler.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("server was told to stop")
		close(s.stopping)
	})
}

// shutdown is the polling worker's final act: broadcast the close
// notification, unload every plugin, and tear down the remaining connections.
// Running it on the worker keeps every plugin hook, OnEnd included, on one
// goroutine.
func (s *Server) shutdown() {
	// Mark the stop so the accept loop treats the listener closing as
	// intentional (the context-cancel path never calls Stop itself).
	s.Stop()

	closePacket := godot.NewDictionary()
	closePacket.SetString("type", godot.String("server_close"))
	s.broadcastGameplay(closePacket, 0)

	s.bus.UnloadAll()

	for _, c := range s.registry.Snapshot() {
		s.registry.Remove(c.ID)
		c.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	close(s.done)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopping:
			default:
				s.logger.Errorf("error accepting connection: %v", err)
			}
			return
		}

		if s.registry.Len() >= s.config.Server.MaxPlayers {
			s.logger.Warnf("rejecting connection from %s: server is full", conn.RemoteAddr())
			conn.Close()
			continue
		}

		c := NewConnection(conn)
		s.registry.Add(c)
		s.logger.Infof("accepted connection %s from %s", c.ID, c.RemoteAddr())
	}
}

// run is the polling worker: one goroutine sweeping every connection, framing
// and dispatching whatever has arrived, and pacing the plugin update tick.
// When a stop is requested or the context ends, it performs the shutdown
// teardown before exiting.
func (s *Server) run(ctx context.Context) {
	defer s.shutdown()

	lastUpdate := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopping:
			return
		default:
		}

		didWork := s.sweep()

		if time.Since(lastUpdate) >= updateInterval {
			s.bus.EmitUpdate()
			lastUpdate = time.Now()
		}

		if !didWork {
			time.Sleep(idleSleep)
		}
	}
}

// sweep visits a snapshot of every connection once: liveness check, then
// drain every frame that has already arrived. Fairness is per sweep; one
// noisy connection cannot starve the rest beyond a single pass. Reports
// whether any connection had work.
func (s *Server) sweep() bool {
	didWork := false
	for _, c := range s.registry.Snapshot() {
		if c.Closed() {
			s.Disconnect(c, "connection closed")
			continue
		}

		hasData, err := c.HasData()
		if err != nil {
			s.Disconnect(c, fmt.Sprintf("liveness check failed: %v", err))
			continue
		}

		for hasData {
			didWork = true
			frame, err := c.ReadFrame(frameReadTimeout)
			if err != nil {
				s.logger.Warnf("connection %s: read error, treating as disconnect: %v", c.ID, err)
				s.Disconnect(c, "read error")
				break
			}

			s.dispatch(c, frame)

			hasData = c.Buffered() > 0
		}
	}
	return didWork
}

func (s *Server) dispatch(c *Connection, frame protocol.Frame) {
	if s.config.Debugging.PacketLoggingEnabled {
		s.logger.Debugf("connection %s: received %c frame (%d bytes): % x",
			c.ID, byte(frame.Marker), len(frame.Payload), frame.Payload)
	}

	switch frame.Marker {
	case protocol.MarkerMeta:
		if err := s.handleMeta(c, frame.Payload); err != nil {
			s.logger.Warnf("connection %s: meta packet error: %v", c.ID, err)
		}
	case protocol.MarkerGameplay:
		if !c.Authenticated() {
			s.logger.Warnf("connection %s: gameplay frame from unauthenticated connection, dropping", c.ID)
			return
		}
		s.handleGameplay(c, frame.Payload)
	default:
		s.logger.Warnf("connection %s: unknown frame marker %q", c.ID, byte(frame.Marker))
	}
}

// Roster bookkeeping. The roster holds one Player per authenticated
// connection, in join order.

func (s *Server) addPlayer(p *player.Player) {
	s.mu.Lock()
	s.players = append(s.players, p)
	s.mu.Unlock()
}

func (s *Server) removePlayer(steamID uint64) *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.players {
		if p.SteamID == steamID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return p
		}
	}
	return nil
}

func (s *Server) findPlayerBySteamID(steamID uint64) *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.SteamID == steamID {
			return p
		}
	}
	return nil
}

// Players returns the connected players in join order.
func (s *Server) Players() []*player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]*player.Player, len(s.players))
	copy(players, s.players)
	return players
}

// FindPlayer resolves a username or fisher ID, case-insensitively, to a
// connected player. Usernames win when both match.
func (s *Server) FindPlayer(ident string) *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if strings.EqualFold(p.Username, ident) {
			return p
		}
	}
	for _, p := range s.players {
		if strings.EqualFold(p.FisherID, ident) {
			return p
		}
	}
	return nil
}

// Outbound framing.

func (s *Server) sendMeta(c *Connection, reply interface{}) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding meta reply: %w", err)
	}
	return c.SendFrame(protocol.MarkerMeta, body)
}

// sendGameplay wraps the packet in the outbound envelope and frames it.
// identity is the numeric sender hint forwarded from inbound frames; packets
// originated by the server use zero.
func (s *Server) sendGameplay(c *Connection, packet *godot.Dictionary, identity int64) error {
	envelope := godot.NewDictionary()
	envelope.SetString("payload", godot.Dict(packet))
	envelope.SetString("identity", godot.Int(identity))
	return c.SendFrame(protocol.MarkerGameplay, godot.Marshal(godot.Dict(envelope)))
}

// broadcastGameplay delivers the packet to every authenticated connection.
func (s *Server) broadcastGameplay(packet *godot.Dictionary, identity int64) {
	for _, c := range s.registry.Snapshot() {
		if !c.Authenticated() {
			continue
		}
		if err := s.sendGameplay(c, packet, identity); err != nil {
			s.logger.Warnf("connection %s: send failed: %v", c.ID, err)
		}
	}
}

func messagePacket(text string) *godot.Dictionary {
	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("message"))
	packet.SetString("message", godot.String(text))
	packet.SetString("color", godot.String("ffffff"))
	packet.SetString("local", godot.Bool(false))
	packet.SetString("position", godot.Vec3(godot.Vector3{}))
	packet.SetString("zone", godot.String("main_zone"))
	packet.SetString("zone_owner", godot.Int(1))
	return packet
}

// plugin.API implementation.

// MessagePlayer delivers a chat message to one connected player.
func (s *Server) MessagePlayer(text string, steamID uint64) {
	c, ok := s.registry.FindBySteamID(steamID)
	if !ok {
		s.logger.Warnf("cannot message %d: no live connection", steamID)
		return
	}
	if err := s.sendGameplay(c, messagePacket(text), 0); err != nil {
		s.logger.Warnf("connection %s: send failed: %v", c.ID, err)
	}
}

// MessageGlobal delivers a chat message to every connected player.
func (s *Server) MessageGlobal(text string) {
	s.broadcastGameplay(messagePacket(text), 0)
}

// SendPacketToPlayer delivers a gameplay packet to one connected player.
func (s *Server) SendPacketToPlayer(packet *godot.Dictionary, steamID uint64) {
	c, ok := s.registry.FindBySteamID(steamID)
	if !ok {
		s.logger.Warnf("cannot send packet to %d: no live connection", steamID)
		return
	}
	if err := s.sendGameplay(c, packet, 0); err != nil {
		s.logger.Warnf("connection %s: send failed: %v", c.ID, err)
	}
}

// SendPacketToAll delivers a gameplay packet to every connected player.
func (s *Server) SendPacketToAll(packet *godot.Dictionary) {
	s.broadcastGameplay(packet, 0)
}

// RegisterCommand adds a chat command to the command table.
func (s *Server) RegisterCommand(name string, handler command.Handler, aliases ...string) {
	s.commands.Register(name, handler, aliases...)
}

// UnregisterCommand removes a chat command.
func (s *Server) UnregisterCommand(name string) {
	s.commands.Unregister(name)
}

// SetCommandDescription attaches help text to a command.
func (s *Server) SetCommandDescription(name, description string) {
	s.commands.SetDescription(name, description)
}

// CommandExists reports whether a command or alias is registered.
func (s *Server) CommandExists(name string) bool {
	return s.commands.Exists(name)
}

// KickPlayer disconnects a player and announces the kick.
func (s *Server) KickPlayer(steamID uint64) {
	c, ok := s.registry.FindBySteamID(steamID)
	if !ok {
		s.logger.Warnf("cannot kick %d: no live connection", steamID)
		return
	}

	kickPacket := godot.NewDictionary()
	kickPacket.SetString("type", godot.String("kick"))
	s.sendGameplay(c, kickPacket, 0)

	if p := s.findPlayerBySteamID(steamID); p != nil {
		s.MessageGlobal(fmt.Sprintf("%s has been kicked from the server.", p.Username))
	}
	s.Disconnect(c, "kicked")
}

// BanPlayer persists a ban for the identity, fires the banned hook, and
// disconnects any live connection it has.
func (s *Server) BanPlayer(steamID uint64, reason string) {
	p := s.findPlayerBySteamID(steamID)
	username := ""
	if p != nil {
		username = p.Username
	} else if prev, ok := s.previous.FindBySteamID(steamID); ok {
		username = prev.Username
	}

	if s.db != nil {
		if err := data.SetBan(s.db, steamID, username, reason); err != nil {
			s.logger.Errorf("error persisting ban for %d: %v", steamID, err)
		}
	}

	if p == nil {
		p = player.New(steamID, username)
	}
	s.bus.EmitPlayerBanned(p, reason)

	if c, ok := s.registry.FindBySteamID(steamID); ok {
		banPacket := godot.NewDictionary()
		banPacket.SetString("type", godot.String("ban"))
		s.sendGameplay(c, banPacket, 0)
		s.Disconnect(c, "banned")
	}
}

// IsAdmin reports whether the identity is on the configured admin list.
func (s *Server) IsAdmin(steamID uint64) bool {
	return s.config.IsAdmin(steamID)
}

// ReloadPlugins unloads and reloads the plugin set. Safe to call from inside
// a plugin hook.
func (s *Server) ReloadPlugins() {
	s.bus.Reload(s)
}

// Plugins returns the registration metadata of every loaded plugin.
func (s *Server) Plugins() []plugin.Registration {
	instances := s.bus.Instances()
	regs := make([]plugin.Registration, 0, len(instances))
	for _, inst := range instances {
		regs = append(regs, inst.Registration)
	}
	return regs
}

// Logf writes to the server log on behalf of a plugin.
func (s *Server) Logf(format string, args ...interface{}) {
	s.logger.Infof(format, args...)
}
