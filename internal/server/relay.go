package server

import (
	"strconv"

	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
	"github.com/lagoon-server/lagoon/internal/plugin"
)

// handleGameplay decodes an inbound gameplay frame and fans its payload out
// according to the target selector. Only authenticated connections receive
// copies; the plugin network-packet hook fires exactly once per inbound
// frame, not once per outbound copy.
func (s *Server) handleGameplay(c *Connection, body []byte) {
	value, err := godot.Unmarshal(body)
	if err != nil {
		// A payload that framed correctly but does not parse costs only that
		// frame; transport failures are what tear connections down.
		s.logger.Warnf("connection %s: malformed gameplay frame, dropping: %v", c.ID, err)
		return
	}

	envelope := value.Dict()
	if envelope == nil {
		s.logger.Warnf("connection %s: gameplay frame is not a dictionary, dropping", c.ID)
		return
	}

	payloadValue, _ := envelope.GetString("payload")
	packet := payloadValue.Dict()
	if packet == nil {
		s.logger.Warnf("connection %s: gameplay frame payload missing or invalid, dropping", c.ID)
		return
	}

	identity := envelope.IntField("identity")
	target := envelope.StringField("target")
	if target == "" {
		target = "all"
	}

	switch target {
	case "all", "steamlobby":
		s.broadcastGameplay(packet, identity)

	case "peers":
		for _, conn := range s.registry.Snapshot() {
			if conn.ID == c.ID || !conn.Authenticated() {
				continue
			}
			if err := s.sendGameplay(conn, packet, identity); err != nil {
				s.logger.Warnf("connection %s: send failed: %v", conn.ID, err)
			}
		}

	default:
		steamID, err := strconv.ParseUint(target, 10, 64)
		if err != nil {
			s.logger.Warnf("connection %s: unknown target %q in gameplay frame", c.ID, target)
			break
		}
		conn, ok := s.registry.FindBySteamID(steamID)
		if !ok {
			// Never buffered for later delivery.
			s.logger.Warnf("connection %s: gameplay target %d not connected, dropping", c.ID, steamID)
			break
		}
		if err := s.sendGameplay(conn, packet, identity); err != nil {
			s.logger.Warnf("connection %s: send failed: %v", conn.ID, err)
		}
	}

	s.inspectPacket(c, packet)
}

// inspectPacket gives the server's own consumers a look at the relayed
// payload: chat goes through the command table, chalk accumulates on the
// canvases, and plugins get the network-packet hook.
func (s *Server) inspectPacket(c *Connection, packet *godot.Dictionary) {
	sender := s.findPlayerBySteamID(c.SteamID())

	switch packet.StringField("type") {
	case "message":
		s.handleChat(sender, packet)
	case "chalk_packet":
		s.handleChalk(sender, packet)
	}

	s.bus.EmitNetworkPacket(sender, packet)
}

func (s *Server) handleChat(sender *player.Player, packet *godot.Dictionary) {
	message := packet.StringField("message")
	if sender == nil {
		s.logger.Warnf("chat message from connection with no roster entry: %q", message)
		return
	}

	s.logger.Infof("[%s] %s: %s", sender.FisherID, sender.Username, message)

	if name, args, ok := command.Parse(message); ok {
		if !s.commands.Invoke(sender, name, args) {
			s.MessagePlayer("Command not found!", sender.SteamID)
		}
	}

	localValue, _ := packet.GetString("local")
	positionValue, _ := packet.GetString("position")
	ctx := plugin.ChatContext{
		Local:    localValue.Bool(),
		Position: positionValue.Vector3(),
		Zone:     packet.StringField("zone"),
	}
	s.bus.EmitChatMessage(sender, message, ctx)
}

func (s *Server) handleChalk(sender *player.Player, packet *godot.Dictionary) {
	canvasID := packet.IntField("canvas_id")
	dataValue, _ := packet.GetString("data")
	cells := dataValue.Dict()
	if cells == nil {
		s.logger.Warnf("chalk packet without cell data, dropping")
		return
	}

	if !s.board.Apply(canvasID, cells) {
		s.logger.Warnf("chalk packet for out-of-range canvas %d, dropping", canvasID)
		return
	}
	s.bus.EmitChalkUpdate(sender, canvasID, cells)
}
