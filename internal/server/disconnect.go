package server

import (
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
)

// Disconnect is the single teardown entry point for a connection, reached
// from the liveness check, mid-read errors, kicks, bans, and takeovers.
// Registry removal happens first and gates the rest, so invoking it twice on
// the same connection fires teardown events exactly once.
func (s *Server) Disconnect(c *Connection, reason string) {
	if !s.registry.Remove(c.ID) {
		return
	}

	// Best effort; the handle may already be broken.
	c.Close()

	if !c.Authenticated() {
		s.logger.Infof("disconnected unauthenticated connection %s (%s)", c.ID, reason)
		return
	}

	steamID := c.SteamID()
	p := s.findPlayerBySteamID(steamID)
	if p == nil {
		s.logger.Warnf("disconnected connection %s for identity %d with no roster entry (%s)", c.ID, steamID, reason)
		return
	}

	s.logger.Infof("[%s] %s disconnected (%s)", p.FisherID, p.Username, reason)

	s.bus.EmitPlayerLeave(p)

	leftPacket := godot.NewDictionary()
	leftPacket.SetString("type", godot.String("peer_left"))
	leftPacket.SetString("user_id", godot.Int(int64(steamID)))
	s.broadcastGameplay(leftPacket, 0)

	s.removePlayer(steamID)
	p.State = player.DisconnectedRecent
	s.previous.Record(player.FromPlayer(p))
}
