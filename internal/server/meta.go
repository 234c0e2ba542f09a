package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lagoon-server/lagoon/internal/data"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
)

type pongReply struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

type authenticateReply struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

type memberEntry struct {
	SteamID  uint64 `json:"steam_id"`
	Username string `json:"username"`
}

type membersReply struct {
	Action  string        `json:"action"`
	Members []memberEntry `json:"members"`
}

// handleMeta processes one session control message. Meta bodies are UTF-8
// JSON objects with an "action" field; unknown actions are logged and
// otherwise ignored.
func (s *Server) handleMeta(c *Connection, body []byte) error {
	// Steam IDs are above float64's integer precision, so numbers must stay
	// json.Number until they are parsed as uint64.
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var request map[string]interface{}
	if err := decoder.Decode(&request); err != nil {
		return fmt.Errorf("parsing meta packet: %w", err)
	}

	action, _ := request["action"].(string)
	switch action {
	case "ping":
		return s.sendMeta(c, pongReply{
			Action:    "pong",
			Timestamp: time.Now().UnixMilli(),
		})

	case "authenticate":
		steamID := coerceUint64(request["steam_id"])
		username, _ := request["username"].(string)
		return s.handleAuthenticate(c, steamID, username)

	case "members":
		reply := membersReply{Action: "members_response"}
		for _, conn := range s.registry.Snapshot() {
			if !conn.Authenticated() {
				continue
			}
			reply.Members = append(reply.Members, memberEntry{
				SteamID:  conn.SteamID(),
				Username: conn.DisplayName(),
			})
		}
		// The client refuses to progress on an empty roster, so the reply
		// always carries a placeholder entry.
		reply.Members = append(reply.Members, memberEntry{SteamID: 0, Username: "Lagoon"})
		return s.sendMeta(c, reply)

	default:
		s.logger.Warnf("connection %s: unknown meta action %q", c.ID, action)
		return nil
	}
}

// handleAuthenticate binds an identity to the connection and announces the
// join. A second authenticate for an identity already bound to another live
// connection supersedes it: the old connection is disconnected.
func (s *Server) handleAuthenticate(c *Connection, steamID uint64, username string) error {
	if steamID == 0 || username == "" {
		s.logger.Warnf("connection %s: malformed authenticate request, ignoring", c.ID)
		return nil
	}

	if s.db != nil {
		banned, err := data.IsBanned(s.db, steamID)
		if err != nil {
			return fmt.Errorf("checking ban for %d: %w", steamID, err)
		}
		if banned {
			s.logger.Infof("connection %s: banned identity %d attempted to join", c.ID, steamID)
			s.Disconnect(c, "banned")
			return nil
		}
	}

	s.logger.Infof("connection %s is authenticating as %s with SteamID %d", c.ID, username, steamID)

	if old, ok := s.registry.FindBySteamID(steamID); ok && old.ID != c.ID {
		s.logger.Infof("identity %d reconnected, superseding connection %s", steamID, old.ID)
		s.Disconnect(old, "superseded by new connection")
	}

	// Re-authentication on the same connection rebinds the identity; the
	// roster entry for the previously bound identity goes away with it.
	if c.Authenticated() {
		s.removePlayer(c.SteamID())
	}

	c.Authenticate(steamID, username)
	if err := s.sendMeta(c, authenticateReply{Action: "authenticate_response", Status: "success"}); err != nil {
		return err
	}

	p := player.New(steamID, username)
	s.addPlayer(p)

	// At most one retained record per identity: stale records sharing the
	// fisher ID or the Steam ID are pruned before this session is recorded.
	s.previous.RemoveByFisherID(p.FisherID)
	s.previous.RemoveBySteamID(steamID)
	s.previous.Record(player.FromPlayer(p))

	joinedPacket := godot.NewDictionary()
	joinedPacket.SetString("type", godot.String("user_joined_weblobby"))
	joinedPacket.SetString("user_id", godot.Int(int64(steamID)))
	s.broadcastGameplay(joinedPacket, 0)

	s.broadcastGameplay(s.weblobbyPacket(), 0)

	if s.config.Server.JoinMessage != "" {
		s.MessagePlayer(s.config.Server.JoinMessage, steamID)
	}

	// Late joiners receive the accumulated chalk drawings.
	for _, canvas := range s.board.Canvases() {
		if canvas.Len() == 0 {
			continue
		}
		if err := s.sendGameplay(c, canvas.Packet(true), 0); err != nil {
			s.logger.Warnf("connection %s: chalk replay failed: %v", c.ID, err)
		}
	}

	s.bus.EmitPlayerJoin(p)
	return nil
}

// weblobbyPacket builds the full roster snapshot: the server identity first,
// then every live player in join order.
func (s *Server) weblobbyPacket() *godot.Dictionary {
	members := godot.NewDictionary()
	members.Set(godot.Int(0), godot.Int(int64(serverSteamID)))
	for i, p := range s.Players() {
		members.Set(godot.Int(int64(i+1)), godot.Int(int64(p.SteamID)))
	}

	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("receive_weblobby"))
	packet.SetString("weblobby", godot.Dict(members))
	return packet
}

// coerceUint64 accepts the identity token as either a JSON string or number;
// clients have been observed sending both.
func coerceUint64(v interface{}) uint64 {
	switch value := v.(type) {
	case string:
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0
		}
		return id
	case json.Number:
		id, err := strconv.ParseUint(value.String(), 10, 64)
		if err != nil {
			return 0
		}
		return id
	}
	return 0
}
