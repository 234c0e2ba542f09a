// Package player defines the logical player identity, which is independent of
// any particular live connection, plus the bookkeeping for recently
// disconnected players.
package player

import (
	"strconv"
	"strings"
	"time"
)

// State describes a player's connection state.
type State int

const (
	// Connected players have a live connection bound to them.
	Connected State = iota
	// DisconnectedRecent players left within the retention window and are
	// still surfaced by lookup commands.
	DisconnectedRecent
	// DisconnectedStale players left longer ago than the retention window.
	DisconnectedStale
)

// Player is a logical player identity. At most one live connection maps to a
// given Player at a time.
type Player struct {
	// SteamID is the stable external identity token from the platform.
	SteamID uint64
	// Username is the display name declared at authentication.
	Username string
	// FisherID is the short human-readable code used in logs and commands.
	FisherID string
	// State is the player's current connection state.
	State State
	// JoinedAt is when the player's current session began.
	JoinedAt time.Time
}

// New builds a Player for the given identity token and display name.
func New(steamID uint64, username string) *Player {
	return &Player{
		SteamID:  steamID,
		Username: username,
		FisherID: DeriveFisherID(steamID),
		State:    Connected,
		JoinedAt: time.Now().UTC(),
	}
}

// DeriveFisherID derives the short code for an identity token. The code is
// deterministic so that a player keeps the same ID across reconnects, which
// makes the delayed-ban command usable after they leave.
func DeriveFisherID(steamID uint64) string {
	code := strings.ToUpper(strconv.FormatUint(steamID, 36))
	if len(code) > 6 {
		code = code[len(code)-6:]
	}
	for len(code) < 6 {
		code = "0" + code
	}
	return code
}

// Previous is the retained record of a player who disconnected.
type Previous struct {
	SteamID  uint64
	Username string
	FisherID string
	// LeftAt is when the disconnect was processed.
	LeftAt time.Time
}

// FromPlayer builds the retention record for a departing player.
func FromPlayer(p *Player) *Previous {
	return &Previous{
		SteamID:  p.SteamID,
		Username: p.Username,
		FisherID: p.FisherID,
		LeftAt:   time.Now().UTC(),
	}
}
