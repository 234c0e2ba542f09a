// Package playtime is the built-in plugin that tracks how long each player
// spends on the server and answers the !playtime command from those records.
package playtime

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lagoon-server/lagoon/internal/data"
	"github.com/lagoon-server/lagoon/internal/player"
	"github.com/lagoon-server/lagoon/internal/plugin"
)

// autosaveInterval bounds how much playtime a crash can lose.
const autosaveInterval = 5 * time.Minute

const leaderboardSize = 5

type playtimeTracker struct {
	plugin.Base
	api plugin.API
	db  *gorm.DB

	sessions     map[uint64]time.Time
	lastAutosave time.Time
	now          func() time.Time
}

// Registration declares the plugin to the bus. The database handle is
// captured at registration so reloads keep writing to the same store.
func Registration(db *gorm.DB) plugin.Registration {
	return plugin.Registration{
		Name:   "playtime",
		Author: "Lagoon",
		New: func(api plugin.API) plugin.Plugin {
			return &playtimeTracker{
				api:      api,
				db:       db,
				sessions: make(map[uint64]time.Time),
				now:      time.Now,
			}
		},
	}
}

func (p *playtimeTracker) OnInit() {
	p.lastAutosave = p.now()

	// Players already connected when the plugin loads (a reload) start a
	// fresh session from now; their earlier time was flushed by OnEnd.
	for _, connected := range p.api.Players() {
		p.sessions[connected.SteamID] = p.now()
	}

	p.api.RegisterCommand("playtime", p.playtimeCommand, "toptime")
	p.api.SetCommandDescription("playtime", "Shows your total playtime and the leaderboard")
}

func (p *playtimeTracker) OnEnd() {
	p.flushAll()
}

func (p *playtimeTracker) OnUpdate() {
	if p.now().Sub(p.lastAutosave) < autosaveInterval {
		return
	}
	p.flushAll()
}

func (p *playtimeTracker) OnPlayerJoin(joined *player.Player) {
	p.sessions[joined.SteamID] = p.now()
}

func (p *playtimeTracker) OnPlayerLeave(left *player.Player) {
	startedAt, ok := p.sessions[left.SteamID]
	if !ok {
		return
	}
	delete(p.sessions, left.SteamID)
	p.record(left.SteamID, left.Username, p.now().Sub(startedAt))
}

// flushAll persists every open session and restarts its clock.
func (p *playtimeTracker) flushAll() {
	now := p.now()
	p.lastAutosave = now
	for _, connected := range p.api.Players() {
		startedAt, ok := p.sessions[connected.SteamID]
		if !ok {
			continue
		}
		p.sessions[connected.SteamID] = now
		p.record(connected.SteamID, connected.Username, now.Sub(startedAt))
	}
}

func (p *playtimeTracker) record(steamID uint64, username string, elapsed time.Duration) {
	if err := data.AddPlaytime(p.db, steamID, username, elapsed); err != nil {
		p.api.Logf("failed to record playtime for %d: %v", steamID, err)
	}
}

func (p *playtimeTracker) playtimeCommand(sender *player.Player, args []string) {
	// Fold the open session into the reply without waiting for a flush.
	sessionTime := time.Duration(0)
	if startedAt, ok := p.sessions[sender.SteamID]; ok {
		sessionTime = p.now().Sub(startedAt)
	}

	total := sessionTime
	if stored, err := data.FindPlaytime(p.db, sender.SteamID); err != nil {
		p.api.Logf("failed to look up playtime for %d: %v", sender.SteamID, err)
	} else if stored != nil {
		total += stored.Total()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your playtime: %s", formatPlaytime(total))

	top, err := data.TopPlaytimes(p.db, leaderboardSize)
	if err != nil {
		p.api.Logf("failed to load the playtime leaderboard: %v", err)
	}
	if len(top) > 0 {
		b.WriteString("\nMost time on the water:")
		for i, entry := range top {
			fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, entry.Username, formatPlaytime(entry.Total()))
		}
	}
	p.api.MessagePlayer(b.String(), sender.SteamID)
}

func formatPlaytime(d time.Duration) string {
	seconds := int64(d / time.Second)
	return fmt.Sprintf("%02dh:%02dm:%02ds", seconds/3600, (seconds%3600)/60, seconds%60)
}
