// Package chatcommands is the built-in plugin carrying the server's
// administrative chat commands that are not part of the core table.
package chatcommands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
	"github.com/lagoon-server/lagoon/internal/plugin"
)

const usersPerPage = 10

// maxChalkEvents bounds the recent-activity ring kept for !chalkrecent.
const maxChalkEvents = 10

type chalkEvent struct {
	username string
	canvasID int64
	at       time.Time
}

type chatCommands struct {
	plugin.Base
	api       plugin.API
	startedAt time.Time

	chalkEvents []chalkEvent
}

// Registration declares the plugin to the bus.
func Registration() plugin.Registration {
	return plugin.Registration{
		Name:   "chatcommands",
		Author: "Lagoon",
		New: func(api plugin.API) plugin.Plugin {
			return &chatCommands{api: api}
		},
	}
}

func (p *chatCommands) OnInit() {
	p.startedAt = time.Now()

	p.api.RegisterCommand("users", p.usersCommand, "players")
	p.api.SetCommandDescription("users", "Lists connected players, one page at a time")
	p.api.RegisterCommand("uptime", p.uptimeCommand)
	p.api.SetCommandDescription("uptime", "Shows how long the server has been running")
	p.api.RegisterCommand("say", p.sayCommand)
	p.api.SetCommandDescription("say", "Broadcasts a message as the server")
	p.api.RegisterCommand("steam", p.steamCommand)
	p.api.SetCommandDescription("steam", "Shows a player's Steam ID")
	p.api.RegisterCommand("chalkrecent", p.chalkRecentCommand, "recentchalk")
	p.api.SetCommandDescription("chalkrecent", "Shows who drew on the chalk canvases recently")
	p.api.RegisterCommand("reload", p.reloadCommand)
	p.api.SetCommandDescription("reload", "Reloads all plugins")
	p.api.RegisterCommand("plugins", p.pluginsCommand)
	p.api.SetCommandDescription("plugins", "Lists the loaded plugins")
}

func (p *chatCommands) OnNetworkPacket(sender *player.Player, packet *godot.Dictionary) {
	if sender == nil || packet.StringField("type") != "chalk_packet" {
		return
	}
	p.chalkEvents = append(p.chalkEvents, chalkEvent{
		username: sender.Username,
		canvasID: packet.IntField("canvas_id"),
		at:       time.Now(),
	})
	if len(p.chalkEvents) > maxChalkEvents {
		p.chalkEvents = p.chalkEvents[len(p.chalkEvents)-maxChalkEvents:]
	}
}

func (p *chatCommands) requireAdmin(sender *player.Player) bool {
	if p.api.IsAdmin(sender.SteamID) {
		return true
	}
	p.api.MessagePlayer("You are not the host!", sender.SteamID)
	return false
}

func (p *chatCommands) usersCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}

	players := p.api.Players()
	pageCount := (len(players) + usersPerPage - 1) / usersPerPage
	if pageCount == 0 {
		pageCount = 1
	}

	page := 1
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 || parsed > pageCount {
			p.api.MessagePlayer(fmt.Sprintf("Pick a page between 1 and %d!", pageCount), sender.SteamID)
			return
		}
		page = parsed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Players (page %d of %d):", page, pageCount)
	start := (page - 1) * usersPerPage
	end := start + usersPerPage
	if end > len(players) {
		end = len(players)
	}
	for _, connected := range players[start:end] {
		fmt.Fprintf(&b, "\n[%s] %s", connected.FisherID, connected.Username)
	}
	p.api.MessagePlayer(b.String(), sender.SteamID)
}

func (p *chatCommands) uptimeCommand(sender *player.Player, args []string) {
	uptime := time.Since(p.startedAt).Round(time.Second)
	p.api.MessagePlayer(fmt.Sprintf("Server uptime: %s", uptime), sender.SteamID)
}

func (p *chatCommands) sayCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}
	if len(args) == 0 {
		p.api.MessagePlayer("Say what?", sender.SteamID)
		return
	}
	p.api.MessageGlobal(fmt.Sprintf("[Server] %s", strings.Join(args, " ")))
}

func (p *chatCommands) steamCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}
	if len(args) == 0 {
		p.api.MessagePlayer("Give me a player name!", sender.SteamID)
		return
	}
	target := p.api.FindPlayer(args[0])
	if target == nil {
		p.api.MessagePlayer("That's not a player!", sender.SteamID)
		return
	}
	p.api.MessagePlayer(fmt.Sprintf("%s is %d", target.Username, target.SteamID), sender.SteamID)
}

func (p *chatCommands) chalkRecentCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}
	if len(p.chalkEvents) == 0 {
		p.api.MessagePlayer("Nobody has drawn anything recently.", sender.SteamID)
		return
	}

	var b strings.Builder
	b.WriteString("Recent chalk activity:")
	for i := len(p.chalkEvents) - 1; i >= 0; i-- {
		event := p.chalkEvents[i]
		ago := time.Since(event.at).Round(time.Second)
		fmt.Fprintf(&b, "\n%s drew on canvas %d (%s ago)", event.username, event.canvasID, ago)
	}
	p.api.MessagePlayer(b.String(), sender.SteamID)
}

func (p *chatCommands) pluginsCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}
	var b strings.Builder
	b.WriteString("Loaded plugins:")
	for _, reg := range p.api.Plugins() {
		fmt.Fprintf(&b, "\n%s by %s", reg.Name, reg.Author)
	}
	p.api.MessagePlayer(b.String(), sender.SteamID)
}

func (p *chatCommands) reloadCommand(sender *player.Player, args []string) {
	if !p.requireAdmin(sender) {
		return
	}
	p.api.MessagePlayer("Reloading plugins...", sender.SteamID)
	p.api.ReloadPlugins()
}
