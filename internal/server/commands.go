package server

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lagoon-server/lagoon/internal/player"
)

// steamIDPattern matches 64-bit individual Steam account IDs.
var steamIDPattern = regexp.MustCompile(`^7656119\d{10}$`)

var titler = cases.Title(language.AmericanEnglish)

// registerDefaultCommands installs the built-in chat commands: help,
// exit/shutdown, kick, ban, and prev/recent.
func (s *Server) registerDefaultCommands() {
	s.commands.Register("help", func(sender *player.Player, args []string) {
		var sb strings.Builder
		sb.WriteString(titler.String("commands:") + "\n")
		for _, cmd := range s.commands.All() {
			fmt.Fprintf(&sb, "%s - %s\n", cmd.Name, cmd.Description)
		}
		s.MessagePlayer(sb.String(), sender.SteamID)
	})
	s.commands.SetDescription("help", "Shows all commands")

	s.commands.Register("exit", func(sender *player.Player, args []string) {
		if !s.IsAdmin(sender.SteamID) {
			s.MessagePlayer("You are not the host!", sender.SteamID)
			return
		}
		s.MessagePlayer("Server is shutting down!", sender.SteamID)
		s.Stop()
	}, "shutdown")
	s.commands.SetDescription("exit", "Shuts down the server (host only)")

	s.commands.Register("kick", func(sender *player.Player, args []string) {
		if !s.IsAdmin(sender.SteamID) {
			return
		}
		ident := strings.Join(args, " ")

		target := s.FindPlayer(ident)
		if target == nil && steamIDPattern.MatchString(ident) {
			steamID, _ := strconv.ParseUint(ident, 10, 64)
			s.MessagePlayer(fmt.Sprintf("Kicked %s", ident), sender.SteamID)
			s.KickPlayer(steamID)
			return
		}

		if target == nil {
			s.MessagePlayer("That's not a player!", sender.SteamID)
			return
		}
		s.MessagePlayer(fmt.Sprintf("Kicked %s", target.Username), sender.SteamID)
		s.KickPlayer(target.SteamID)
	})
	s.commands.SetDescription("kick", "Kicks a player from the server")

	s.commands.Register("ban", func(sender *player.Player, args []string) {
		if !s.IsAdmin(sender.SteamID) {
			return
		}

		raw := strings.Join(args, " ")
		reason := ""
		// An optional reason rides between the first and last double quote,
		// so admins can quote the target's offending message inside it.
		if strings.Count(raw, `"`) >= 2 {
			first := strings.Index(raw, `"`)
			last := strings.LastIndex(raw, `"`)
			reason = strings.TrimSpace(raw[first+1 : last])
			raw = raw[:first] + raw[last+1:]
		} else if len(args) > 1 {
			s.MessagePlayer("Error banning player: If you want to add a reason, please wrap it in quotes.", sender.SteamID)
			return
		}
		ident := strings.TrimSpace(raw)

		target := s.FindPlayer(ident)

		// A bare fisher ID could mean a recently departed player; require the
		// '#' prefix so a typo can't ban the wrong person.
		if target == nil {
			if _, ok := s.previous.FindByFisherID(ident); ok {
				s.MessagePlayer(fmt.Sprintf("There is a previous player with that name, if you meant to ban them add a # before the ID: #%s", ident), sender.SteamID)
				return
			}
			if strings.HasPrefix(ident, "#") {
				if prev, ok := s.previous.FindByFisherID(strings.TrimPrefix(ident, "#")); ok {
					s.BanPlayer(prev.SteamID, reason)
					s.MessagePlayer(fmt.Sprintf("Banned %s", prev.Username), sender.SteamID)
					s.MessageGlobal(fmt.Sprintf("%s has been banned from the server.", prev.Username))
					return
				}
			}
		}

		if target == nil && steamIDPattern.MatchString(ident) {
			steamID, _ := strconv.ParseUint(ident, 10, 64)
			s.BanPlayer(steamID, reason)
			s.MessagePlayer(fmt.Sprintf("Banned player with Steam ID %s", ident), sender.SteamID)
			return
		}

		if target == nil {
			s.MessagePlayer("Player not found!", sender.SteamID)
			return
		}

		s.BanPlayer(target.SteamID, reason)
		s.MessagePlayer(fmt.Sprintf("Banned %s", target.Username), sender.SteamID)
		s.MessageGlobal(fmt.Sprintf("%s has been banned from the server.", target.Username))
	})
	s.commands.SetDescription("ban", "Bans a player from the server")

	s.commands.Register("prev", func(sender *player.Player, args []string) {
		if !s.IsAdmin(sender.SteamID) {
			return
		}
		var sb strings.Builder
		sb.WriteString(titler.String("previous players:") + "\n")
		for _, prev := range s.previous.All() {
			if s.findPlayerBySteamID(prev.SteamID) != nil {
				continue
			}
			minutes := int(math.Round(time.Since(prev.LeftAt).Minutes()))
			fmt.Fprintf(&sb, "%s (%s) - Left: %d minutes ago\n", prev.Username, prev.FisherID, minutes)
		}
		s.MessagePlayer(sb.String(), sender.SteamID)
	}, "recent")
	s.commands.SetDescription("prev", "Shows a list of previous players that were connected to the server")
}
