// This script is a small convenience tool for manipulating bans in the
// configured server database without going through the in-game commands.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/lagoon-server/lagoon/internal/core"
	"github.com/lagoon-server/lagoon/internal/data"

	"gorm.io/gorm"
)

var (
	add        = flag.Bool("add", false, "Ban a Steam ID.")
	remove     = flag.Bool("remove", false, "Lift a ban.")
	list       = flag.Bool("list", false, "List all bans.")
	help       = flag.Bool("help", false, "Print this usage info.")
	configFlag = flag.String("config", "./", "Path to the directory containing the server config file")
)

func initDataSource(config *core.Config) (*gorm.DB, func(), error) {
	dataSource := config.Database.Filename
	if config.Database.Engine == "postgres" {
		dataSource = config.DatabaseURL()
	}
	db, err := data.Initialize(config.Database.Engine, dataSource, false)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { data.Shutdown(db) }, nil
}

func main() {
	flag.Parse()

	if help != nil && *help {
		flag.Usage()
		os.Exit(0)
	}

	db, cleanup, err := initDataSource(core.LoadConfig(*configFlag))
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer cleanup()

	// defer so os.Exit doesn't prevent our clean up.
	retCode := 0
	defer func() {
		os.Exit(retCode)
	}()

	switch {
	case add != nil && *add:
		steamID := scanSteamID()
		reason := scanInput("Reason")
		if err = addBan(db, steamID, reason); err != nil {
			retCode = 1
			fmt.Println(err.Error())
		}
	case remove != nil && *remove:
		if err = removeBan(db, scanSteamID()); err != nil {
			retCode = 1
			fmt.Println(err.Error())
		}
	case list != nil && *list:
		if err = listBans(db); err != nil {
			retCode = 1
			fmt.Println(err.Error())
		}
	default:
		flag.Usage()
		retCode = 1
	}
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text()
}

func scanSteamID() uint64 {
	steamID, err := strconv.ParseUint(scanInput("Steam ID"), 10, 64)
	if err != nil {
		fmt.Println("that's not a Steam ID")
		os.Exit(1)
	}
	return steamID
}

func addBan(db *gorm.DB, steamID uint64, reason string) error {
	if err := data.SetBan(db, steamID, "", reason); err != nil {
		return fmt.Errorf("failed to record ban: %v", err)
	}
	fmt.Println("banned", steamID)
	return nil
}

func removeBan(db *gorm.DB, steamID uint64) error {
	if err := data.RemoveBan(db, steamID); err != nil {
		return fmt.Errorf("failed to lift ban: %v", err)
	}
	fmt.Println("unbanned", steamID)
	return nil
}

func listBans(db *gorm.DB) error {
	bans, err := data.AllBans(db)
	if err != nil {
		return fmt.Errorf("failed to list bans: %v", err)
	}
	if len(bans) == 0 {
		fmt.Println("no bans on record")
		return nil
	}
	for _, ban := range bans {
		name := ban.Username
		if name == "" {
			name = "(unknown)"
		}
		fmt.Printf("%d  %s  %s  banned %s\n",
			ban.SteamID, name, ban.Reason, ban.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
