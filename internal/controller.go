package internal

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/core"
	"github.com/lagoon-server/lagoon/internal/core/debug"
	"github.com/lagoon-server/lagoon/internal/data"
	"github.com/lagoon-server/lagoon/internal/plugin"
	"github.com/lagoon-server/lagoon/internal/plugin/chatcommands"
	"github.com/lagoon-server/lagoon/internal/plugin/playtime"
	"github.com/lagoon-server/lagoon/internal/server"
)

// Controller is the main entrypoint for lagoon. It's responsible for
// initializing the shared resources (database, logging, plugin bus) and
// launching the game server.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	db     *gorm.DB
	server *server.Server
}

func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	var err error
	// Set up the logger, which is shared by everything downstream.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	dataSource := c.Config.Database.Filename
	if c.Config.Database.Engine == "postgres" {
		dataSource = c.Config.DatabaseURL()
	}
	c.db, err = data.Initialize(
		c.Config.Database.Engine,
		dataSource,
		c.Config.Debugging.DatabaseLoggingEnabled,
	)
	if err != nil {
		return err
	}

	commands := command.NewTable(c.logger)
	bus := plugin.NewBus(c.logger, commands)
	if c.Config.Plugins.Enabled {
		c.declarePlugins(bus)
	}

	c.server = server.New(c.Config, c.logger, c.db, bus, commands)
	if err := c.server.Start(ctx); err != nil {
		return err
	}
	c.logger.Infof("waiting for players on %s", c.Config.ListenAddress())

	select {
	case <-ctx.Done():
		c.server.Stop()
		<-c.server.Done()
	case <-c.server.Done():
	}
	return nil
}

// Set up the built-in plugins.
func (c *Controller) declarePlugins(bus *plugin.Bus) {
	bus.Register(chatcommands.Registration())
	bus.Register(playtime.Registration(c.db))
}

func (c *Controller) Shutdown() {
	if c.db != nil {
		data.Shutdown(c.db)
	}
}
