package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/clientpatch/internal/core"
	"github.com/dcrodman/clientpatch/internal/core/data"
)

// app holds what every subcommand needs: the loaded config, a logger and the
// patch ledger.
type app struct {
	cfg *core.Config
	log *logrus.Logger
	db  *gorm.DB
}

func exitWithError(msg string, err error) {
	fmt.Printf("%s: %v\n", msg, err)
	os.Exit(1)
}

func setup() *app {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		exitWithError("error loading config", err)
	}
	if err := os.MkdirAll(cfg.ConfigDir, 0755); err != nil {
		exitWithError("error creating config directory", err)
	}
	log, err := core.NewLogger(cfg)
	if err != nil {
		exitWithError("error initializing logger", err)
	}

	source := cfg.DatabaseFile()
	if cfg.Database.Engine == data.EnginePostgres {
		source = cfg.DatabaseURL()
	}
	dialector, err := data.Dialector(cfg.Database.Engine, source)
	if err != nil {
		exitWithError("error initializing database", err)
	}
	db, err := data.Open(dialector, cfg.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		exitWithError("error initializing database", err)
	}
	return &app{cfg: cfg, log: log, db: db}
}

func (a *app) close() {
	if err := data.Close(a.db); err != nil {
		a.log.WithError(err).Warn("error closing database")
	}
}
