package main

import (
	"errors"
	"flag"
	"os"

	"CTPayments/internal/config"
	"CTPayments/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("dir", "file://migrations", "migration source URL")
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		logging.New(logging.Config{}).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	m, err := migrate.New(*dir, cfg.DB.DSN)
	if err != nil {
		logger.Error("create migrator failed", "err", err)
		os.Exit(1)
	}
	defer m.Close()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("schema up to date")
	case err != nil:
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	default:
		version, dirty, _ := m.Version()
		logger.Info("migrations applied", "version", version, "dirty", dirty)
	}
}
