package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/richxcame/giftcard-ledger/pkg/config"
	"github.com/richxcame/giftcard-ledger/pkg/database"
	"github.com/richxcame/giftcard-ledger/pkg/logger"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: migrate [-steps n] up|down|version\n")
	flag.PrintDefaults()
}

func main() {
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load("giftcards-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Server.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = database.MigrateUp(pool)
	case "down":
		if *steps < 1 {
			logger.Fatal("steps must be positive", zap.Int("steps", *steps))
		}
		err = database.MigrateDown(pool, *steps)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = database.MigrationVersion(pool)
		if err == nil {
			logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
	logger.Info("Migration command completed", zap.String("command", flag.Arg(0)))
}
