package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/leafsii/nft-marketplace/internal/config"
	"github.com/leafsii/nft-marketplace/internal/log"
	"github.com/leafsii/nft-marketplace/internal/repository"
)

const usage = `Usage: migrate [-dir sql] [-dsn postgres://...] COMMAND

Commands:
  up       apply all pending archive migrations
  down     roll back the latest migration
  redo     roll back and re-apply the latest migration
  reset    roll back every migration
  status   print applied and pending migrations
  version  print the current schema version`

func main() {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := flags.String("dir", "sql", "directory with migration files")
	dsn := flags.String("dsn", "", "postgres DSN (defaults to MKT_POSTGRES_DSN)")
	flags.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *dsn == "" {
		*dsn = cfg.Database.PostgresDSN
	}
	if *dsn == "" {
		logger.Fatal("No archive database configured: set MKT_POSTGRES_DSN or -dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, *dsn)
	if err != nil {
		logger.Fatalw("Failed to open archive database", "error", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatalw("Failed to set dialect", "error", err)
	}

	command := flags.Arg(0)
	var run func() error
	switch command {
	case "up":
		run = func() error { return goose.Up(db, *dir) }
	case "down":
		run = func() error { return goose.Down(db, *dir) }
	case "redo":
		run = func() error { return goose.Redo(db, *dir) }
	case "reset":
		run = func() error { return goose.Reset(db, *dir) }
	case "status":
		run = func() error { return goose.Status(db, *dir) }
	case "version":
		run = func() error { return goose.Version(db, *dir) }
	default:
		logger.Fatalw("Unknown command", "command", command)
	}

	if err := run(); err != nil {
		logger.Fatalw("Migration failed", "command", command, "dir", *dir, "error", err)
	}
	logger.Infow("Migration finished", "command", command, "dir", *dir)
}
