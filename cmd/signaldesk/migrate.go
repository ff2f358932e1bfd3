package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/signaldesk/signaldesk/internal/adapter/postgres"
	"github.com/signaldesk/signaldesk/internal/config"
)

// runMigrate dispatches migration subcommands (up, down, status). The
// server applies pending migrations on boot; these exist for operating
// the schema without starting the full process.
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	switch args[0] {
	case "up":
		return runMigrateUp()
	case "down":
		return runMigrateDown(args[1:])
	case "status":
		return runMigrateStatus()
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: signaldesk migrate <command> [options]

Commands:
  up       Apply all pending migrations
  down     Roll back migrations
  status   Print the current schema version
  help     Show this help message

Examples:
  signaldesk migrate up
  signaldesk migrate down --steps 1
  signaldesk migrate status
`)
}

func migrateDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Postgres.DSN, nil
}

func runMigrateUp() error {
	dsn, err := migrateDSN()
	if err != nil {
		return err
	}
	if err := postgres.RunMigrations(context.Background(), dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func runMigrateDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("steps must be >= 1, got %d", *steps)
	}

	dsn, err := migrateDSN()
	if err != nil {
		return err
	}
	if err := postgres.RollbackMigrations(context.Background(), dsn, *steps); err != nil {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	fmt.Printf("rolled back %d migration(s)\n", *steps)
	return nil
}

func runMigrateStatus() error {
	dsn, err := migrateDSN()
	if err != nil {
		return err
	}
	version, err := postgres.MigrationVersion(context.Background(), dsn)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	fmt.Printf("schema version: %d\n", version)
	return nil
}
