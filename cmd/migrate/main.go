// Package main applies the embedded PostgreSQL schema. The SQLite store
// creates its own schema on open and needs no migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/welldanyogia/authguard/internal/config"
	"github.com/welldanyogia/authguard/internal/logger"
	"github.com/welldanyogia/authguard/migrations"
)

// Version is set at build time
var Version = "dev"

const defaultLockTimeout = 5 * time.Minute

// options are the parsed flags shared by every command
type options struct {
	databaseURL string
	lockTimeout time.Duration
	dryRun      bool
}

// schema is the part of *migrate.Migrate the commands drive
type schema interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

type command struct {
	usage string
	run   func(log *slog.Logger, m schema, args []string) error
}

var commands = map[string]command{
	"up":      {"up [N]      apply all or N pending migrations", stepper(1)},
	"down":    {"down [N]    roll back all or N applied migrations", stepper(-1)},
	"version": {"version     print the applied schema version", printVersion},
}

func main() {
	log := logger.New(logger.DefaultConfig())
	db := config.Load().Store.Database

	target := config.DatabaseConfig{}
	flag.StringVar(&target.Host, "db-host", db.Host, "Database host")
	flag.StringVar(&target.Port, "db-port", db.Port, "Database port")
	flag.StringVar(&target.User, "db-user", db.User, "Database user")
	flag.StringVar(&target.Password, "db-password", db.Password, "Database password")
	flag.StringVar(&target.DBName, "db-name", db.DBName, "Database name")
	flag.StringVar(&target.SSLMode, "db-sslmode", db.SSLMode, "Database SSL mode")
	lockTimeout := flag.Duration("timeout", defaultLockTimeout, "Schema lock timeout")
	dryRun := flag.Bool("dry-run", false, "Validate the command without touching the database")
	printVer := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *printVer {
		fmt.Printf("migrate version %s\n", Version)
		return
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{databaseURL: target.URL(), lockTimeout: *lockTimeout, dryRun: *dryRun}
	if err := execute(log, opts, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error("Migration command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\nCommands:\n", os.Args[0])
	for _, name := range []string{"up", "down", "version"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nDatabase defaults come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE.\n")
}

// execute validates the command before opening the database, so a dry run
// or a typo never connects
func execute(log *slog.Logger, opts options, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}
	if _, err := parseSteps(args); err != nil {
		return err
	}
	if opts.dryRun {
		log.Info("[DRY RUN] Command is valid", "command", name, "args", args)
		return nil
	}

	m, err := open(opts)
	if err != nil {
		return err
	}
	defer m.Close()
	return cmd.run(log, m, args)
}

// stepper builds up and down; direction is 1 or -1
func stepper(direction int) func(*slog.Logger, schema, []string) error {
	return func(log *slog.Logger, m schema, args []string) error {
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}

		from, _, _ := m.Version()
		switch {
		case steps > 0:
			err = m.Steps(direction * steps)
		case direction < 0:
			err = m.Down()
		default:
			err = m.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Schema already current", "version", from)
			return nil
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		to, _, _ := m.Version()
		log.Info("Migration completed", "from", from, "to", to)
		return nil
	}
}

func printVersion(log *slog.Logger, m schema, _ []string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("No migrations have been applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	log.Info("Current schema version", "version", version, "dirty", dirty)
	return nil
}

// parseSteps reads the optional step count; zero means all
func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	if len(args) > 1 {
		return 0, fmt.Errorf("unexpected arguments: %v", args[1:])
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

// open connects to PostgreSQL and reads the migrations embedded in the binary
func open(opts options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.lockTimeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.LockTimeout = opts.lockTimeout
	return m, nil
}
