// Package main runs one retention pass: stale login attempts and expired
// sessions are deleted and the command exits. Schedule it with cron or a
// Kubernetes CronJob.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/welldanyogia/authguard/internal/config"
	"github.com/welldanyogia/authguard/internal/logger"
	"github.com/welldanyogia/authguard/internal/store"
	"github.com/welldanyogia/authguard/internal/sweep"
)

// Version is set at build time
var Version = "dev"

func main() {
	var (
		dryRun  = flag.Bool("dry-run", false, "Print the cutoffs without deleting anything")
		timeout = flag.Duration("timeout", 5*time.Minute, "Deadline for the whole run")
		version = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("sweep version %s\n", Version)
		os.Exit(0)
	}

	os.Exit(run(*dryRun, *timeout))
}

// run returns the process exit code so deferred cleanup happens before exit
func run(dryRun bool, timeout time.Duration) int {
	log := logger.New(logger.DefaultConfig())

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error("Failed to connect to database", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer st.Close()

	job := sweep.NewJob(st.Attempts, st.Sessions, sweep.Config{
		LockoutWindow:  cfg.Lockout.Window,
		RetentionGrace: cfg.Lockout.RetentionGrace,
	}, log)

	now := time.Now().UTC()
	if dryRun {
		attempts, sessions := job.Cutoffs(now)
		fmt.Printf("attempts older than:     %s\n", attempts.Format(time.RFC3339))
		fmt.Printf("sessions expired before: %s\n", sessions.Format(time.RFC3339))
		return 0
	}

	result, err := job.Run(ctx, now)
	if err != nil {
		return 1
	}

	fmt.Printf("purged %d attempts, deleted %d sessions in %s\n",
		result.AttemptsPurged, result.SessionsDeleted, result.EndTime.Sub(result.StartTime))
	return 0
}
