package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/handoffmarket/handoff-backend/internal/bootstrap"
	"github.com/handoffmarket/handoff-backend/pkg/db"
	"github.com/handoffmarket/handoff-backend/pkg/migrate"
)

const usage = `usage: migrate -cmd <up|down|to|status|version|create|validate> [flags]

  up        apply all pending migrations
  down      roll back the latest migration
  to        migrate up or down to -version
  status    list migrations and when they were applied
  version   print the current schema version
  create    write a new empty migration named -name
  validate  check migration file names and goose headers`

func main() {
	cmd := flag.String("cmd", "up", "migration command")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*cmd, *dir, *name, *version); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func run(cmd, dir, name, version string) error {
	// file-only commands need neither config nor a database
	switch cmd {
	case "create":
		if name == "" {
			return errors.New("-name is required")
		}
		path, err := migrate.CreateSQLMigration(dir, name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	}

	rt, err := bootstrap.Load("migrate")
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = rt.Logger.WithFields(ctx, map[string]any{"cmd": cmd, "dir": dir})

	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rt.Defer("database", dbClient.Close)

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, os.DirFS(dir))
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		results, err := runner.Up(ctx)
		printResults(results)
		return err
	case "down":
		result, err := runner.Down(ctx)
		if result != nil {
			printResults([]*goose.MigrationResult{result})
		}
		return err
	case "to":
		target, err := strconv.ParseInt(version, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid -version %q (expected YYYYMMDDHHMMSS)", version)
		}
		results, err := runner.To(ctx, target)
		printResults(results)
		return err
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(statuses)
		return nil
	case "version":
		current, err := runner.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(current)
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printResults(results []*goose.MigrationResult) {
	if len(results) == 0 {
		fmt.Println("no migrations to apply")
		return
	}
	for _, r := range results {
		fmt.Printf("%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func printStatus(statuses []*goose.MigrationStatus) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	_ = tw.Flush()
}
