package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/handoffmarket/handoff-backend/pkg/migrate/migrations"
)

const DefaultDir = "pkg/migrate/migrations"

// Runner applies goose SQL migrations from one filesystem. It wraps a goose
// Provider, so several runners can coexist without sharing goose globals.
type Runner struct {
	provider *goose.Provider
}

// NewRunner builds a Postgres runner over the migrations in fsys.
func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		return nil, errors.New("migrations filesystem is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// NewEmbeddedRunner uses the migrations compiled into the binary.
func NewEmbeddedRunner(db *sql.DB) (*Runner, error) {
	return NewRunner(db, migrations.FS)
}

func (r *Runner) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	results, err := r.provider.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("goose up: %w", err)
	}
	return results, nil
}

// Down rolls back the most recent migration only.
func (r *Runner) Down(ctx context.Context) (*goose.MigrationResult, error) {
	result, err := r.provider.Down(ctx)
	if err != nil {
		return result, fmt.Errorf("goose down: %w", err)
	}
	return result, nil
}

// To migrates up or down until the database sits at target.
func (r *Runner) To(ctx context.Context, target int64) ([]*goose.MigrationResult, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err := r.provider.UpTo(ctx, target)
		if err != nil {
			return results, fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return results, nil
	default:
		results, err := r.provider.DownTo(ctx, target)
		if err != nil {
			return results, fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return results, nil
	}
}

func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	return statuses, nil
}

func (r *Runner) Version(ctx context.Context) (int64, error) {
	return r.provider.GetDBVersion(ctx)
}

// UpEmbedded applies every embedded migration.
func UpEmbedded(ctx context.Context, db *sql.DB) error {
	runner, err := NewEmbeddedRunner(db)
	if err != nil {
		return err
	}
	_, err = runner.Up(ctx)
	return err
}
