package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log/v2"

	"voteline/internal/config"
	"voteline/internal/db"
	"voteline/internal/engine"
	"voteline/internal/migrate"
)

// Open loads the workspace config, opens and migrates the database and
// returns a ready engine. The caller must invoke the returned close func.
func Open(ctx context.Context, workspace string, logger *log.Logger) (engine.Engine, func(), error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := openDB(ctx, workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg)
	if logger != nil {
		e.Logger = logger
	}
	return e, func() { conn.Close() }, nil
}

// Init writes the default config unless one exists, then migrates the
// database. It reports whether a config file was written.
func Init(ctx context.Context, workspace string) (bool, error) {
	existing, err := config.LoadOptional(workspace)
	if err != nil {
		return false, err
	}
	wrote := false
	if existing == nil {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return false, err
		}
		if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault()), 0o644); err != nil {
			return false, fmt.Errorf("write config: %w", err)
		}
		wrote = true
	}
	conn, err := openDB(ctx, workspace)
	if err != nil {
		return wrote, err
	}
	return wrote, conn.Close()
}

func openDB(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// NewLogger builds the CLI logger writing to stderr at the named level.
func NewLogger(level string) (*log.Logger, error) {
	if level == "" {
		return log.New(io.Discard), nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(os.Stderr, log.Options{Level: lvl, ReportTimestamp: true, Prefix: "vl"}), nil
}
