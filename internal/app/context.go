package app

import (
	"context"
	"fmt"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/engine"
	"bidline/internal/migrate"
	"bidline/internal/telemetry"
)

// Options tweaks how a workspace is opened.
type Options struct {
	// LogLevel overrides log.level from bidline.yml when set.
	LogLevel string
	LogJSON  bool
}

// Open prepares the workspace database, applies migrations, loads bidline.yml
// (defaults when absent) and returns an engine bound to them. The returned
// close func releases the database and flushes telemetry.
func Open(ctx context.Context, workspace string, opts Options) (engine.Engine, func(), error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogJSON {
		cfg.Log.JSON = true
	}
	if err := telemetry.Init(ctx); err != nil {
		return engine.Engine{}, nil, fmt.Errorf("init telemetry: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	closeFn := func() {
		telemetry.Shutdown(context.Background())
		conn.Close()
	}
	return e, closeFn, nil
}
