// Package app wires configuration, storage and the core service together
// for the server and CLI entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/flightrecorder/internal/config"
	"github.com/JonMunkholm/flightrecorder/internal/core"
	_ "github.com/JonMunkholm/flightrecorder/internal/core/entities" // Register all entity types
	"github.com/JonMunkholm/flightrecorder/internal/store/postgres"
	"github.com/JonMunkholm/flightrecorder/internal/store/sqlite"
)

// OpenStore connects the snapshot and diff store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("connected to database", "driver", "sqlite", "path", cfg.Path)
		return s, nil

	case "postgres", "":
		s, err := postgres.New(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}

		// Log which database we connected to
		if u, err := url.Parse(cfg.URL); err == nil {
			slog.Info("connected to database", "driver", "postgres", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database", "driver", "postgres")
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Bootstrap seals the entity registry, opens the store and builds the
// service. The caller closes the returned store.
func Bootstrap(ctx context.Context, cfg *config.Config) (*core.Service, core.Store, error) {
	core.Seal()

	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("entity types registered",
		"count", core.Count(),
		"groups", len(core.Groups()),
	)
	for _, group := range core.Groups() {
		slog.Debug("entity group", "group", group, "entity_types", len(core.ByGroup(group)))
	}
	if len(svcCfg.Projects) == 0 {
		slog.Warn("no projects configured; scheduled and default syncs will fail")
	}

	return core.NewService(store, svcCfg), store, nil
}
