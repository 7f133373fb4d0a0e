// Package cmd provides common initialization for the command-line entry
// points: store and event bus construction from configuration values.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inboxpilot/conduit/pkg/store"
	"github.com/inboxpilot/conduit/pkg/store/memory"
	"github.com/inboxpilot/conduit/pkg/store/postgres"
	"github.com/inboxpilot/conduit/pkg/store/redis"
)

// NewStore builds an InstanceStore from a database URL. The scheme selects
// the backend: postgres://, redis://, or memory:// (also the fallback for an
// empty URL).
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (store.InstanceStore, error) {
	switch parseStoreProvider(databaseURL) {
	case "postgres":
		return postgres.NewStore(ctx, logger, databaseURL)
	case "redis":
		return redis.NewStore(ctx, logger, databaseURL)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}

func parseStoreProvider(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}

	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "redis", "rediss":
		return "redis"
	case "memory":
		return "memory"
	default:
		return ""
	}
}
