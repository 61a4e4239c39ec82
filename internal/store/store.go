// Package store persists scraping sessions, batches and item outcomes so a
// run can be resumed after a pause or a crash.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// StateStore is the resumable record of every session. The engine is its
// only writer.
type StateStore interface {
	// CreateSession writes the session row together with its batch rows
	// and a pending row for every item, in one transaction.
	CreateSession(ctx context.Context, s *types.Session, batches []*types.Batch) error
	UpdateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context, limit int) ([]types.Session, error)

	// LatestResumable returns the most recently updated session that was
	// paused or interrupted, or types.ErrSessionNotFound.
	LatestResumable(ctx context.Context) (*types.Session, error)

	// MarkInterrupted flips every session still marked live to
	// interrupted and reports how many were changed.
	MarkInterrupted(ctx context.Context) (int, error)

	SaveBatch(ctx context.Context, b *types.Batch) error
	// ReplaceBatches drops the session's batch rows numbered from and up,
	// writes batches in their place and moves their items accordingly.
	ReplaceBatches(ctx context.Context, sessionID string, from int, batches []*types.Batch) error
	Batches(ctx context.Context, sessionID string) ([]types.Batch, error)

	SaveItem(ctx context.Context, r *types.ItemResult) error
	Item(ctx context.Context, itemID string) (*types.ItemResult, error)
	// Items returns a session's item rows ordered by position.
	Items(ctx context.Context, sessionID string) ([]types.ItemResult, error)

	Close() error
}

// TemplateStore keeps the relational copy of the catalog.
type TemplateStore interface {
	UpsertTemplate(ctx context.Context, t *types.Template) error
	// KnownURLs returns the source URLs already present in the catalog.
	KnownURLs(ctx context.Context) (map[string]bool, error)
}

// Store is implemented by both backends.
type Store interface {
	StateStore
	TemplateStore
}

// resumableStatuses are the statuses LatestResumable considers.
var resumableStatuses = []types.SessionStatus{
	types.SessionInterrupted,
	types.SessionPaused,
	types.SessionTimeoutPaused,
}

// Open connects to Postgres when a DSN is configured and falls back to an
// in-memory store otherwise.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	if cfg.DSN == "" {
		logger.Warn("no database dsn configured, session state is kept in memory only")
		return NewMemory(), nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		if err := MigrateUp(db.DB, logger.With("component", "migrate")); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewPostgres(db, logger), nil
}

func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &types.PersistenceError{Op: op, Err: err}
}
