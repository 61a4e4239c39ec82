package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/IshaanNene/templatescout/internal/types"
)

const sessionColumns = `id, type, status, total_items, total_batches, batch_size, current_batch,
	processed, succeeded, failed, skipped, cancelled, error_message,
	created_at, updated_at, started_at, completed_at`

const batchColumns = `session_id, batch_number, status, size,
	processed, succeeded, failed, skipped, cancelled, started_at, completed_at`

const itemColumns = `item_id, session_id, batch_number, position, url, slug, name, status, phase,
	preview_url, thumbnail_url, error_message, duration_ms, updated_at`

// Postgres is the sqlx-backed Store.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres wraps an open connection.
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.With("component", "state_store")}
}

// DB exposes the underlying connection for migrations.
func (p *Postgres) DB() *sqlx.DB { return p.db }

func (p *Postgres) CreateSession(ctx context.Context, s *types.Session, batches []*types.Batch) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeErr("create_session", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertSession(ctx, tx, s); err != nil {
		return writeErr("create_session", err)
	}
	for _, b := range batches {
		if err := upsertBatch(ctx, tx, b); err != nil {
			return writeErr("create_session", err)
		}
		for _, item := range b.Items {
			row := types.ItemResult{
				ItemID:      item.ID,
				SessionID:   s.ID,
				BatchNumber: b.Number,
				Position:    item.Position,
				URL:         item.URL,
				Slug:        item.Slug,
				Name:        item.Name,
				Status:      types.ItemPending,
				Phase:       types.PhaseQueued,
				UpdatedAt:   s.CreatedAt,
			}
			if err := upsertItem(ctx, tx, &row); err != nil {
				return writeErr("create_session", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return writeErr("create_session", fmt.Errorf("commit: %w", err))
	}
	p.logger.Debug("session created", "session_id", s.ID, "items", s.TotalItems, "batches", len(batches))
	return nil
}

func (p *Postgres) UpdateSession(ctx context.Context, s *types.Session) error {
	return writeErr("update_session", upsertSession(ctx, p.db, s))
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var s types.Session
	err := p.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM scrape_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.Session
	err := p.db.SelectContext(ctx, &out,
		`SELECT `+sessionColumns+` FROM scrape_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (p *Postgres) LatestResumable(ctx context.Context) (*types.Session, error) {
	var s types.Session
	err := p.db.GetContext(ctx, &s,
		`SELECT `+sessionColumns+` FROM scrape_sessions
		WHERE status = ANY($1) ORDER BY updated_at DESC LIMIT 1`,
		pq.Array(statusStrings(resumableStatuses)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest resumable session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) MarkInterrupted(ctx context.Context) (int, error) {
	live := []types.SessionStatus{
		types.SessionStarting, types.SessionRunning, types.SessionPaused,
		types.SessionTimeoutPaused, types.SessionCompleting,
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE scrape_sessions SET status = $1, updated_at = NOW() WHERE status = ANY($2)`,
		string(types.SessionInterrupted), pq.Array(statusStrings(live)))
	if err != nil {
		return 0, writeErr("mark_interrupted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeErr("mark_interrupted", err)
	}
	return int(n), nil
}

func (p *Postgres) SaveBatch(ctx context.Context, b *types.Batch) error {
	return writeErr("save_batch", upsertBatch(ctx, p.db, b))
}

func (p *Postgres) ReplaceBatches(ctx context.Context, sessionID string, from int, batches []*types.Batch) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeErr("replace_batches", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scrape_batches WHERE session_id = $1 AND batch_number >= $2`, sessionID, from); err != nil {
		return writeErr("replace_batches", fmt.Errorf("delete batches: %w", err))
	}
	for _, b := range batches {
		if err := upsertBatch(ctx, tx, b); err != nil {
			return writeErr("replace_batches", err)
		}
		for _, item := range b.Items {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scrape_items SET batch_number = $1 WHERE item_id = $2`, b.Number, item.ID); err != nil {
				return writeErr("replace_batches", fmt.Errorf("move item %s: %w", item.ID, err))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return writeErr("replace_batches", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (p *Postgres) Batches(ctx context.Context, sessionID string) ([]types.Batch, error) {
	var out []types.Batch
	err := p.db.SelectContext(ctx, &out,
		`SELECT `+batchColumns+` FROM scrape_batches WHERE session_id = $1 ORDER BY batch_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveItem(ctx context.Context, r *types.ItemResult) error {
	return writeErr("save_item", upsertItem(ctx, p.db, r))
}

func (p *Postgres) Item(ctx context.Context, itemID string) (*types.ItemResult, error) {
	var r types.ItemResult
	err := p.db.GetContext(ctx, &r, `SELECT `+itemColumns+` FROM scrape_items WHERE item_id = $1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &r, nil
}

func (p *Postgres) Items(ctx context.Context, sessionID string) ([]types.ItemResult, error) {
	var out []types.ItemResult
	err := p.db.SelectContext(ctx, &out,
		`SELECT `+itemColumns+` FROM scrape_items WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpsertTemplate(ctx context.Context, t *types.Template) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO templates (slug, name, author_name, author_url, price, price_cents,
			short_description, long_description, categories, styles, features,
			live_preview_url, homepage_path, preview_url, thumbnail_url, source_url, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name, author_name = EXCLUDED.author_name, author_url = EXCLUDED.author_url,
			price = EXCLUDED.price, price_cents = EXCLUDED.price_cents,
			short_description = EXCLUDED.short_description, long_description = EXCLUDED.long_description,
			categories = EXCLUDED.categories, styles = EXCLUDED.styles, features = EXCLUDED.features,
			live_preview_url = EXCLUDED.live_preview_url, homepage_path = EXCLUDED.homepage_path,
			preview_url = EXCLUDED.preview_url, thumbnail_url = EXCLUDED.thumbnail_url,
			source_url = EXCLUDED.source_url, scraped_at = EXCLUDED.scraped_at, updated_at = NOW()`,
		t.Slug, t.Name, t.AuthorName, t.AuthorURL, t.Price, t.PriceCents,
		t.ShortDescription, t.LongDescription,
		pq.Array(t.Categories), pq.Array(t.Styles), pq.Array(t.Features),
		t.LivePreviewURL, t.HomepagePath, t.PreviewURL, t.ThumbnailURL, t.SourceURL, t.ScrapedAt,
	)
	return writeErr("upsert_template", err)
}

func (p *Postgres) KnownURLs(ctx context.Context) (map[string]bool, error) {
	var urls []string
	if err := p.db.SelectContext(ctx, &urls, `SELECT source_url FROM templates`); err != nil {
		return nil, fmt.Errorf("known urls: %w", err)
	}
	known := make(map[string]bool, len(urls))
	for _, u := range urls {
		known[u] = true
	}
	return known, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func upsertSession(ctx context.Context, ex sqlx.ExecerContext, s *types.Session) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO scrape_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, total_items = EXCLUDED.total_items,
			total_batches = EXCLUDED.total_batches, batch_size = EXCLUDED.batch_size,
			current_batch = EXCLUDED.current_batch, processed = EXCLUDED.processed,
			succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed, skipped = EXCLUDED.skipped,
			cancelled = EXCLUDED.cancelled, error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		s.ID, s.Type, s.Status, s.TotalItems, s.TotalBatches, s.BatchSize, s.CurrentBatch,
		s.Processed, s.Succeeded, s.Failed, s.Skipped, s.Cancelled, s.ErrorMessage,
		s.CreatedAt, s.UpdatedAt, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func upsertBatch(ctx context.Context, ex sqlx.ExecerContext, b *types.Batch) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO scrape_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, batch_number) DO UPDATE SET
			status = EXCLUDED.status, size = EXCLUDED.size, processed = EXCLUDED.processed,
			succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed, skipped = EXCLUDED.skipped,
			cancelled = EXCLUDED.cancelled, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		b.SessionID, b.Number, b.Status, b.Size,
		b.Processed, b.Succeeded, b.Failed, b.Skipped, b.Cancelled, b.StartedAt, b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert batch %s/%d: %w", b.SessionID, b.Number, err)
	}
	return nil
}

func upsertItem(ctx context.Context, ex sqlx.ExecerContext, r *types.ItemResult) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO scrape_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (item_id) DO UPDATE SET
			batch_number = EXCLUDED.batch_number, name = EXCLUDED.name, status = EXCLUDED.status,
			phase = EXCLUDED.phase, preview_url = EXCLUDED.preview_url, thumbnail_url = EXCLUDED.thumbnail_url,
			error_message = EXCLUDED.error_message, duration_ms = EXCLUDED.duration_ms,
			updated_at = EXCLUDED.updated_at`,
		r.ItemID, r.SessionID, r.BatchNumber, r.Position, r.URL, r.Slug, r.Name, r.Status, r.Phase,
		r.PreviewURL, r.ThumbnailURL, r.ErrorMessage, r.DurationMS, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", r.ItemID, err)
	}
	return nil
}

func statusStrings(ss []types.SessionStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
