// Package storage persists the rolling working set so a restart does not lose
// the window when the historical catalog is unavailable.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// SnapshotStore holds a copy of the events inside the retention window.
type SnapshotStore interface {
	Init(ctx context.Context) error
	UpsertEvents(ctx context.Context, events []domain.SeismicEvent) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	LoadSince(ctx context.Context, since time.Time) ([]domain.SeismicEvent, error)
	Close() error
}

// New opens the store selected by cfg.StorageDriver. It returns nil when
// persistence is disabled.
func New(cfg *config.Config) (SnapshotStore, error) {
	switch strings.ToLower(cfg.StorageDriver) {
	case "":
		return nil, nil
	case "sqlite":
		return NewSQLite(cfg.StorageDSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.StorageDSN)
	default:
		return nil, fmt.Errorf("%w: unsupported storage driver %q", domain.ErrConfiguration, cfg.StorageDriver)
	}
}

// dialect carries the driver specific statements.
type dialect struct {
	schema    []string
	upsert    string
	deleteOld string
	loadSince string
}

type baseStore struct {
	db *sql.DB
	q  dialect
}

func (b *baseStore) Init(ctx context.Context) error {
	for _, stmt := range b.q.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) UpsertEvents(ctx context.Context, events []domain.SeismicEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, b.q.upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err = stmt.ExecContext(ctx,
			ev.ID,
			ev.Magnitude,
			ev.Epicenter.Lat,
			ev.Epicenter.Lng,
			ev.DepthKm,
			ev.OccurredAt.UnixMilli(),
			ev.TsunamiFlag,
			ev.Place,
		); err != nil {
			return fmt.Errorf("upsert event %s: %w", ev.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (b *baseStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.q.deleteOld, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return n, nil
}

func (b *baseStore) LoadSince(ctx context.Context, since time.Time) ([]domain.SeismicEvent, error) {
	rows, err := b.db.QueryContext(ctx, b.q.loadSince, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []domain.SeismicEvent
	for rows.Next() {
		var (
			ev         domain.SeismicEvent
			occurredMs int64
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.Magnitude,
			&ev.Epicenter.Lat,
			&ev.Epicenter.Lng,
			&ev.DepthKm,
			&occurredMs,
			&ev.TsunamiFlag,
			&ev.Place,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OccurredAt = time.UnixMilli(occurredMs).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

func (b *baseStore) Close() error {
	return b.db.Close()
}
