// Package stats implements the statistics reporter's consumed
// contract: a best-effort SendStatisticMsg call that hands the event
// to a small worker pool instead of recording it inline.
package stats

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// Reporter dispatches usage events to a background worker pool of at
// most four goroutines. Events are logged via slog and, when a database is
// configured, recorded to the usage_events table for later
// aggregation.
type Reporter struct {
	db   *sql.DB
	pool *pool.Pool
}

// New builds a Reporter. db may be nil, in which case events are only
// logged.
func New(db *sql.DB) *Reporter {
	return &Reporter{
		db:   db,
		pool: pool.New().WithMaxGoroutines(4),
	}
}

// SendStatisticMsg records a usage event for storeID/username/op on a
// pool goroutine. The call returns as soon as a pool goroutine takes
// the event; while all four are busy recording earlier events, it
// blocks until one of them is free.
func (r *Reporter) SendStatisticMsg(ctx context.Context, storeID, username, op string, byteCount int64) {
	r.pool.Go(func() {
		slog.Info("statistics event",
			"store_id", storeID,
			"username", username,
			"op", op,
			"bytes", byteCount,
		)

		if r.db == nil {
			return
		}
		_, err := r.db.ExecContext(context.Background(),
			`INSERT INTO usage_events (id, store_id, username, op, byte_count) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), storeID, username, op, byteCount,
		)
		if err != nil {
			slog.Warn("failed to persist statistics event", "error", err)
		}
	})
}

// Wait blocks until all in-flight statistics events have been
// processed. Used during graceful shutdown.
func (r *Reporter) Wait() {
	r.pool.Wait()
}
