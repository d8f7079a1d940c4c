// Package archives implements the zip-download manager's consumed
// contract: resolving a token to the already-built archive's on-disk
// path, and deleting its progress record once the archive has been
// fully delivered (or once a conditional request means it never needs
// to be).
package archives

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a token has no associated zip progress
// record, meaning the archive either was never built or has already
// been delivered and cleaned up.
var ErrNotFound = errors.New("archives: zip progress not found")

// Manager resolves and tears down zip-progress records.
type Manager struct {
	db *sql.DB
}

// New builds a Manager backed by db.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// GetZipFilePath returns the on-disk path of the archive built for
// token.
func (m *Manager) GetZipFilePath(ctx context.Context, token string) (string, error) {
	var path string
	err := m.db.QueryRowContext(ctx, `SELECT zip_path FROM zip_progress WHERE token = ?`, token).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// DelZipProgress removes the progress record for token. It is called
// exactly once per token: either after the archive has been streamed
// to completion, or when a conditional request (If-Modified-Since)
// means the client already has the content and the archive will never
// be streamed at all.
func (m *Manager) DelZipProgress(ctx context.Context, token string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM zip_progress WHERE token = ?`, token)
	return err
}

// DeleteOrphaned removes zip_progress rows older than maxAge: archives
// whose token was minted but never streamed to completion or hit by a
// conditional request, so DelZipProgress was never reached. Run
// periodically by the janitor alongside the token sweep.
func (m *Manager) DeleteOrphaned(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM zip_progress WHERE created_at < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PutZipFilePath records the on-disk path of a freshly built archive
// for token. Building the archive itself is out of scope for this
// service (spec.md's non-goals); this exists so the local backing
// implementation can be exercised standalone and in tests.
func (m *Manager) PutZipFilePath(ctx context.Context, token, path string) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO zip_progress (token, zip_path) VALUES (?, ?)
		 ON CONFLICT(token) DO UPDATE SET zip_path = excluded.zip_path`,
		token, path,
	)
	return err
}
