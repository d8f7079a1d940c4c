// Package tokens implements the access-token manager: minting and
// resolving the short-lived opaque tokens that authorize exactly one
// operation on one object.
package tokens

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/sethvargo/go-password/password"
)

// ErrNotFound is returned by Query when the token is missing or
// expired.
var ErrNotFound = errors.New("tokens: access token not found")

const tokenLength = 32

// Manager mints and resolves access tokens against the shared
// database. Tokens are opaque strings, not JWTs or signed structures:
// the record they name lives server-side, matching the token design
// the streaming dispatcher expects (a lookup, not a decode).
type Manager struct {
	db *sql.DB
}

// New builds a Manager backed by db.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Query resolves a token to its access record. Returns ErrNotFound if
// the token does not exist or has expired.
func (m *Manager) Query(ctx context.Context, token string) (storage.AccessRecord, error) {
	var rec storage.AccessRecord
	var op string
	var expiresAt time.Time
	rec.Token = token

	err := m.db.QueryRowContext(ctx,
		`SELECT store_id, obj_id, op, username, expires_at FROM access_tokens WHERE token = ?`,
		token,
	).Scan(&rec.StoreID, &rec.ObjID, &op, &rec.Username, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AccessRecord{}, ErrNotFound
	}
	if err != nil {
		return storage.AccessRecord{}, err
	}
	if time.Now().After(expiresAt) {
		return storage.AccessRecord{}, ErrNotFound
	}

	rec.Op = storage.Operation(op)
	return rec, nil
}

// Issue mints a new opaque token authorizing op on objID within
// storeID for username, valid for ttl.
func (m *Manager) Issue(ctx context.Context, storeID, objID string, op storage.Operation, username string, ttl time.Duration) (string, error) {
	token, err := password.Generate(tokenLength, tokenLength/3, 0, false, false)
	if err != nil {
		return "", err
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO access_tokens (token, store_id, obj_id, op, username, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		token, storeID, objID, string(op), username, time.Now().Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// DeleteExpired removes all tokens whose TTL has elapsed. It is run
// periodically by the janitor rather than on every Query, so lookups
// stay a single indexed SELECT.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
