// Package keys implements the password/key manager's consumed
// contract: recovering an encrypted repository's decrypt key and IV
// for a user.
package keys

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	retry "github.com/avast/retry-go/v4"
)

// ErrNotFound means the repository has no stored key for the user,
// e.g. because it hasn't been unlocked.
var ErrNotFound = errors.New("keys: repo is encrypted; no decrypt key on file")

// DecryptKey is a repository's decrypt key material, decoded from the
// hex strings the key manager contract exposes.
type DecryptKey struct {
	Key []byte
	IV  []byte
}

// Manager resolves decrypt keys from the shared database. A failed
// lookup is retried up to three attempts in all; a missing row is not
// retried.
type Manager struct {
	db *sql.DB
}

// New builds a Manager backed by db.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// GetDecryptKey resolves the decrypt key for storeID as seen by
// username.
func (m *Manager) GetDecryptKey(ctx context.Context, storeID, username string) (DecryptKey, error) {
	var keyHex, ivHex string

	err := retry.Do(
		func() error {
			return m.db.QueryRowContext(ctx,
				`SELECT key_hex, iv_hex FROM repo_keys WHERE store_id = ? AND username = ?`,
				storeID, username,
			).Scan(&keyHex, &ivHex)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, sql.ErrNoRows) }),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DecryptKey{}, ErrNotFound
	}
	if err != nil {
		return DecryptKey{}, err
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return DecryptKey{}, err
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return DecryptKey{}, err
	}
	return DecryptKey{Key: key, IV: iv}, nil
}

// PutDecryptKey records storeID/username's decrypt key material, hex
// encoded. Provisioning keys is out of scope for the streaming
// service itself; this exists so the local implementation is
// exercisable standalone and in tests.
func (m *Manager) PutDecryptKey(ctx context.Context, storeID, username string, key DecryptKey) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO repo_keys (store_id, username, key_hex, iv_hex) VALUES (?, ?, ?, ?)
		 ON CONFLICT(store_id, username) DO UPDATE SET key_hex = excluded.key_hex, iv_hex = excluded.iv_hex`,
		storeID, username, hex.EncodeToString(key.Key), hex.EncodeToString(key.IV),
	)
	return err
}
