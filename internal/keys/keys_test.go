package keys

import (
	"context"
	"testing"

	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndGetDecryptKey(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())
	ctx := context.Background()

	key := DecryptKey{Key: make([]byte, 32), IV: make([]byte, 16)}
	key.Key[0] = 0xAB
	key.IV[0] = 0xCD

	require.NoError(t, mgr.PutDecryptKey(ctx, "store1", "alice", key))

	got, err := mgr.GetDecryptKey(ctx, "store1", "alice")
	require.NoError(t, err)
	require.Equal(t, key.Key, got.Key)
	require.Equal(t, key.IV, got.IV)
}

func TestGetDecryptKeyNotFound(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())

	_, err := mgr.GetDecryptKey(context.Background(), "store1", "alice")
	require.ErrorIs(t, err, ErrNotFound)
}
