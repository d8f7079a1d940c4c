package storage

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := newTestDB(t)

	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSQLiteFileSystemManagerGetFile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Conn().Exec(
		"INSERT INTO files (store_id, file_id, file_size, block_ids) VALUES (?, ?, ?, ?)",
		"store1", "file1", 250, "aaa,bbb,ccc",
	)
	require.NoError(t, err)

	mgr := NewSQLiteFileSystemManager(db.Conn())
	f, err := mgr.GetFile(ctx, "store1", "1", "file1")
	require.NoError(t, err)
	require.Equal(t, int64(250), f.FileSize)
	require.Equal(t, []string{"aaa", "bbb", "ccc"}, f.BlockIDs)
}

func TestSQLiteFileSystemManagerGetFileNotFound(t *testing.T) {
	db := newTestDB(t)
	mgr := NewSQLiteFileSystemManager(db.Conn())

	_, err := mgr.GetFile(context.Background(), "store1", "1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteFileSystemManagerGetRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Conn().Exec(
		"INSERT INTO repositories (store_id, version, encrypted, enc_version) VALUES (?, ?, ?, ?)",
		"store1", 1, 1, 2,
	)
	require.NoError(t, err)

	mgr := NewSQLiteFileSystemManager(db.Conn())
	repo, err := mgr.GetRepository(ctx, "store1")
	require.NoError(t, err)
	require.True(t, repo.Encrypted)
	require.Equal(t, 32, repo.KeySize())
}

func TestLocalBlockStoreOpenAndStat(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data/store1/1/blocks", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/data/store1/1/blocks/blk1", []byte("hello block"), 0o644))

	store := NewLocalBlockStore(fs, "/data", nil)
	ctx := context.Background()

	meta, err := store.Stat(ctx, "store1", "1", "blk1")
	require.NoError(t, err)
	require.Equal(t, uint32(len("hello block")), meta.Size)

	handle, err := store.Open(ctx, "store1", "1", "blk1")
	require.NoError(t, err)
	defer handle.Close()

	buf := make([]byte, 64)
	n, err := handle.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello block", string(buf[:n]))
}

func TestLocalBlockStoreStatCachesResult(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data/store1/1/blocks", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/data/store1/1/blocks/blk1", []byte("hello block"), 0o644))

	store := NewLocalBlockStore(fs, "/data", nil)
	ctx := context.Background()

	meta, err := store.Stat(ctx, "store1", "1", "blk1")
	require.NoError(t, err)
	require.Equal(t, uint32(len("hello block")), meta.Size)

	require.NoError(t, fs.Remove("/data/store1/1/blocks/blk1"))

	cached, err := store.Stat(ctx, "store1", "1", "blk1")
	require.NoError(t, err)
	require.Equal(t, meta, cached)
}

func TestLocalBlockStoreNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewLocalBlockStore(fs, "/data", nil)

	_, err := store.Stat(context.Background(), "store1", "1", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Open(context.Background(), "store1", "1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
