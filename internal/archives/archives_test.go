package archives

import (
	"context"
	"testing"
	"time"

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

func TestPutAndGetZipFilePath(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())
	ctx := context.Background()

	require.NoError(t, mgr.PutZipFilePath(ctx, "tok1", "/data/archives/tok1.zip"))

	path, err := mgr.GetZipFilePath(ctx, "tok1")
	require.NoError(t, err)
	require.Equal(t, "/data/archives/tok1.zip", path)
}

func TestGetZipFilePathNotFound(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())

	_, err := mgr.GetZipFilePath(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelZipProgress(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())
	ctx := context.Background()

	require.NoError(t, mgr.PutZipFilePath(ctx, "tok1", "/data/archives/tok1.zip"))
	require.NoError(t, mgr.DelZipProgress(ctx, "tok1"))

	_, err := mgr.GetZipFilePath(ctx, "tok1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelZipProgressIdempotent(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())

	require.NoError(t, mgr.DelZipProgress(context.Background(), "never-existed"))
}

func TestDeleteOrphanedSweepsOldRows(t *testing.T) {
	db := newTestDB(t)
	mgr := New(db.Conn())
	ctx := context.Background()

	_, err := db.Conn().ExecContext(ctx,
		`INSERT INTO zip_progress (token, zip_path, created_at) VALUES (?, ?, ?)`,
		"stale", "/data/archives/stale.zip", time.Now().Add(-2*time.Hour),
	)
	require.NoError(t, err)
	require.NoError(t, mgr.PutZipFilePath(ctx, "fresh", "/data/archives/fresh.zip"))

	n, err := mgr.DeleteOrphaned(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = mgr.GetZipFilePath(ctx, "stale")
	require.ErrorIs(t, err, ErrNotFound)

	path, err := mgr.GetZipFilePath(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, "/data/archives/fresh.zip", path)
}
