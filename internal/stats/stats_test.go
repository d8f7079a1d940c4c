package stats

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestSendStatisticMsgPersists(t *testing.T) {
	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := New(db.Conn())
	r.SendStatisticMsg(context.Background(), "store1", "alice", "web-file-download", 250)
	r.Wait()

	var count int
	var byteCount int64
	err = db.Conn().QueryRow(
		"SELECT COUNT(*), COALESCE(MAX(byte_count), 0) FROM usage_events WHERE store_id = ?", "store1",
	).Scan(&count, &byteCount)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(250), byteCount)
}

func TestSendStatisticMsgNilDBDoesNotPanic(t *testing.T) {
	r := New(nil)
	r.SendStatisticMsg(context.Background(), "store1", "alice", "view", 10)
	r.Wait()
}

func TestSendStatisticMsgNonBlocking(t *testing.T) {
	r := New(nil)
	start := time.Now()
	r.SendStatisticMsg(context.Background(), "store1", "alice", "view", 10)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	r.Wait()
}
