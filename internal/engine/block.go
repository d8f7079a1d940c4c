package engine

import (
	"context"
	"io"

	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
)

// BlockEngine streams a single raw block to the client. It is the
// engine behind GET /blks/<token>/<block_id>.
type BlockEngine struct {
	Store    storage.BlockStore
	Stats    *stats.Reporter
	StoreID  string
	Version  string
	BlockID  string
	Username string
}

// Stream copies the block's bytes to w, ChunkSize at a time, and fires
// a statistics event once the block has been fully delivered.
func (e *BlockEngine) Stream(ctx context.Context, w io.Writer) error {
	handle, err := e.Store.Open(ctx, e.StoreID, e.Version, e.BlockID)
	if err != nil {
		return err
	}
	defer handle.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	var total int64
	for {
		n, rerr := handle.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	e.Stats.SendStatisticMsg(ctx, e.StoreID, e.Username, "web-file-download", total)
	return nil
}
