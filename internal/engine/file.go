package engine

import (
	"io"

	"context"

	"github.com/nimbusfs/blockstream/internal/blockcrypt"
	"github.com/nimbusfs/blockstream/internal/keys"
	"github.com/nimbusfs/blockstream/internal/rangeparse"
	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
)

// FileEngine streams a file object, either in whole-file mode or
// (for unencrypted repositories only) byte-range mode. It is the
// engine behind GET /files/<token>/<filename>; HEAD requests are
// answered by the dispatcher without streaming.
type FileEngine struct {
	Store    storage.BlockStore
	Stats    *stats.Reporter
	StoreID  string
	Version  string
	Username string
	Op       storage.Operation
	File     storage.FileDescriptor

	// Key is non-nil for encrypted repositories. A fresh decryption
	// context is created for every block, since the crypt context's
	// lifetime is tied to one open block at a time (never the whole
	// file), matching the one-block-open invariant.
	Key *keys.DecryptKey

	// Range selects byte-range mode when non-nil. Never set together
	// with Key: encrypted + range falls back to whole-file mode at the
	// dispatcher, per the ambiguous-but-preserved original behavior.
	Range *rangeparse.Range
}

// Stream dispatches to whole-file or byte-range mode.
func (e *FileEngine) Stream(ctx context.Context, w io.Writer) error {
	if e.Range != nil {
		return e.streamRange(ctx, w)
	}
	return e.streamWhole(ctx, w)
}

func (e *FileEngine) streamWhole(ctx context.Context, w io.Writer) error {
	buf := getBuffer()
	defer putBuffer(buf)

	for _, blockID := range e.File.BlockIDs {
		if err := e.streamOneBlock(ctx, w, blockID, buf); err != nil {
			return err
		}
	}

	if op := statOp(e.Op); op != "" {
		e.Stats.SendStatisticMsg(ctx, e.StoreID, e.Username, op, e.File.FileSize)
	}
	return nil
}

// streamOneBlock copies one block's plaintext to w, decrypting through
// a fresh blockcrypt.Context when the file is encrypted. The context
// is created, driven, and finalized entirely within this call: it
// never survives past the block's EOF.
func (e *FileEngine) streamOneBlock(ctx context.Context, w io.Writer, blockID string, buf []byte) error {
	handle, err := e.Store.Open(ctx, e.StoreID, e.Version, blockID)
	if err != nil {
		return err
	}
	defer handle.Close()

	var crypt *blockcrypt.Context
	if e.Key != nil {
		crypt, err = blockcrypt.New(e.Key.Key, e.Key.IV)
		if err != nil {
			return err
		}
	}

	for {
		n, rerr := handle.Read(buf)
		var out []byte
		if n > 0 {
			chunk := buf[:n]
			if crypt != nil {
				plain, uerr := crypt.Update(chunk)
				if uerr != nil {
					return uerr
				}
				out = plain
			} else {
				out = chunk
			}
		}
		if rerr == io.EOF && crypt != nil {
			final, ferr := crypt.Final()
			if ferr != nil {
				return ferr
			}
			out = append(out, final...)
		}
		if len(out) > 0 {
			if _, werr := w.Write(out); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (e *FileEngine) streamRange(ctx context.Context, w io.Writer) error {
	start := e.Range.Start
	remain := e.Range.Len()

	blkIdx, tolsize, _, err := e.findStartBlock(ctx, start)
	if err != nil {
		return err
	}

	handle, err := e.Store.Open(ctx, e.StoreID, e.Version, e.File.BlockIDs[blkIdx])
	if err != nil {
		return err
	}

	if prefix := start - tolsize; prefix > 0 {
		if err := discard(handle, prefix); err != nil {
			handle.Close()
			return err
		}
	}

	buf := getBuffer()
	defer putBuffer(buf)

	for remain > 0 {
		want := remain
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, rerr := handle.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				handle.Close()
				return werr
			}
			remain -= int64(n)
		}
		if rerr == io.EOF {
			handle.Close()
			if remain == 0 {
				break
			}
			blkIdx++
			if blkIdx >= len(e.File.BlockIDs) {
				return io.ErrUnexpectedEOF
			}
			handle, err = e.Store.Open(ctx, e.StoreID, e.Version, e.File.BlockIDs[blkIdx])
			if err != nil {
				return err
			}
			continue
		}
		if rerr != nil {
			handle.Close()
			return rerr
		}
	}
	handle.Close()

	if e.Range.End == e.File.FileSize-1 {
		if op := statOp(e.Op); op != "" {
			e.Stats.SendStatisticMsg(ctx, e.StoreID, e.Username, op, e.File.FileSize)
		}
	}
	return nil
}

// findStartBlock walks the block list summing sizes until it finds the
// block containing byte offset start, returning its index, the
// cumulative size of all blocks before it, and its own size.
func (e *FileEngine) findStartBlock(ctx context.Context, start int64) (idx int, tolsize, blockSize int64, err error) {
	for idx = 0; idx < len(e.File.BlockIDs); idx++ {
		meta, serr := e.Store.Stat(ctx, e.StoreID, e.Version, e.File.BlockIDs[idx])
		if serr != nil {
			return 0, 0, 0, serr
		}
		blockSize = int64(meta.Size)
		if start < tolsize+blockSize {
			return idx, tolsize, blockSize, nil
		}
		tolsize += blockSize
	}
	return 0, 0, 0, storage.ErrNotFound
}

// discard reads and drops exactly n bytes from r. Block handles are
// streaming-only, never seekable, so trimming the prefix of a range
// that starts mid-block means reading past it, not seeking past it.
func discard(r io.Reader, n int64) error {
	buf := make([]byte, 32*1024)
	for n > 0 {
		want := int64(len(buf))
		if want > n {
			want = n
		}
		read, err := r.Read(buf[:want])
		n -= int64(read)
		if err != nil {
			if err == io.EOF && n <= 0 {
				return nil
			}
			return err
		}
	}
	return nil
}

// statOp maps an operation to the statistics event name fired on
// completion, or "" for operations that fire none.
func statOp(op storage.Operation) string {
	switch op {
	case storage.OpDownload:
		return "web-file-download"
	case storage.OpDownloadLink:
		return "link-file-download"
	default:
		return ""
	}
}
