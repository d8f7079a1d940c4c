package engine

import (
	"context"
	"io"

	"github.com/nimbusfs/blockstream/internal/archives"
	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/spf13/afero"
)

// ZipEngine streams an already-built zip archive from local disk. It
// is the engine behind GET /zip/<token>.
type ZipEngine struct {
	FS       afero.Fs
	Archives *archives.Manager
	Stats    *stats.Reporter
	StoreID  string
	Username string
	Token    string
	Op       storage.Operation
}

// Stream copies archivePath's bytes to w, then deletes the
// zip-progress record for the token exactly once, on completion.
func (e *ZipEngine) Stream(ctx context.Context, w io.Writer, archivePath string) error {
	f, err := e.FS.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	var total int64
	for {
		n, rerr := f.Read(buf)
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

	op := "web-file-download"
	if e.Op == storage.OpDownloadDirLink || e.Op == storage.OpDownloadMultiLink {
		op = "link-file-download"
	}
	e.Stats.SendStatisticMsg(ctx, e.StoreID, e.Username, op, total)

	return e.Archives.DelZipProgress(ctx, e.Token)
}
