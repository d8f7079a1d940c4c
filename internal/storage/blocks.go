package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// statCacheSize bounds the in-process block-size cache fronting the
// block_meta table. A range request walks block sizes sequentially to
// find its start block, so the same handful of blocks get stat'd
// repeatedly within one request and across adjacent-range requests on
// the same file.
const statCacheSize = 4096

type statCacheKey struct {
	storeID, blockID string
}

// BlockHandle is an open, sequential-read-only handle to one block.
// It is never seekable: a caller that needs to skip a prefix must read
// and discard those bytes, matching the streaming-only block handles
// of the original block manager.
type BlockHandle interface {
	io.ReadCloser
}

// BlockStore opens, reads and stats blocks addressed by store id and
// block id. It is read-only from the streaming engines' point of view.
type BlockStore interface {
	// Open returns a streaming read handle to a block.
	Open(ctx context.Context, storeID, version, blockID string) (BlockHandle, error)
	// Stat returns a block's size without opening it.
	Stat(ctx context.Context, storeID, version, blockID string) (BlockMetadata, error)
}

// LocalBlockStore stores each block as a file named by its hex id
// under <root>/<store_id>/<version>/blocks/, addressed through afero
// so tests can swap in an in-memory filesystem.
type LocalBlockStore struct {
	fs        afero.Fs
	root      string
	db        *sql.DB
	statCache *lru.Cache[statCacheKey, BlockMetadata]
}

// NewLocalBlockStore builds a BlockStore rooted at root on fs, caching
// block sizes looked up via stat in the block_meta table so repeated
// stats (e.g. for the Content-Length preflight before streaming, or
// the sequential block-size walk a range request performs) don't
// re-query SQLite or re-stat the filesystem each time.
func NewLocalBlockStore(fs afero.Fs, root string, db *sql.DB) *LocalBlockStore {
	cache, _ := lru.New[statCacheKey, BlockMetadata](statCacheSize)
	return &LocalBlockStore{fs: fs, root: root, db: db, statCache: cache}
}

func (s *LocalBlockStore) path(storeID, version, blockID string) string {
	return fmt.Sprintf("%s/%s/%s/blocks/%s", s.root, storeID, version, blockID)
}

func (s *LocalBlockStore) Open(ctx context.Context, storeID, version, blockID string) (BlockHandle, error) {
	f, err := s.fs.Open(s.path(storeID, version, blockID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *LocalBlockStore) Stat(ctx context.Context, storeID, version, blockID string) (BlockMetadata, error) {
	key := statCacheKey{storeID: storeID, blockID: blockID}
	if s.statCache != nil {
		if meta, ok := s.statCache.Get(key); ok {
			return meta, nil
		}
	}

	meta, err := s.statUncached(ctx, storeID, version, blockID)
	if err != nil {
		return BlockMetadata{}, err
	}

	if s.statCache != nil {
		s.statCache.Add(key, meta)
	}
	return meta, nil
}

func (s *LocalBlockStore) statUncached(ctx context.Context, storeID, version, blockID string) (BlockMetadata, error) {
	if s.db != nil {
		var size int64
		err := s.db.QueryRowContext(ctx,
			"SELECT size FROM block_meta WHERE store_id = ? AND block_id = ?", storeID, blockID,
		).Scan(&size)
		if err == nil {
			return BlockMetadata{Size: uint32(size)}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return BlockMetadata{}, err
		}
	}

	info, err := s.fs.Stat(s.path(storeID, version, blockID))
	if err != nil {
		if os.IsNotExist(err) {
			return BlockMetadata{}, ErrNotFound
		}
		return BlockMetadata{}, err
	}
	return BlockMetadata{Size: uint32(info.Size())}, nil
}
