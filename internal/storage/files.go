package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// FileSystemManager resolves file objects and checks object existence
// within a store.
type FileSystemManager interface {
	GetFile(ctx context.Context, storeID, version, fileID string) (FileDescriptor, error)
	ObjectExists(ctx context.Context, storeID, version, objID string) (bool, error)
	GetRepository(ctx context.Context, storeID string) (Repository, error)
}

// SQLiteFileSystemManager resolves file descriptors and repository
// handles from rows in the shared database.
type SQLiteFileSystemManager struct {
	db *sql.DB
}

// NewSQLiteFileSystemManager builds a FileSystemManager backed by db.
func NewSQLiteFileSystemManager(db *sql.DB) *SQLiteFileSystemManager {
	return &SQLiteFileSystemManager{db: db}
}

func (m *SQLiteFileSystemManager) GetFile(ctx context.Context, storeID, version, fileID string) (FileDescriptor, error) {
	var size int64
	var blockIDs string
	err := m.db.QueryRowContext(ctx,
		"SELECT file_size, block_ids FROM files WHERE store_id = ? AND file_id = ?", storeID, fileID,
	).Scan(&size, &blockIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return FileDescriptor{}, ErrNotFound
	}
	if err != nil {
		return FileDescriptor{}, err
	}

	var ids []string
	if blockIDs != "" {
		ids = strings.Split(blockIDs, ",")
	}
	return FileDescriptor{FileSize: size, BlockIDs: ids}, nil
}

func (m *SQLiteFileSystemManager) ObjectExists(ctx context.Context, storeID, version, objID string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE store_id = ? AND file_id = ?", storeID, objID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM block_meta WHERE store_id = ? AND block_id = ?", storeID, objID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *SQLiteFileSystemManager) GetRepository(ctx context.Context, storeID string) (Repository, error) {
	var repo Repository
	var encrypted int
	err := m.db.QueryRowContext(ctx,
		"SELECT store_id, version, encrypted, enc_version FROM repositories WHERE store_id = ?", storeID,
	).Scan(&repo.StoreID, &repo.Version, &encrypted, &repo.EncVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Repository{}, ErrNotFound
	}
	if err != nil {
		return Repository{}, err
	}
	repo.Encrypted = encrypted != 0
	return repo, nil
}
