package engine

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/nimbusfs/blockstream/internal/archives"
	"github.com/nimbusfs/blockstream/internal/keys"
	"github.com/nimbusfs/blockstream/internal/rangeparse"
	"github.com/nimbusfs/blockstream/internal/stats"
	"github.com/nimbusfs/blockstream/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T, storeID string, blocks map[string][]byte) *storage.LocalBlockStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	for id, data := range blocks {
		path := "/data/" + storeID + "/1/blocks/" + id
		require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	}
	return storage.NewLocalBlockStore(fs, "/data", nil)
}

func TestBlockEngineStream(t *testing.T) {
	store := newMemStore(t, "store1", map[string][]byte{"blk1": []byte("hello block world")})
	reporter := stats.New(nil)

	e := &BlockEngine{Store: store, Stats: reporter, StoreID: "store1", Version: "1", BlockID: "blk1", Username: "alice"}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, "hello block world", out.String())
	reporter.Wait()
}

func TestFileEngineWholeFile(t *testing.T) {
	blocks := map[string][]byte{
		"b1": bytes.Repeat([]byte("a"), 100),
		"b2": bytes.Repeat([]byte("b"), 100),
		"b3": bytes.Repeat([]byte("c"), 50),
	}
	store := newMemStore(t, "store1", blocks)
	reporter := stats.New(nil)

	e := &FileEngine{
		Store: store, Stats: reporter, StoreID: "store1", Version: "1", Username: "alice",
		Op:   storage.OpDownload,
		File: storage.FileDescriptor{FileSize: 250, BlockIDs: []string{"b1", "b2", "b3"}},
	}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, 250, out.Len())
	require.Equal(t, bytes.Repeat([]byte("a"), 100), out.Bytes()[:100])
	require.Equal(t, bytes.Repeat([]byte("c"), 50), out.Bytes()[200:])
}

func TestFileEngineRange(t *testing.T) {
	blocks := map[string][]byte{
		"b1": bytes.Repeat([]byte("a"), 100),
		"b2": bytes.Repeat([]byte("b"), 100),
		"b3": bytes.Repeat([]byte("c"), 50),
	}
	store := newMemStore(t, "store1", blocks)
	reporter := stats.New(nil)

	rng, err := rangeparse.Parse("bytes=150-199", 250)
	require.NoError(t, err)

	e := &FileEngine{
		Store: store, Stats: reporter, StoreID: "store1", Version: "1", Username: "alice",
		Op:    storage.OpDownload,
		File:  storage.FileDescriptor{FileSize: 250, BlockIDs: []string{"b1", "b2", "b3"}},
		Range: &rng,
	}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, bytes.Repeat([]byte("b"), 50), out.Bytes())
}

func TestFileEngineRangeCoveringEOFFiresStats(t *testing.T) {
	blocks := map[string][]byte{
		"b1": bytes.Repeat([]byte("a"), 100),
		"b2": bytes.Repeat([]byte("b"), 100),
		"b3": bytes.Repeat([]byte("c"), 50),
	}
	store := newMemStore(t, "store1", blocks)

	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reporter := stats.New(db.Conn())

	rng, err := rangeparse.Parse("bytes=-10", 250)
	require.NoError(t, err)

	e := &FileEngine{
		Store: store, Stats: reporter, StoreID: "store1", Version: "1", Username: "alice",
		Op:    storage.OpDownload,
		File:  storage.FileDescriptor{FileSize: 250, BlockIDs: []string{"b1", "b2", "b3"}},
		Range: &rng,
	}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, bytes.Repeat([]byte("c"), 10), out.Bytes())
	reporter.Wait()

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM usage_events").Scan(&count))
	require.Equal(t, 1, count)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := append([]byte(nil), data...)
	for i := 0; i < padLen; i++ {
		padded = append(padded, byte(padLen))
	}
	return padded
}

func TestFileEngineEncrypted(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 16)
	plaintext1 := []byte("first block plaintext data")
	plaintext2 := []byte("second block plaintext, longer this time")

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	encryptBlock := func(plain []byte) []byte {
		padded := pkcs7Pad(plain, block.BlockSize())
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return out
	}

	blocks := map[string][]byte{
		"b1": encryptBlock(plaintext1),
		"b2": encryptBlock(plaintext2),
	}
	store := newMemStore(t, "store1", blocks)
	reporter := stats.New(nil)

	e := &FileEngine{
		Store: store, Stats: reporter, StoreID: "store1", Version: "1", Username: "alice",
		Op:   storage.OpDownload,
		File: storage.FileDescriptor{FileSize: int64(len(plaintext1) + len(plaintext2)), BlockIDs: []string{"b1", "b2"}},
		Key:  &keys.DecryptKey{Key: key, IV: iv},
	}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, append(append([]byte{}, plaintext1...), plaintext2...), out.Bytes())
}

// TestFileEngineEncryptedLegacyKeySize exercises an enc_version == 1
// repository, whose repo_keys row carries a 16-byte key rather than
// the modern 32-byte one.
func TestFileEngineEncryptedLegacyKeySize(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	plaintext := []byte("legacy repo plaintext")

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	store := newMemStore(t, "store1", map[string][]byte{"b1": ciphertext})
	reporter := stats.New(nil)

	e := &FileEngine{
		Store: store, Stats: reporter, StoreID: "store1", Version: "1", Username: "alice",
		Op:   storage.OpDownload,
		File: storage.FileDescriptor{FileSize: int64(len(plaintext)), BlockIDs: []string{"b1"}},
		Key:  &keys.DecryptKey{Key: key, IV: iv},
	}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out))
	require.Equal(t, plaintext, out.Bytes())
}

func TestZipEngineStream(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/archives/tok1.zip", []byte("zip archive contents"), 0o644))

	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	archiveMgr := archives.New(db.Conn())
	require.NoError(t, archiveMgr.PutZipFilePath(context.Background(), "tok1", "/archives/tok1.zip"))

	reporter := stats.New(nil)
	e := &ZipEngine{FS: fs, Archives: archiveMgr, Stats: reporter, StoreID: "store1", Username: "alice", Token: "tok1", Op: storage.OpDownloadLink}

	var out bytes.Buffer
	require.NoError(t, e.Stream(context.Background(), &out, "/archives/tok1.zip"))
	require.Equal(t, "zip archive contents", out.String())

	_, err = archiveMgr.GetZipFilePath(context.Background(), "tok1")
	require.ErrorIs(t, err, archives.ErrNotFound)
}
