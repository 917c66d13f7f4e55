package ethpepple

import (
	"testing"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genBytes(length int) []byte {
	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = byte(i)
	}
	return res
}

func TestNewPeppleDB(t *testing.T) {
	db, err := NewPeppleDB(t.TempDir(), 16, 16, "test")
	assert.NoError(t, err)
	defer db.Close()

	assert.NotNil(t, db)
}

func setupTestStorage(t *testing.T, dir string, network string) *ContentStorage {
	db, err := NewPeppleDB(dir, 16, 16, "test")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	config := PeppleStorageConfig{
		StorageCapacityMB: 1,
		DB:                db,
		NodeId:            uint256.NewInt(0).Bytes32(),
		NetworkName:       network,
	}

	storage, err := NewPeppleStorage(config)
	require.NoError(t, err)
	return storage
}

func TestContentStoragePutAndGet(t *testing.T) {
	db := setupTestStorage(t, t.TempDir(), "test")

	testCases := []struct {
		contentKey []byte
		contentId  []byte
		content    []byte
	}{
		{[]byte("key1"), []byte("id1"), []byte("content1")},
		{[]byte("key2"), []byte("id2"), []byte("content2")},
	}

	for _, tc := range testCases {
		err := db.Put(tc.contentKey, tc.contentId, tc.content)
		assert.NoError(t, err)

		got, err := db.Get(tc.contentKey, tc.contentId)
		assert.NoError(t, err)
		assert.Equal(t, tc.content, got)
	}
	_, err := db.Get([]byte("key3"), []byte("id3"))
	assert.ErrorIs(t, err, storage.ErrContentNotFound)

	assert.Equal(t, uint64(2), db.ContentCount())
	assert.Equal(t, uint64(2*(32+8)), db.UsedSize())

	// Overwriting keeps a single item.
	require.NoError(t, db.Put([]byte("key1"), []byte("id1"), []byte("c1")))
	assert.Equal(t, uint64(2), db.ContentCount())
	assert.Equal(t, uint64(32+2+32+8), db.UsedSize())
}

func TestRadius(t *testing.T) {
	db := setupTestStorage(t, t.TempDir(), "test")
	radius := db.Radius()
	assert.NotNil(t, radius)
	assert.True(t, radius.Eq(storage.MaxDistance))
}

func TestNamespaces(t *testing.T) {
	dir := t.TempDir()
	db, err := NewPeppleDB(dir, 16, 16, "test")
	require.NoError(t, err)
	defer db.Close()

	state, err := NewPeppleStorage(PeppleStorageConfig{StorageCapacityMB: 1, DB: db, NetworkName: "state"})
	require.NoError(t, err)
	history, err := NewPeppleStorage(PeppleStorageConfig{StorageCapacityMB: 1, DB: db, NetworkName: "history"})
	require.NoError(t, err)

	require.NoError(t, state.Put([]byte("k"), []byte("id"), []byte("state data")))
	_, err = history.Get([]byte("k"), []byte("id"))
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
	assert.Equal(t, uint64(0), history.ContentCount())
}

// the capacity is 1MB, so prune will delete over 50Kb content
func TestPrune(t *testing.T) {
	dir := t.TempDir()
	pdb, err := NewPeppleDB(dir, 16, 16, "test")
	require.NoError(t, err)
	db, err := NewPeppleStorage(PeppleStorageConfig{
		StorageCapacityMB: 1,
		DB:                pdb,
		NodeId:            uint256.NewInt(0).Bytes32(),
		NetworkName:       "test",
	})
	require.NoError(t, err)
	// the nodeId is zeros, so contentKey and contentId is the same
	testcases := []struct {
		contentKey  [32]byte
		content     []byte
		outOfRadius bool
		err         error
	}{
		{
			contentKey: uint256.NewInt(1).Bytes32(),
			content:    genBytes(900_000),
		},
		{
			contentKey: uint256.NewInt(2).Bytes32(),
			content:    genBytes(40_000),
		},
		{
			contentKey: uint256.NewInt(3).Bytes32(),
			content:    genBytes(20_000),
			err:        storage.ErrContentNotFound,
		},
		{
			contentKey: uint256.NewInt(4).Bytes32(),
			content:    genBytes(20_000),
			err:        storage.ErrContentNotFound,
		},
		{
			contentKey: uint256.NewInt(5).Bytes32(),
			content:    genBytes(20_000),
			err:        storage.ErrContentNotFound,
		},
		{
			contentKey:  uint256.NewInt(6).Bytes32(),
			content:     genBytes(20_000),
			err:         storage.ErrInsufficientRadius,
			outOfRadius: true,
		},
		{
			contentKey:  uint256.NewInt(7).Bytes32(),
			content:     genBytes(20_000),
			err:         storage.ErrInsufficientRadius,
			outOfRadius: true,
		},
	}

	for _, val := range testcases {
		err := db.Put(val.contentKey[:], val.contentKey[:], val.content)
		if err != nil {
			assert.Equal(t, val.err, err)
		}
	}
	for _, val := range testcases {
		content, err := db.Get(val.contentKey[:], val.contentKey[:])
		if err == nil {
			assert.Equal(t, val.content, content)
		} else if !val.outOfRadius {
			assert.Equal(t, val.err, err)
		}
	}
	assert.True(t, db.Radius().Eq(uint256.NewInt(2)))
	assert.Equal(t, uint64(2), db.ContentCount())
	assert.LessOrEqual(t, db.UsedSize(), uint64(950_000))

	// The radius and the accounting survive a restart.
	require.NoError(t, pdb.Close())
	reopened := setupTestStorage(t, dir, "test")
	assert.True(t, reopened.Radius().Eq(uint256.NewInt(2)))
	assert.Equal(t, uint64(2), reopened.ContentCount())
	assert.Equal(t, db.UsedSize(), reopened.UsedSize())
}

func TestDistanceKeyOrder(t *testing.T) {
	db := setupTestStorage(t, t.TempDir(), "test")
	db.nodeId = enode.ID{0xff}

	near := append([]byte{0xff}, make([]byte, 31)...)
	far := make([]byte, 32)
	assert.Less(t, string(db.key(near)), string(db.key(far)))
}
