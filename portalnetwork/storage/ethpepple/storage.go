package ethpepple

import (
	"bytes"
	"errors"
	"runtime"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	"github.com/portal-network/go-portal/portalnetwork/storage"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to pebble
	// read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the open
	// database files.
	minHandles = 16

	// pruneRatio is the share of the capacity kept after a prune.
	pruneRatio = 0.95

	contentPrefix = "content/"
	metaPrefix    = "meta/"
)

// NewPeppleDB opens the pebble database shared by every network of a node.
func NewPeppleDB(dataDir string, cache, handles int, namespace string) (*pebble.DB, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := log.New("database", dataDir, "namespace", namespace)
	logger.Info("Allocated cache and file handles", "cache", common.StorageSize(cache*1024*1024), "handles", handles)

	return pebble.Open(dataDir, &pebble.Options{
		Cache:                    pebble.NewCache(int64(cache * 1024 * 1024)),
		MaxOpenFiles:             handles,
		MemTableSize:             uint64(cache * 1024 * 1024 / 4),
		MaxConcurrentCompactions: func() int { return runtime.NumCPU() },
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
}

type PeppleStorageConfig struct {
	StorageCapacityMB uint64
	DB                *pebble.DB
	NodeId            enode.ID
	NetworkName       string
}

// ContentStorage stores the content of one network. Items are keyed by their
// distance to the local node, so the farthest items are the last keys.
type ContentStorage struct {
	db          *pebble.DB
	nodeId      enode.ID
	networkName string
	capacity    uint64
	prefix      []byte
	radiusKey   []byte
	log         log.Logger

	mu     sync.RWMutex
	radius *uint256.Int
	size   uint64
	count  uint64
}

var _ storage.ContentStorage = (*ContentStorage)(nil)

// NewPeppleStorage opens the namespace of config.NetworkName. Usage is
// recounted from disk and the store is pruned if it exceeds the capacity.
func NewPeppleStorage(config PeppleStorageConfig) (*ContentStorage, error) {
	cs := &ContentStorage{
		db:          config.DB,
		nodeId:      config.NodeId,
		networkName: config.NetworkName,
		capacity:    config.StorageCapacityMB * 1000_000,
		prefix:      []byte(contentPrefix + config.NetworkName + "/"),
		radiusKey:   []byte(metaPrefix + config.NetworkName + "/radius"),
		log:         log.New("storage", config.NetworkName),
		radius:      storage.MaxDistance.Clone(),
	}
	if err := cs.loadRadius(); err != nil {
		return nil, err
	}
	if err := cs.recount(); err != nil {
		return nil, err
	}
	if cs.size > cs.capacity {
		cs.mu.Lock()
		err := cs.prune()
		cs.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func (c *ContentStorage) loadRadius() error {
	data, closer, err := c.db.Get(c.radiusKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	c.radius = new(uint256.Int).SetBytes32(data)
	return nil
}

func (c *ContentStorage) recount() error {
	iter, err := c.db.NewIter(c.iterOptions())
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		c.size += itemSize(len(iter.Key())-len(c.prefix), len(iter.Value()))
		c.count++
	}
	return iter.Error()
}

func (c *ContentStorage) iterOptions() *pebble.IterOptions {
	upper := append([]byte{}, c.prefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: c.prefix, UpperBound: upper}
}

func (c *ContentStorage) key(contentId []byte) []byte {
	distance := storage.Distance(contentId, c.nodeId).Bytes32()
	return append(append([]byte{}, c.prefix...), distance[:]...)
}

func itemSize(idLen, contentLen int) uint64 {
	return uint64(idLen + contentLen)
}

func (c *ContentStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	data, closer, err := c.db.Get(c.key(contentId))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(data), nil
}

// Put stores content if its id is within the radius. The store is pruned
// when the capacity is exceeded, which may drop the item just stored.
func (c *ContentStorage) Put(contentKey []byte, contentId []byte, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if storage.Distance(contentId, c.nodeId).Cmp(c.radius) > 0 {
		return storage.ErrInsufficientRadius
	}
	key := c.key(contentId)
	old, closer, err := c.db.Get(key)
	switch {
	case err == nil:
		c.size -= itemSize(len(key)-len(c.prefix), len(old))
		c.count--
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}
	if err := c.db.Set(key, content, pebble.NoSync); err != nil {
		return err
	}
	c.size += itemSize(len(key)-len(c.prefix), len(content))
	c.count++
	if c.size > c.capacity {
		return c.prune()
	}
	return nil
}

// prune deletes the farthest items until usage drops below pruneRatio of the
// capacity, then shrinks the radius to the farthest item left.
func (c *ContentStorage) prune() error {
	target := uint64(float64(c.capacity) * pruneRatio)
	iter, err := c.db.NewIter(c.iterOptions())
	if err != nil {
		return err
	}
	batch := c.db.NewBatch()
	deleted := 0
	valid := iter.Last()
	for ; valid && c.size > target; valid = iter.Prev() {
		if err := batch.Delete(bytes.Clone(iter.Key()), nil); err != nil {
			iter.Close()
			return err
		}
		c.size -= itemSize(len(iter.Key())-len(c.prefix), len(iter.Value()))
		c.count--
		deleted++
	}
	radius := new(uint256.Int)
	if valid {
		radius.SetBytes32(iter.Key()[len(c.prefix):])
	}
	if err := iter.Close(); err != nil {
		return err
	}
	encoded := radius.Bytes32()
	if err := batch.Set(c.radiusKey, encoded[:], nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}
	c.radius = radius
	c.log.Debug("Pruned content", "deleted", deleted, "size", c.size, "capacity", c.capacity, "radius", radius.Hex())
	return nil
}

func (c *ContentStorage) Radius() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.radius.Clone()
}

func (c *ContentStorage) ContentCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

func (c *ContentStorage) UsedSize() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}
