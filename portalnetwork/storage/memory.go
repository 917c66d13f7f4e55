package storage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/p2p/enode"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
)

// MemoryStorage is a bounded in-memory content store. When full, the least
// recently used item is evicted.
type MemoryStorage struct {
	nodeId enode.ID
	cache  *lru.Cache[string, []byte]

	mu     sync.RWMutex
	radius *uint256.Int
	size   uint64
}

var _ ContentStorage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a store holding at most maxItems items. A nil radius
// accepts every content id.
func NewMemoryStorage(maxItems int, nodeId enode.ID, radius *uint256.Int) (*MemoryStorage, error) {
	if radius == nil {
		radius = MaxDistance
	}
	s := &MemoryStorage{nodeId: nodeId, radius: radius.Clone()}
	cache, err := lru.NewWithEvict[string, []byte](maxItems, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *MemoryStorage) onEvict(key string, value []byte) {
	s.mu.Lock()
	s.size -= uint64(len(value))
	s.mu.Unlock()
}

func (s *MemoryStorage) Get(contentKey []byte, contentId []byte) ([]byte, error) {
	content, ok := s.cache.Get(hexutil.Encode(contentId))
	if !ok {
		return nil, ErrContentNotFound
	}
	return content, nil
}

func (s *MemoryStorage) Put(contentKey []byte, contentId []byte, content []byte) error {
	if !InRadius(contentId, s.nodeId, s.Radius()) {
		return ErrInsufficientRadius
	}
	value := make([]byte, len(content))
	copy(value, content)
	key := hexutil.Encode(contentId)
	s.cache.Remove(key)
	s.mu.Lock()
	s.size += uint64(len(value))
	s.mu.Unlock()
	s.cache.Add(key, value)
	return nil
}

func (s *MemoryStorage) Radius() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radius.Clone()
}

// SetRadius changes the radius. Stored items are kept.
func (s *MemoryStorage) SetRadius(radius *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.radius = radius.Clone()
}

func (s *MemoryStorage) ContentCount() uint64 {
	return uint64(s.cache.Len())
}

func (s *MemoryStorage) UsedSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
