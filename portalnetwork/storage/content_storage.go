package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
)

var ErrContentNotFound = fmt.Errorf("content not found")

var ErrInsufficientRadius = errors.New("insufficient radius")

// MaxDistance is the largest possible distance, the radius of a node that
// accepts every content id.
var MaxDistance = new(uint256.Int).SetAllOne()

type ContentStorage interface {
	Get(contentKey []byte, contentId []byte) ([]byte, error)

	Put(contentKey []byte, contentId []byte, content []byte) error

	Radius() *uint256.Int
}

// Stats is implemented by stores that track their usage.
type Stats interface {
	ContentCount() uint64
	UsedSize() uint64
}

// Distance returns the XOR distance between a content id and a node id.
func Distance(contentId []byte, nodeId enode.ID) *uint256.Int {
	return new(uint256.Int).SetBytes32(xor(contentId, nodeId[:]))
}

// InRadius reports whether contentId lies within radius of nodeId.
func InRadius(contentId []byte, nodeId enode.ID, radius *uint256.Int) bool {
	return Distance(contentId, nodeId).Cmp(radius) <= 0
}

// xor returns the 32 byte XOR of two ids. Shorter inputs are right padded
// with zeroes.
func xor(contentId, nodeId []byte) []byte {
	res := make([]byte, 32)
	for i := range res {
		var a, b byte
		if i < len(contentId) {
			a = contentId[i]
		}
		if i < len(nodeId) {
			b = nodeId[i]
		}
		res[i] = a ^ b
	}
	return res
}
