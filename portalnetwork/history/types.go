package history

import (
	"fmt"
)

type ContentType byte

const (
	BlockHeaderType      ContentType = 0x00
	BlockBodyType        ContentType = 0x01
	ReceiptsType         ContentType = 0x02
	EpochAccumulatorType ContentType = 0x03
)

func (c ContentType) String() string {
	switch c {
	case BlockHeaderType:
		return "header"
	case BlockBodyType:
		return "body"
	case ReceiptsType:
		return "receipts"
	case EpochAccumulatorType:
		return "epochAccumulator"
	}
	return fmt.Sprintf("unknown(%#x)", byte(c))
}

// ContentKey identifies a history item: a selector followed by a 32 byte hash.
type ContentKey struct {
	selector ContentType
	data     []byte
}

func newContentKey(selector ContentType, hash []byte) *ContentKey {
	return &ContentKey{
		selector: selector,
		data:     hash,
	}
}

func (c *ContentKey) encode() []byte {
	res := make([]byte, 0, len(c.data)+1)
	res = append(res, byte(c.selector))
	res = append(res, c.data...)
	return res
}

// DecodeContentKey parses an encoded history content key.
func DecodeContentKey(key []byte) (*ContentKey, error) {
	if len(key) != 33 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidContentKey, len(key))
	}
	selector := ContentType(key[0])
	if selector > EpochAccumulatorType {
		return nil, fmt.Errorf("%w: selector %#x", ErrInvalidContentKey, key[0])
	}
	return newContentKey(selector, append([]byte(nil), key[1:]...)), nil
}

func (c *ContentKey) Selector() ContentType { return c.selector }

func (c *ContentKey) Hash() []byte { return c.data }
