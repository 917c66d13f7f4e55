package portalwire

import (
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"
	"github.com/holiman/uint256"
)

// Ping/Pong: enr_seq uint64 | offset(custom_payload) | custom_payload.
// The custom payload is the container {data_radius uint256}.
const pingPongFixedSize = 8 + 4

var errMissingRadius = errors.New("missing data radius")

func marshalPingPong(dst []byte, seq uint64, radius *uint256.Int) ([]byte, error) {
	if radius == nil {
		return nil, outOfRange("data_radius", errMissingRadius)
	}
	dst = ssz.MarshalUint64(dst, seq)
	dst = ssz.WriteOffset(dst, pingPongFixedSize)
	return append(dst, radiusToLE(radius)...), nil
}

func unmarshalPingPong(buf []byte) (uint64, *uint256.Int, error) {
	if len(buf) < pingPongFixedSize {
		return 0, nil, truncated("enr_seq")
	}
	seq := ssz.UnmarshallUint64(buf[0:8])
	if o := ssz.ReadOffset(buf[8:12]); o != pingPongFixedSize {
		return 0, nil, outOfRange("custom_payload", ssz.ErrOffset)
	}
	payload := buf[pingPongFixedSize:]
	if len(payload) > MaxByteListSize {
		return 0, nil, outOfRange("custom_payload", ssz.ErrBytesLength)
	}
	if len(payload) < radiusSize {
		return 0, nil, truncated("data_radius")
	}
	if len(payload) > radiusSize {
		return 0, nil, outOfRange("data_radius", ssz.ErrSize)
	}
	return seq, radiusFromLE(payload), nil
}

// radiusToLE returns the 32 byte little endian form of r.
func radiusToLE(r *uint256.Int) []byte {
	out := make([]byte, radiusSize)
	be := r.Bytes32()
	for i := 0; i < radiusSize; i++ {
		out[i] = be[radiusSize-1-i]
	}
	return out
}

func radiusFromLE(b []byte) *uint256.Int {
	be := make([]byte, radiusSize)
	for i := 0; i < radiusSize; i++ {
		be[i] = b[radiusSize-1-i]
	}
	return new(uint256.Int).SetBytes32(be)
}

func (p *Ping) MarshalSSZ() ([]byte, error) {
	return p.MarshalSSZTo(make([]byte, 0, p.SizeSSZ()))
}

func (p *Ping) MarshalSSZTo(dst []byte) ([]byte, error) {
	return marshalPingPong(dst, p.EnrSeq, p.DataRadius)
}

func (p *Ping) SizeSSZ() int { return pingPongFixedSize + radiusSize }

func (p *Ping) UnmarshalSSZ(buf []byte) (err error) {
	p.EnrSeq, p.DataRadius, err = unmarshalPingPong(buf)
	return err
}

func (p *Pong) MarshalSSZ() ([]byte, error) {
	return p.MarshalSSZTo(make([]byte, 0, p.SizeSSZ()))
}

func (p *Pong) MarshalSSZTo(dst []byte) ([]byte, error) {
	return marshalPingPong(dst, p.EnrSeq, p.DataRadius)
}

func (p *Pong) SizeSSZ() int { return pingPongFixedSize + radiusSize }

func (p *Pong) UnmarshalSSZ(buf []byte) (err error) {
	p.EnrSeq, p.DataRadius, err = unmarshalPingPong(buf)
	return err
}

// FindNodes: offset(distances) | distances (uint16 little endian each).

func validateDistances(distances []uint16) error {
	if len(distances) > MaxDistancesCount {
		return outOfRange("distances", ssz.ErrListTooBig)
	}
	seen := make(map[uint16]struct{}, len(distances))
	for _, d := range distances {
		if d > MaxDistance {
			return outOfRange("distances", fmt.Errorf("distance %d above %d", d, MaxDistance))
		}
		if _, ok := seen[d]; ok {
			return outOfRange("distances", fmt.Errorf("duplicate distance %d", d))
		}
		seen[d] = struct{}{}
	}
	return nil
}

func (f *FindNodes) MarshalSSZ() ([]byte, error) {
	return f.MarshalSSZTo(make([]byte, 0, f.SizeSSZ()))
}

func (f *FindNodes) MarshalSSZTo(dst []byte) ([]byte, error) {
	if err := validateDistances(f.Distances); err != nil {
		return nil, err
	}
	dst = ssz.WriteOffset(dst, 4)
	for _, d := range f.Distances {
		dst = ssz.MarshalUint16(dst, d)
	}
	return dst, nil
}

func (f *FindNodes) SizeSSZ() int { return 4 + 2*len(f.Distances) }

func (f *FindNodes) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 4 {
		return truncated("distances")
	}
	if o := ssz.ReadOffset(buf[0:4]); o != 4 {
		return outOfRange("distances", ssz.ErrOffset)
	}
	tail := buf[4:]
	if len(tail)%2 != 0 {
		return outOfRange("distances", ssz.ErrSize)
	}
	var distances []uint16
	if len(tail) > 0 {
		distances = make([]uint16, len(tail)/2)
		for i := range distances {
			distances[i] = ssz.UnmarshallUint16(tail[i*2 : i*2+2])
		}
	}
	if err := validateDistances(distances); err != nil {
		return err
	}
	f.Distances = distances
	return nil
}

// Nodes: total uint8 | offset(enrs) | enrs.

func (n *Nodes) MarshalSSZ() ([]byte, error) {
	return n.MarshalSSZTo(make([]byte, 0, n.SizeSSZ()))
}

func (n *Nodes) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = append(dst, n.Total)
	dst = ssz.WriteOffset(dst, 5)
	return marshalByteLists(dst, "enrs", n.Enrs)
}

func (n *Nodes) SizeSSZ() int { return 5 + byteListsSize(n.Enrs) }

func (n *Nodes) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 5 {
		return truncated("total")
	}
	if o := ssz.ReadOffset(buf[1:5]); o != 5 {
		return outOfRange("enrs", ssz.ErrOffset)
	}
	enrs, err := unmarshalByteLists(buf[5:], "enrs")
	if err != nil {
		return err
	}
	n.Total = buf[0]
	n.Enrs = enrs
	return nil
}

// FindContent: offset(content_key) | content_key.

func (f *FindContent) MarshalSSZ() ([]byte, error) {
	return f.MarshalSSZTo(make([]byte, 0, f.SizeSSZ()))
}

func (f *FindContent) MarshalSSZTo(dst []byte) ([]byte, error) {
	if len(f.ContentKey) > MaxByteListSize {
		return nil, outOfRange("content_key", ssz.ErrBytesLength)
	}
	dst = ssz.WriteOffset(dst, 4)
	return append(dst, f.ContentKey...), nil
}

func (f *FindContent) SizeSSZ() int { return 4 + len(f.ContentKey) }

func (f *FindContent) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 4 {
		return truncated("content_key")
	}
	if o := ssz.ReadOffset(buf[0:4]); o != 4 {
		return outOfRange("content_key", ssz.ErrOffset)
	}
	key := buf[4:]
	if len(key) > MaxByteListSize {
		return outOfRange("content_key", ssz.ErrBytesLength)
	}
	f.ContentKey = copyBytes(key)
	return nil
}

// Content: union selector | Bytes2 / ByteList[2048] / List[ByteList[2048], 32].

func (c *Content) validate() error {
	switch c.Selector {
	case ContentConnIdSelector:
		if len(c.ConnectionID) != ConnectionIdSize {
			return outOfRange("connection_id", ssz.ErrBytesLength)
		}
		if len(c.Payload) != 0 || len(c.Enrs) != 0 {
			return outOfRange("content", errors.New("connection id variant carries other fields"))
		}
	case ContentRawSelector:
		if len(c.Payload) > MaxByteListSize {
			return outOfRange("content", ssz.ErrBytesLength)
		}
		if len(c.ConnectionID) != 0 || len(c.Enrs) != 0 {
			return outOfRange("content", errors.New("raw variant carries other fields"))
		}
	case ContentEnrsSelector:
		if len(c.ConnectionID) != 0 || len(c.Payload) != 0 {
			return outOfRange("enrs", errors.New("enrs variant carries other fields"))
		}
	default:
		return unknownDiscriminant("content selector", c.Selector)
	}
	return nil
}

func (c *Content) MarshalSSZ() ([]byte, error) {
	return c.MarshalSSZTo(make([]byte, 0, c.SizeSSZ()))
}

func (c *Content) MarshalSSZTo(dst []byte) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	dst = append(dst, c.Selector)
	switch c.Selector {
	case ContentConnIdSelector:
		return append(dst, c.ConnectionID...), nil
	case ContentRawSelector:
		return append(dst, c.Payload...), nil
	default:
		return marshalByteLists(dst, "enrs", c.Enrs)
	}
}

func (c *Content) SizeSSZ() int {
	switch c.Selector {
	case ContentConnIdSelector:
		return 1 + len(c.ConnectionID)
	case ContentRawSelector:
		return 1 + len(c.Payload)
	default:
		return 1 + byteListsSize(c.Enrs)
	}
}

func (c *Content) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 1 {
		return truncated("content selector")
	}
	body := buf[1:]
	switch buf[0] {
	case ContentConnIdSelector:
		if len(body) < ConnectionIdSize {
			return truncated("connection_id")
		}
		if len(body) > ConnectionIdSize {
			return outOfRange("connection_id", ssz.ErrSize)
		}
		*c = Content{Selector: ContentConnIdSelector, ConnectionID: copyBytes(body)}
	case ContentRawSelector:
		if len(body) > MaxByteListSize {
			return outOfRange("content", ssz.ErrBytesLength)
		}
		*c = Content{Selector: ContentRawSelector, Payload: copyBytes(body)}
	case ContentEnrsSelector:
		enrs, err := unmarshalByteLists(body, "enrs")
		if err != nil {
			return err
		}
		*c = Content{Selector: ContentEnrsSelector, Enrs: enrs}
	default:
		return unknownDiscriminant("content selector", buf[0])
	}
	return nil
}

// List[ByteList[2048], 32] helpers. Variable size items are preceded by a
// table of 4 byte offsets relative to the start of the list.

func byteListsSize(items [][]byte) int {
	size := 4 * len(items)
	for _, item := range items {
		size += len(item)
	}
	return size
}

func marshalByteLists(dst []byte, field string, items [][]byte) ([]byte, error) {
	if len(items) > MaxEnrs {
		return nil, outOfRange(field, ssz.ErrListTooBig)
	}
	offset := 4 * len(items)
	for _, item := range items {
		if len(item) > MaxByteListSize {
			return nil, outOfRange(field, ssz.ErrBytesLength)
		}
		dst = ssz.WriteOffset(dst, offset)
		offset += len(item)
	}
	for _, item := range items {
		dst = append(dst, item...)
	}
	return dst, nil
}

func unmarshalByteLists(buf []byte, field string) ([][]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, truncated(field)
	}
	first := ssz.ReadOffset(buf[0:4])
	if first%4 != 0 || first == 0 || first > uint64(len(buf)) {
		return nil, outOfRange(field, ssz.ErrOffset)
	}
	count := int(first / 4)
	if count > MaxEnrs {
		return nil, outOfRange(field, ssz.ErrListTooBig)
	}
	offsets := make([]uint64, count+1)
	for i := 0; i < count; i++ {
		offsets[i] = ssz.ReadOffset(buf[i*4 : i*4+4])
	}
	offsets[count] = uint64(len(buf))
	items := make([][]byte, count)
	for i := 0; i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if start > end || end > uint64(len(buf)) {
			return nil, outOfRange(field, ssz.ErrOffset)
		}
		if end-start > MaxByteListSize {
			return nil, outOfRange(field, ssz.ErrBytesLength)
		}
		items[i] = copyBytes(buf[start:end])
	}
	return items, nil
}

// copyBytes copies b. Empty byte lists decode as nil, like empty lists.
func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
