package portalwire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func maxRadius() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

func TestRoundTrip(t *testing.T) {
	enr1 := bytes.Repeat([]byte{0xaa}, 120)
	enr2 := bytes.Repeat([]byte{0xbb}, 300)

	// want is set when the decoded form differs: empty lists and byte lists
	// decode as nil.
	tests := []struct {
		name string
		msg  Message
		want Message
	}{
		{"ping", &Ping{EnrSeq: 1, DataRadius: maxRadius()}, nil},
		{"ping zero radius", &Ping{EnrSeq: 0, DataRadius: uint256.NewInt(0)}, nil},
		{"pong", &Pong{EnrSeq: 42, DataRadius: uint256.NewInt(1 << 40)}, nil},
		{"findnodes", &FindNodes{Distances: []uint16{256, 255, 254}}, nil},
		{"findnodes self", &FindNodes{Distances: []uint16{0}}, nil},
		{"findnodes empty", &FindNodes{}, nil},
		{"nodes empty", &Nodes{Total: 1}, nil},
		{"nodes", &Nodes{Total: 1, Enrs: [][]byte{enr1, enr2}}, nil},
		{"findcontent", &FindContent{ContentKey: []byte("portal")}, nil},
		{"content connection id", &Content{Selector: ContentConnIdSelector, ConnectionID: []byte{0x01, 0x02}}, nil},
		{"content raw", &Content{Selector: ContentRawSelector, Payload: []byte("the content")}, nil},
		{"content enrs", &Content{Selector: ContentEnrsSelector, Enrs: [][]byte{enr1, enr2}}, nil},
		{"content no enrs", &Content{Selector: ContentEnrsSelector}, nil},
		{"findcontent empty key", &FindContent{}, nil},
		{"findcontent zero length key", &FindContent{ContentKey: []byte{}}, &FindContent{}},
		{"nodes zero length list", &Nodes{Total: 1, Enrs: [][]byte{}}, &Nodes{Total: 1}},
		{"content raw empty", &Content{Selector: ContentRawSelector}, nil},
		{"content raw zero length", &Content{Selector: ContentRawSelector, Payload: []byte{}}, &Content{Selector: ContentRawSelector}},
		{"content zero length enrs", &Content{Selector: ContentEnrsSelector, Enrs: [][]byte{}}, &Content{Selector: ContentEnrsSelector}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			require.Equal(t, tt.msg.Code(), data[0])
			require.Equal(t, 1+tt.msg.SizeSSZ(), len(data))

			want := tt.want
			if want == nil {
				want = tt.msg
			}
			decoded, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, want, decoded)
		})
	}
}

func TestEncodeVectors(t *testing.T) {
	radius := new(uint256.Int).Sub(maxRadius(), uint256.NewInt(1))
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "ping",
			msg:  &Ping{EnrSeq: 1, DataRadius: radius},
			want: "0x0001000000000000000c000000feffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		},
		{
			name: "findnodes",
			msg:  &FindNodes{Distances: []uint16{256, 255}},
			want: "0x02040000000001ff00",
		},
		{
			name: "nodes empty",
			msg:  &Nodes{Total: 1},
			want: "0x030105000000",
		},
		{
			name: "findcontent",
			msg:  &FindContent{ContentKey: hexutil.MustDecode("0x706f7274616c")},
			want: "0x0404000000706f7274616c",
		},
		{
			name: "content connection id",
			msg:  &Content{Selector: ContentConnIdSelector, ConnectionID: []byte{0x01, 0x02}},
			want: "0x05000102",
		},
		{
			name: "content raw",
			msg:  &Content{Selector: ContentRawSelector, Payload: []byte("the content")},
			want: "0x0501" + hexutil.Encode([]byte("the content"))[2:],
		},
		{
			name: "content enrs",
			msg:  &Content{Selector: ContentEnrsSelector, Enrs: [][]byte{{0x01}, {0x02, 0x03}}},
			want: "0x0502" + "08000000" + "09000000" + "01" + "0203",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			require.Equal(t, tt.want, hexutil.Encode(data))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	validPing, err := Encode(&Ping{EnrSeq: 7, DataRadius: maxRadius()})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
		kind  error
		field string
	}{
		{"empty", nil, ErrTruncated, "message code"},
		{"offer code", []byte{0x06, 0x00}, ErrUnknownDiscriminant, "message code"},
		{"accept code", []byte{0x07}, ErrUnknownDiscriminant, "message code"},
		{"garbage code", []byte{0xff, 0x01, 0x02}, ErrUnknownDiscriminant, "message code"},
		{"ping short", validPing[:8], ErrTruncated, "enr_seq"},
		{"ping short radius", validPing[:len(validPing)-1], ErrTruncated, "data_radius"},
		{"ping trailing", append(append([]byte{}, validPing...), 0x00), ErrFieldOutOfRange, "data_radius"},
		{"ping bad offset", append([]byte{PING, 1, 0, 0, 0, 0, 0, 0, 0, 0x0d, 0, 0, 0}, make([]byte, 32)...), ErrFieldOutOfRange, "custom_payload"},
		{"findnodes odd", []byte{FINDNODES, 4, 0, 0, 0, 1}, ErrFieldOutOfRange, "distances"},
		{"findnodes above max", []byte{FINDNODES, 4, 0, 0, 0, 0x01, 0x01}, ErrFieldOutOfRange, "distances"},
		{"findnodes duplicate", []byte{FINDNODES, 4, 0, 0, 0, 0xff, 0x00, 0xff, 0x00}, ErrFieldOutOfRange, "distances"},
		{"nodes short", []byte{NODES, 1, 5, 0}, ErrTruncated, "total"},
		{"nodes bad list offset", []byte{NODES, 1, 5, 0, 0, 0, 3, 0, 0, 0}, ErrFieldOutOfRange, "enrs"},
		{"nodes decreasing offsets", []byte{NODES, 1, 5, 0, 0, 0, 8, 0, 0, 0, 7, 0, 0, 0}, ErrFieldOutOfRange, "enrs"},
		{"findcontent short", []byte{FINDCONTENT, 4, 0}, ErrTruncated, "content_key"},
		{"findcontent bad offset", []byte{FINDCONTENT, 5, 0, 0, 0, 0x01}, ErrFieldOutOfRange, "content_key"},
		{"content no selector", []byte{CONTENT}, ErrTruncated, "content selector"},
		{"content unknown selector", []byte{CONTENT, 0x03, 0x01}, ErrUnknownDiscriminant, "content selector"},
		{"content short connection id", []byte{CONTENT, 0x00, 0x01}, ErrTruncated, "connection_id"},
		{"content long connection id", []byte{CONTENT, 0x00, 0x01, 0x02, 0x03}, ErrFieldOutOfRange, "connection_id"},
		{"content raw too big", append([]byte{CONTENT, 0x01}, make([]byte, MaxByteListSize+1)...), ErrFieldOutOfRange, "content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.input)
			require.Nil(t, msg)
			require.ErrorIs(t, err, tt.kind)

			var cerr *CodecError
			require.True(t, errors.As(err, &cerr))
			require.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tooMany := make([][]byte, MaxEnrs+1)
	for i := range tooMany {
		tooMany[i] = []byte{byte(i)}
	}
	distances := make([]uint16, 0, 257)
	for i := 0; i <= MaxDistance; i++ {
		distances = append(distances, uint16(i))
	}

	tests := []struct {
		name string
		msg  Message
		kind error
	}{
		{"nil", nil, ErrFieldOutOfRange},
		{"ping without radius", &Ping{EnrSeq: 1}, ErrFieldOutOfRange},
		{"pong without radius", &Pong{EnrSeq: 1}, ErrFieldOutOfRange},
		{"distance above max", &FindNodes{Distances: []uint16{257}}, ErrFieldOutOfRange},
		{"duplicate distance", &FindNodes{Distances: []uint16{3, 3}}, ErrFieldOutOfRange},
		{"too many distances", &FindNodes{Distances: distances}, ErrFieldOutOfRange},
		{"too many enrs", &Nodes{Total: 1, Enrs: tooMany}, ErrFieldOutOfRange},
		{"enr too big", &Nodes{Total: 1, Enrs: [][]byte{make([]byte, MaxByteListSize+1)}}, ErrFieldOutOfRange},
		{"content key too big", &FindContent{ContentKey: make([]byte, MaxByteListSize+1)}, ErrFieldOutOfRange},
		{"short connection id", &Content{Selector: ContentConnIdSelector, ConnectionID: []byte{1}}, ErrFieldOutOfRange},
		{"mixed content", &Content{Selector: ContentRawSelector, Payload: []byte{1}, Enrs: [][]byte{{2}}}, ErrFieldOutOfRange},
		{"unknown selector", &Content{Selector: 0x09}, ErrUnknownDiscriminant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			require.ErrorIs(t, err, tt.kind)
		})
	}

	_, err := Encode(&FindNodes{Distances: distances[1:]})
	require.NoError(t, err)
}

func TestDecodeCopiesInput(t *testing.T) {
	data, err := Encode(&FindContent{ContentKey: []byte{1, 2, 3}})
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	data[len(data)-1] = 0xff
	require.Equal(t, []byte{1, 2, 3}, msg.(*FindContent).ContentKey)
}

func TestProtocolId(t *testing.T) {
	require.Equal(t, "0x500a", State.String())
	require.Equal(t, "state", State.Name())
	require.Equal(t, "history", History.Name())
	require.Equal(t, "0x501a", ProtocolId("\x50\x1a").Name())

	id, ok := ProtocolIdFromName("history")
	require.True(t, ok)
	require.Equal(t, History, id)
	_, ok = ProtocolIdFromName("beacon")
	require.False(t, ok)
}
