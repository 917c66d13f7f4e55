package portalwire

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	ssz "github.com/ferranbt/fastssz"
	"github.com/holiman/uint256"
)

// ProtocolId is the raw talk protocol identifier of an overlay network.
type ProtocolId string

// Protocol IDs for the portal protocol.
const (
	State   ProtocolId = "\x50\x0a"
	History ProtocolId = "\x50\x0b"
)

var protocolNames = map[ProtocolId]string{
	State:   "state",
	History: "history",
}

// Name returns the short network name used in logs and metrics.
func (p ProtocolId) Name() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return p.String()
}

func (p ProtocolId) String() string {
	return hexutil.Encode([]byte(p))
}

// ProtocolIdFromName resolves a network name ("state", "history") to its id.
func ProtocolIdFromName(name string) (ProtocolId, bool) {
	for id, n := range protocolNames {
		if n == name {
			return id, true
		}
	}
	return "", false
}

// Message codes for the portal protocol.
const (
	PING        byte = 0x00
	PONG        byte = 0x01
	FINDNODES   byte = 0x02
	NODES       byte = 0x03
	FINDCONTENT byte = 0x04
	CONTENT     byte = 0x05
)

// Content selectors for the portal protocol.
const (
	ContentConnIdSelector byte = 0x00
	ContentRawSelector    byte = 0x01
	ContentEnrsSelector   byte = 0x02
)

// List and byte limits of the wire containers.
const (
	MaxDistance       = 256
	MaxDistancesCount = 256
	MaxEnrs           = 32
	MaxByteListSize   = 2048
	ConnectionIdSize  = 2
	radiusSize        = 32
)

// Message is one of the six portal wire messages. The set is closed.
type Message interface {
	ssz.Marshaler
	ssz.Unmarshaler
	Code() byte
	portalMessage()
}

// Request messages for the portal protocol.
type (
	Ping struct {
		EnrSeq     uint64
		DataRadius *uint256.Int
	}

	FindNodes struct {
		Distances []uint16
	}

	FindContent struct {
		ContentKey []byte
	}
)

// Response messages for the portal protocol.
type (
	Pong struct {
		EnrSeq     uint64
		DataRadius *uint256.Int
	}

	Nodes struct {
		Total uint8
		Enrs  [][]byte
	}

	// Content carries exactly one of ConnectionID, Payload or Enrs, chosen by Selector.
	Content struct {
		Selector     byte
		ConnectionID []byte
		Payload      []byte
		Enrs         [][]byte
	}
)

func (*Ping) Code() byte        { return PING }
func (*Pong) Code() byte        { return PONG }
func (*FindNodes) Code() byte   { return FINDNODES }
func (*Nodes) Code() byte       { return NODES }
func (*FindContent) Code() byte { return FINDCONTENT }
func (*Content) Code() byte     { return CONTENT }

func (*Ping) portalMessage()        {}
func (*Pong) portalMessage()        {}
func (*FindNodes) portalMessage()   {}
func (*Nodes) portalMessage()       {}
func (*FindContent) portalMessage() {}
func (*Content) portalMessage()     {}

// IsRequest reports whether code names a request message.
func IsRequest(code byte) bool {
	return code == PING || code == FINDNODES || code == FINDCONTENT
}

// MessageName returns the log name of a message code.
func MessageName(code byte) string {
	switch code {
	case PING:
		return "PING"
	case PONG:
		return "PONG"
	case FINDNODES:
		return "FIND_NODES"
	case NODES:
		return "NODES"
	case FINDCONTENT:
		return "FIND_CONTENT"
	case CONTENT:
		return "CONTENT"
	default:
		return "UNKNOWN"
	}
}
