package portalwire

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
)

const (
	// maxPacketSize is the largest discv5 packet.
	maxPacketSize = 1280

	// talkRespOverhead is the discv5 framing around a TALKRESP payload: header,
	// auth data, message type, RLP list and request id prefixes, GCM tag.
	talkRespOverhead = 16 + 55 + 1 + 3 + 9 + 3 + 16

	// nodesOverhead is the message code, the total byte and the list offset.
	nodesOverhead = 1 + 1 + 4
	// contentOverhead is the message code and the union selector.
	contentOverhead = 1 + 1
	// enrOverhead is the SSZ offset of one list item.
	enrOverhead = 4

	defaultResultLimit     = 32
	defaultMaxWorkers      = 64
	defaultRouterQueue     = 256
	defaultRadiusCacheSize = 32 * 1024 * 1024
)

type PortalProtocolConfig struct {
	ValidSchemes    enr.IdentityScheme
	RadiusCacheSize int   // bytes of the peer radius cache
	MaxWorkers      int64 // concurrently handled inbound requests
	RouterQueue     int   // pending endpoint commands before Send blocks
	ResultLimit     int   // max ENRs in a Nodes or Content reply
	PacketSize      int
	Log             log.Logger
}

func DefaultPortalProtocolConfig() *PortalProtocolConfig {
	return &PortalProtocolConfig{
		ValidSchemes:    enode.ValidSchemes,
		RadiusCacheSize: defaultRadiusCacheSize,
		MaxWorkers:      defaultMaxWorkers,
		RouterQueue:     defaultRouterQueue,
		ResultLimit:     defaultResultLimit,
		PacketSize:      maxPacketSize,
	}
}

func (c PortalProtocolConfig) withDefaults() PortalProtocolConfig {
	if c.ValidSchemes == nil {
		c.ValidSchemes = enode.ValidSchemes
	}
	if c.RadiusCacheSize == 0 {
		c.RadiusCacheSize = defaultRadiusCacheSize
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.RouterQueue <= 0 {
		c.RouterQueue = defaultRouterQueue
	}
	if c.ResultLimit <= 0 || c.ResultLimit > 32 {
		c.ResultLimit = defaultResultLimit
	}
	if c.PacketSize == 0 {
		c.PacketSize = maxPacketSize
	}
	if c.Log == nil {
		c.Log = log.Root()
	}
	return c
}

// payloadBudget is the room left for a TALKRESP payload in one packet.
func (c PortalProtocolConfig) payloadBudget() int {
	return c.PacketSize - talkRespOverhead
}
