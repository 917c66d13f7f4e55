package transport

import (
	"context"
	"crypto/ecdsa"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
)

const (
	DefaultListenAddr     = ":9876"
	DefaultRequestTimeout = 5 * time.Second
	DefaultHandlerTimeout = 400 * time.Millisecond
	DefaultInboundBuffer  = 128
)

// Transport carries TALKREQ/TALKRESP exchanges for the overlay networks and
// owns the shared routing table.
type Transport interface {
	// Self returns the local node record.
	Self() *enode.Node
	// TalkRequest sends payload to n under protocolID and waits for the response.
	TalkRequest(ctx context.Context, n *enode.Node, protocolID string, payload []byte) ([]byte, error)
	// Subscribe returns the inbound request stream of one protocol id.
	Subscribe(protocolID string) (<-chan *TalkRequest, error)
	Table() *Table
	AddEnr(n *enode.Node) error
	ConnectedPeers() []enode.ID
	// DiscoverNodes runs one maintenance lookup and merges its result into the table.
	DiscoverNodes(ctx context.Context) (int, error)
	Start(addr string) error
	Close()
}

// TalkRequest is one inbound request. It can be replied to at most once.
type TalkRequest struct {
	ID       enode.ID
	Node     *enode.Node // nil when the source record is unknown
	Addr     *net.UDPAddr
	Protocol string
	Payload  []byte

	reply chan []byte
}

func NewTalkRequest(id enode.ID, node *enode.Node, addr *net.UDPAddr, protocol string, payload []byte) *TalkRequest {
	return &TalkRequest{
		ID:       id,
		Node:     node,
		Addr:     addr,
		Protocol: protocol,
		Payload:  payload,
		reply:    make(chan []byte, 1),
	}
}

// Reply fills the reply slot. It returns false if the slot was already filled.
func (r *TalkRequest) Reply(resp []byte) bool {
	select {
	case r.reply <- resp:
		return true
	default:
		return false
	}
}

// Await waits for the reply up to timeout.
func (r *TalkRequest) Await(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-r.reply:
		return resp, true
	case <-timer.C:
		return nil, false
	}
}

// Config holds the settings of a transport.
type Config struct {
	PrivateKey     *ecdsa.PrivateKey
	PrivateKeyHex  string   // used when PrivateKey is nil
	ListenAddr     string   // UDP listen address
	Bootnodes      []string // enr: or enode: URLs
	NodeDBPath     string   // empty for an in-memory node database
	RequestTimeout time.Duration
	HandlerTimeout time.Duration
	InboundBuffer  int
	ValidSchemes   enr.IdentityScheme
	Log            log.Logger
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		RequestTimeout: DefaultRequestTimeout,
		HandlerTimeout: DefaultHandlerTimeout,
		InboundBuffer:  DefaultInboundBuffer,
		ValidSchemes:   enode.ValidSchemes,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.InboundBuffer == 0 {
		cfg.InboundBuffer = DefaultInboundBuffer
	}
	if cfg.ValidSchemes == nil {
		cfg.ValidSchemes = enode.ValidSchemes
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return cfg
}
