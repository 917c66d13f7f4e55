package transport

import (
	"context"
	"crypto/ecdsa"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

const memoryBasePort = 30000

// MemoryNetwork connects in-process transports. Requests are routed by node id.
type MemoryNetwork struct {
	mu       sync.RWMutex
	members  map[enode.ID]*MemoryTransport
	nextPort int
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		members:  make(map[enode.ID]*MemoryTransport),
		nextPort: memoryBasePort,
	}
}

// NewTransport creates a member of the network. Every member gets a distinct
// loopback UDP port in its record.
func (mn *MemoryNetwork) NewTransport(cfg Config) (*MemoryTransport, error) {
	cfg = cfg.withDefaults()
	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	bootnodes, err := ParseBootnodes(cfg.Bootnodes, cfg.ValidSchemes)
	if err != nil {
		return nil, err
	}
	db, err := enode.OpenDB("")
	if err != nil {
		return nil, err
	}

	mn.mu.Lock()
	port := mn.nextPort
	mn.nextPort++
	mn.mu.Unlock()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	ln := newLocalNode(db, key, addr)
	t := &MemoryTransport{
		network:   mn,
		cfg:       cfg,
		key:       key,
		db:        db,
		localNode: ln,
		addr:      addr,
		table:     NewTable(ln.ID()),
		subs:      newSubscriptions(cfg.InboundBuffer),
		log:       cfg.Log.New("protocol", "memory", "port", port),
	}
	for _, n := range bootnodes {
		t.table.Add(n)
	}
	mn.mu.Lock()
	mn.members[ln.ID()] = t
	mn.mu.Unlock()
	return t, nil
}

func (mn *MemoryNetwork) member(id enode.ID) *MemoryTransport {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return mn.members[id]
}

func (mn *MemoryNetwork) running() []*MemoryTransport {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	list := make([]*MemoryTransport, 0, len(mn.members))
	for _, m := range mn.members {
		if m.isRunning() {
			list = append(list, m)
		}
	}
	return list
}

func (mn *MemoryNetwork) remove(id enode.ID) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	delete(mn.members, id)
}

// MemoryTransport is a Transport whose peers live in the same MemoryNetwork.
type MemoryTransport struct {
	network   *MemoryNetwork
	cfg       Config
	key       *ecdsa.PrivateKey
	db        *enode.DB
	localNode *enode.LocalNode
	addr      *net.UDPAddr
	table     *Table
	subs      *subscriptions
	log       log.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ Transport = (*MemoryTransport)(nil)

func (t *MemoryTransport) Self() *enode.Node { return t.localNode.Node() }

func (t *MemoryTransport) LocalNode() *enode.LocalNode { return t.localNode }

func (t *MemoryTransport) PrivateKey() *ecdsa.PrivateKey { return t.key }

func (t *MemoryTransport) Table() *Table { return t.table }

// Start makes the transport reachable. The address is ignored.
func (t *MemoryTransport) Start(addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &TransportError{Op: "start", Err: ErrClosed}
	}
	if t.started {
		return &TransportError{Op: "start", Err: ErrAlreadyStarted}
	}
	t.started = true
	t.log.Debug("Memory transport started", "id", t.localNode.ID())
	return nil
}

func (t *MemoryTransport) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.closed
}

func (t *MemoryTransport) state() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return ErrClosed
	case !t.started:
		return ErrNotStarted
	}
	return nil
}

func (t *MemoryTransport) Subscribe(protocolID string) (<-chan *TalkRequest, error) {
	ch, err := t.subs.subscribe(protocolID)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	return ch, nil
}

// TalkRequest delivers payload to the member with n's id. A request that is
// never replied to fails with ErrTimeout.
func (t *MemoryTransport) TalkRequest(ctx context.Context, n *enode.Node, protocolID string, payload []byte) ([]byte, error) {
	if err := t.state(); err != nil {
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: err}
	}
	dst := t.network.member(n.ID())
	if dst == nil || !dst.isRunning() {
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrNoSession}
	}
	// Receiving a request teaches the destination about the sender.
	dst.table.Add(t.Self())
	if !dst.subs.has(protocolID) {
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrMalformedResponse}
	}

	req := NewTalkRequest(t.localNode.ID(), t.Self(), t.addr, protocolID, append([]byte(nil), payload...))
	timeout := t.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	start := time.Now()
	if !dst.subs.push(req, timeout) {
		t.log.Debug("Talk request not accepted", "to", n.ID(), "protocol", protocolID)
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrTimeout}
	}

	timer := time.NewTimer(timeout - time.Since(start))
	defer timer.Stop()
	select {
	case resp := <-req.reply:
		if len(resp) == 0 {
			return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrMalformedResponse}
		}
		return resp, nil
	case <-timer.C:
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrTimeout}
	case <-ctx.Done():
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrTimeout, Cause: ctx.Err()}
	case <-dst.subs.quit:
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrNoSession}
	}
}

func (t *MemoryTransport) AddEnr(n *enode.Node) error {
	return t.table.Add(n)
}

func (t *MemoryTransport) ConnectedPeers() []enode.ID {
	nodes := t.table.Nodes()
	ids := make([]enode.ID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

// DiscoverNodes merges every running member of the network into the table.
func (t *MemoryTransport) DiscoverNodes(ctx context.Context) (int, error) {
	if err := t.state(); err != nil {
		return 0, &TransportError{Op: "lookup", Err: err}
	}
	added := 0
	for _, m := range t.network.running() {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if t.table.Add(m.Self()) == nil {
			added++
		}
	}
	return added, nil
}

func (t *MemoryTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.network.remove(t.localNode.ID())
	t.subs.close()
	t.db.Close()
}
