package transport

import (
	"context"
	"crypto/ecdsa"
	crand "crypto/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/discover"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// Discv5Transport carries overlay traffic over discovery v5 TALKREQ/TALKRESP.
type Discv5Transport struct {
	cfg       Config
	key       *ecdsa.PrivateKey
	db        *enode.DB
	localNode *enode.LocalNode
	bootnodes []*enode.Node
	table     *Table
	subs      *subscriptions
	log       log.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	udp     *discover.UDPv5
	started bool
	closed  bool
}

var _ Transport = (*Discv5Transport)(nil)

// New creates the node identity and routing table. The socket is opened by Start.
func New(cfg Config) (*Discv5Transport, error) {
	cfg = cfg.withDefaults()

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	bootnodes, err := ParseBootnodes(cfg.Bootnodes, cfg.ValidSchemes)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, &ConfigError{Field: "listen address", Err: err}
	}
	db, err := enode.OpenDB(cfg.NodeDBPath)
	if err != nil {
		return nil, err
	}
	ln := newLocalNode(db, key, addr)
	t := &Discv5Transport{
		cfg:       cfg,
		key:       key,
		db:        db,
		localNode: ln,
		bootnodes: bootnodes,
		table:     NewTable(ln.ID()),
		subs:      newSubscriptions(cfg.InboundBuffer),
		log:       cfg.Log.New("protocol", "discv5"),
	}
	for _, n := range bootnodes {
		if err := t.table.Add(n); err != nil {
			t.log.Debug("Bootnode not added", "id", n.ID(), "err", err)
		}
	}
	return t, nil
}

func (t *Discv5Transport) Self() *enode.Node { return t.localNode.Node() }

func (t *Discv5Transport) LocalNode() *enode.LocalNode { return t.localNode }

func (t *Discv5Transport) PrivateKey() *ecdsa.PrivateKey { return t.key }

func (t *Discv5Transport) Table() *Table { return t.table }

// Start binds the UDP socket and starts the discovery v5 protocol. An empty
// addr means the configured listen address.
func (t *Discv5Transport) Start(addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &TransportError{Op: "start", Err: ErrClosed}
	}
	if t.started {
		return &TransportError{Op: "start", Err: ErrAlreadyStarted}
	}
	if addr == "" {
		addr = t.cfg.ListenAddr
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &ConfigError{Field: "listen address", Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &TransportError{Op: "start", Err: ErrNotStarted, Cause: err}
	}
	bound := conn.LocalAddr().(*net.UDPAddr)
	if bound.IP != nil && !bound.IP.IsUnspecified() {
		t.localNode.SetFallbackIP(bound.IP)
	}
	t.localNode.SetFallbackUDP(bound.Port)

	udp, err := discover.ListenV5(conn, t.localNode, discover.Config{
		PrivateKey:   t.key,
		Bootnodes:    t.bootnodes,
		ValidSchemes: t.cfg.ValidSchemes,
		Log:          t.log,
	})
	if err != nil {
		conn.Close()
		return &TransportError{Op: "start", Err: ErrNotStarted, Cause: err}
	}
	t.conn, t.udp, t.started = conn, udp, true
	for _, protocol := range t.subs.protocols() {
		t.udp.RegisterTalkHandler(protocol, t.talkHandler(protocol))
	}
	t.log.Info("Discovery v5 started", "addr", bound, "id", t.localNode.ID(), "enr", t.localNode.Node())
	return nil
}

func (t *Discv5Transport) running() (*discover.UDPv5, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return nil, ErrClosed
	case !t.started:
		return nil, ErrNotStarted
	}
	return t.udp, nil
}

// Subscribe registers a TALKREQ handler for protocolID and returns its stream.
func (t *Discv5Transport) Subscribe(protocolID string) (<-chan *TalkRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, err := t.subs.subscribe(protocolID)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	if t.started {
		t.udp.RegisterTalkHandler(protocolID, t.talkHandler(protocolID))
	}
	return ch, nil
}

func (t *Discv5Transport) talkHandler(protocol string) discover.TalkRequestHandler {
	return func(id enode.ID, addr *net.UDPAddr, payload []byte) []byte {
		node := t.resolve(id)
		if node != nil {
			t.table.Add(node)
		}
		req := NewTalkRequest(id, node, addr, protocol, payload)
		start := time.Now()
		if !t.subs.push(req, t.cfg.HandlerTimeout) {
			t.log.Debug("Dropped talk request", "protocol", protocol, "id", id)
			return nil
		}
		resp, ok := req.Await(t.cfg.HandlerTimeout - time.Since(start))
		if !ok {
			t.log.Trace("Talk request not answered", "protocol", protocol, "id", id)
			return nil
		}
		return resp
	}
}

// resolve finds the record of a request source in the portal table or the
// discovery table.
func (t *Discv5Transport) resolve(id enode.ID) *enode.Node {
	if n := t.table.Node(id); n != nil {
		return n
	}
	udp, err := t.running()
	if err != nil {
		return nil
	}
	for _, n := range udp.AllNodes() {
		if n.ID() == id {
			return n
		}
	}
	return nil
}

// TalkRequest sends a TALKREQ and waits for the TALKRESP, the context or the
// configured request timeout, whichever comes first.
func (t *Discv5Transport) TalkRequest(ctx context.Context, n *enode.Node, protocolID string, payload []byte) ([]byte, error) {
	udp, err := t.running()
	if err != nil {
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: err}
	}

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := udp.TalkRequest(n, protocolID, payload)
		done <- result{resp, err}
	}()

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: classify(r.err), Cause: r.err}
		}
		if len(r.resp) == 0 {
			return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrMalformedResponse}
		}
		return r.resp, nil
	case <-timer.C:
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrTimeout}
	case <-ctx.Done():
		return nil, &TransportError{Op: "talk", Peer: n.ID(), Err: ErrTimeout, Cause: ctx.Err()}
	}
}

// classify maps discovery v5 call errors to transport errors. go-ethereum keeps
// errTimeout ("RPC timeout") and errClosed ("socket closed") unexported in
// p2p/discover, so the message text is the only thing to match on.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrTimeout
	case strings.Contains(msg, "closed"):
		return ErrClosed
	default:
		return ErrNoSession
	}
}

func (t *Discv5Transport) AddEnr(n *enode.Node) error {
	return t.table.Add(n)
}

func (t *Discv5Transport) ConnectedPeers() []enode.ID {
	nodes := t.table.Nodes()
	ids := make([]enode.ID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

// DiscoverNodes runs one discovery lookup toward a random target.
func (t *Discv5Transport) DiscoverNodes(ctx context.Context) (int, error) {
	udp, err := t.running()
	if err != nil {
		return 0, &TransportError{Op: "lookup", Err: err}
	}
	var target enode.ID
	crand.Read(target[:])

	found := make(chan []*enode.Node, 1)
	go func() { found <- udp.Lookup(target) }()

	var nodes []*enode.Node
	select {
	case nodes = <-found:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	added := 0
	for _, n := range nodes {
		if t.table.Add(n) == nil {
			added++
		}
	}
	t.log.Debug("Discovered nodes", "found", len(nodes), "added", added, "table", t.table.Len())
	return added, nil
}

// Close stops the protocol and releases the socket and node database.
func (t *Discv5Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	udp := t.udp
	t.mu.Unlock()

	t.subs.close()
	if udp != nil {
		udp.Close()
	}
	t.db.Close()
}
