package portalwire

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"

	"github.com/VictoriaMetrics/fastcache"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
)

// NodesResult is the verified answer to a FindNodes request.
type NodesResult struct {
	Total uint8
	Nodes []*enode.Node
}

// ContentResult is the answer to a FindContent request. Kind is one of the
// content selectors and tells which field is set.
type ContentResult struct {
	Kind         byte
	Content      []byte
	ConnectionID []byte
	Nodes        []*enode.Node
}

// PortalProtocol runs the overlay wire protocol of one network on top of a
// shared transport.
type PortalProtocol struct {
	protocolId wire.ProtocolId
	config     PortalProtocolConfig
	transport  transport.Transport
	storage    storage.ContentStorage

	radiusCache *fastcache.Cache
	metrics     *portalMetrics
	Log         log.Logger
}

func NewPortalProtocol(config *PortalProtocolConfig, protocolId wire.ProtocolId, t transport.Transport, store storage.ContentStorage) *PortalProtocol {
	if config == nil {
		config = DefaultPortalProtocolConfig()
	}
	cfg := config.withDefaults()
	return &PortalProtocol{
		protocolId:  protocolId,
		config:      cfg,
		transport:   t,
		storage:     store,
		radiusCache: fastcache.New(cfg.RadiusCacheSize),
		metrics:     newPortalMetrics(protocolId.Name()),
		Log:         cfg.Log.New("protocol", protocolId.Name()),
	}
}

func (p *PortalProtocol) ProtocolId() wire.ProtocolId { return p.protocolId }

func (p *PortalProtocol) Self() *enode.Node { return p.transport.Self() }

func (p *PortalProtocol) Transport() transport.Transport { return p.transport }

func (p *PortalProtocol) Storage() storage.ContentStorage { return p.storage }

// Ping pings node with the local radius.
func (p *PortalProtocol) Ping(ctx context.Context, node *enode.Node) (*wire.Pong, error) {
	return p.SendPing(ctx, p.Radius(), node)
}

func (p *PortalProtocol) SendPing(ctx context.Context, dataRadius *uint256.Int, node *enode.Node) (*wire.Pong, error) {
	req := &wire.Ping{EnrSeq: p.Self().Seq(), DataRadius: dataRadius}
	resp, err := p.talk(ctx, "ping", node, req)
	if err != nil {
		return nil, err
	}
	pong, ok := resp.(*wire.Pong)
	if !ok {
		return nil, p.rpcError("ping", node, ErrUnexpectedMessageType)
	}
	p.cacheRadius(node.ID(), pong.DataRadius)
	p.Log.Trace("Received pong", "id", node.ID(), "seq", pong.EnrSeq, "radius", pong.DataRadius.Hex())
	return pong, nil
}

// SendFindNodes asks node for the records at the given log distances. Records
// that fail verification are dropped one by one.
func (p *PortalProtocol) SendFindNodes(ctx context.Context, distances []uint, node *enode.Node) (*NodesResult, error) {
	set := mapset.NewThreadUnsafeSet[uint](distances...)
	wanted := make([]uint16, 0, set.Cardinality())
	for _, d := range set.ToSlice() {
		if d > wire.MaxDistance {
			return nil, p.rpcError("findnodes", node, fmt.Errorf("distance %d: %w", d, wire.ErrFieldOutOfRange))
		}
		wanted = append(wanted, uint16(d))
	}
	slices.Sort(wanted)

	resp, err := p.talk(ctx, "findnodes", node, &wire.FindNodes{Distances: wanted})
	if err != nil {
		return nil, err
	}
	nodes, ok := resp.(*wire.Nodes)
	if !ok {
		return nil, p.rpcError("findnodes", node, ErrUnexpectedMessageType)
	}
	return &NodesResult{
		Total: nodes.Total,
		Nodes: p.verifyNodes(node, nodes.Enrs, set),
	}, nil
}

// SendFindContent asks node for the content of contentKey. It makes exactly
// one request.
func (p *PortalProtocol) SendFindContent(ctx context.Context, contentKey []byte, node *enode.Node) (*ContentResult, error) {
	resp, err := p.talk(ctx, "findcontent", node, &wire.FindContent{ContentKey: contentKey})
	if err != nil {
		return nil, err
	}
	content, ok := resp.(*wire.Content)
	if !ok {
		return nil, p.rpcError("findcontent", node, ErrUnexpectedMessageType)
	}

	res := &ContentResult{Kind: content.Selector}
	switch content.Selector {
	case wire.ContentRawSelector:
		res.Content = content.Payload
	case wire.ContentConnIdSelector:
		res.ConnectionID = content.ConnectionID
	case wire.ContentEnrsSelector:
		res.Nodes = p.verifyNodes(node, content.Enrs, nil)
	}
	return res, nil
}

// talk sends one request and decodes the response. The responder is added to
// the routing table.
func (p *PortalProtocol) talk(ctx context.Context, method string, node *enode.Node, req wire.Message) (wire.Message, error) {
	payload, err := wire.Encode(req)
	if err != nil {
		return nil, p.rpcError(method, node, err)
	}
	p.Log.Trace(">> "+wire.MessageName(req.Code())+"/"+p.protocolId.Name(), "id", node.ID(), "size", len(payload))
	p.metrics.markSent(req.Code())

	data, err := p.transport.TalkRequest(ctx, node, string(p.protocolId), payload)
	if err != nil {
		return nil, p.rpcError(method, node, err)
	}
	resp, err := wire.Decode(data)
	if err != nil {
		return nil, p.rpcError(method, node, err)
	}
	p.Log.Trace("<< "+wire.MessageName(resp.Code())+"/"+p.protocolId.Name(), "id", node.ID(), "size", len(data))
	p.metrics.markReceived(resp.Code())

	if err := p.transport.AddEnr(node); err != nil && !errors.Is(err, transport.ErrSelfNode) {
		p.Log.Trace("Responder not added to table", "id", node.ID(), "err", err)
	}
	return resp, nil
}

func (p *PortalProtocol) rpcError(method string, node *enode.Node, err error) error {
	p.metrics.rpcFailures.Inc(1)
	return &RPCError{Method: method, Peer: node.ID(), Err: err}
}

// verifyNodes decodes the records sent by sender. When distances is not nil,
// records outside the requested log distances are dropped.
func (p *PortalProtocol) verifyNodes(sender *enode.Node, enrs [][]byte, distances mapset.Set[uint]) []*enode.Node {
	seen := mapset.NewThreadUnsafeSet[enode.ID]()
	nodes := make([]*enode.Node, 0, len(enrs))
	for _, raw := range enrs {
		n, err := p.decodeNode(raw)
		if err != nil {
			p.Log.Debug("Dropped invalid record", "from", sender.ID(), "err", err)
			continue
		}
		if distances != nil && !distances.Contains(uint(enode.LogDist(sender.ID(), n.ID()))) {
			p.Log.Debug("Dropped record at unrequested distance", "from", sender.ID(), "id", n.ID())
			continue
		}
		if !seen.Add(n.ID()) {
			p.Log.Debug("Dropped duplicate record", "from", sender.ID(), "id", n.ID())
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func (p *PortalProtocol) decodeNode(raw []byte) (*enode.Node, error) {
	var r enr.Record
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return nil, err
	}
	return enode.New(p.config.ValidSchemes, &r)
}

func (p *PortalProtocol) cacheRadius(id enode.ID, radius *uint256.Int) {
	if radius == nil {
		return
	}
	b := radius.Bytes32()
	p.radiusCache.Set(id[:], b[:])
}

// PeerRadius returns the last radius advertised by a peer.
func (p *PortalProtocol) PeerRadius(id enode.ID) (*uint256.Int, bool) {
	b, ok := p.radiusCache.HasGet(nil, id[:])
	if !ok {
		return nil, false
	}
	return new(uint256.Int).SetBytes32(b), true
}

func (p *PortalProtocol) Radius() *uint256.Int {
	return p.storage.Radius()
}

func (p *PortalProtocol) ToContentId(contentKey []byte) []byte {
	hash := sha256.Sum256(contentKey)
	return hash[:]
}

func (p *PortalProtocol) InRange(contentId []byte) bool {
	return storage.InRadius(contentId, p.Self().ID(), p.Radius())
}

func (p *PortalProtocol) Get(contentKey []byte) ([]byte, error) {
	contentId := p.ToContentId(contentKey)
	content, err := p.storage.Get(contentKey, contentId)
	p.Log.Trace("get local storage", "contentId", hexutil.Encode(contentId), "err", err)
	return content, err
}

func (p *PortalProtocol) Put(contentKey []byte, content []byte) error {
	contentId := p.ToContentId(contentKey)
	err := p.storage.Put(contentKey, contentId, content)
	p.Log.Trace("put local storage", "contentId", hexutil.Encode(contentId), "size", len(content), "err", err)
	return err
}

func (p *PortalProtocol) RoutingTableInfo() *RoutingTableInfo {
	buckets := p.transport.Table().Buckets()
	info := &RoutingTableInfo{
		Buckets:     make([][]string, 0, len(buckets)),
		LocalNodeId: "0x" + p.Self().ID().String(),
	}
	for _, bucket := range buckets {
		ids := make([]string, 0, len(bucket))
		for _, n := range bucket {
			ids = append(ids, "0x"+n.ID().String())
		}
		info.Buckets = append(info.Buckets, ids)
	}
	return info
}
