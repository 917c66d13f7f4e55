package portalwire

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/rlp"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
	"golang.org/x/sync/semaphore"
)

// Dispatcher answers the inbound requests of one network.
type Dispatcher struct {
	protocol *PortalProtocol
	requests <-chan *transport.TalkRequest
	workers  *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewDispatcher subscribes to the protocol id of p on its transport.
func NewDispatcher(p *PortalProtocol) (*Dispatcher, error) {
	requests, err := p.transport.Subscribe(string(p.protocolId))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		protocol: p,
		requests: requests,
		workers:  semaphore.NewWeighted(p.config.MaxWorkers),
	}, nil
}

// Run serves requests until ctx is done or the transport closes the stream.
// It waits for the requests being handled before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-d.requests:
			if !ok {
				return
			}
			d.dispatch(ctx, req)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *transport.TalkRequest) {
	p := d.protocol
	if req.Protocol != string(p.protocolId) {
		p.Log.Debug("Dropped request for foreign protocol", "id", req.ID, "protocol", hexutil.Encode([]byte(req.Protocol)))
		return
	}
	msg, err := wire.Decode(req.Payload)
	if err != nil {
		p.metrics.droppedUndecodable.Inc(1)
		p.Log.Debug("Dropped undecodable request", "id", req.ID, "err", err)
		return
	}
	p.metrics.markReceived(msg.Code())
	if !wire.IsRequest(msg.Code()) {
		p.metrics.droppedUnexpected.Inc(1)
		p.Log.Debug("Dropped unexpected message", "id", req.ID, "type", wire.MessageName(msg.Code()))
		return
	}
	p.Log.Trace("<< "+wire.MessageName(msg.Code())+"/"+p.protocolId.Name(), "id", req.ID)

	if err := d.workers.Acquire(ctx, 1); err != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.workers.Release(1)
		d.respond(req, msg)
	}()
}

func (d *Dispatcher) respond(req *transport.TalkRequest, msg wire.Message) {
	p := d.protocol
	var resp wire.Message
	switch m := msg.(type) {
	case *wire.Ping:
		resp = d.handlePing(req.ID, m)
	case *wire.FindNodes:
		resp = d.handleFindNodes(m)
	case *wire.FindContent:
		resp = d.handleFindContent(req.ID, m)
	}
	if resp == nil {
		return
	}
	data, err := wire.Encode(resp)
	if err != nil {
		p.Log.Error("Failed to encode response", "type", wire.MessageName(resp.Code()), "err", err)
		return
	}
	if req.Reply(data) {
		p.metrics.markSent(resp.Code())
		p.Log.Trace(">> "+wire.MessageName(resp.Code())+"/"+p.protocolId.Name(), "id", req.ID, "size", len(data))
	}
}

func (d *Dispatcher) handlePing(from enode.ID, ping *wire.Ping) wire.Message {
	p := d.protocol
	p.cacheRadius(from, ping.DataRadius)
	return &wire.Pong{EnrSeq: p.Self().Seq(), DataRadius: p.Radius()}
}

func (d *Dispatcher) handleFindNodes(req *wire.FindNodes) wire.Message {
	p := d.protocol
	distances := mapset.NewThreadUnsafeSet[uint]()
	for _, dist := range req.Distances {
		distances.Add(uint(dist))
	}

	var nodes []*enode.Node
	for _, n := range p.transport.Table().Nodes() {
		if distances.Contains(uint(enode.LogDist(p.Self().ID(), n.ID()))) {
			nodes = append(nodes, n)
		}
	}
	if distances.Contains(0) {
		nodes = append(nodes, p.Self())
	}
	slices.SortFunc(nodes, func(a, b *enode.Node) int {
		ida, idb := a.ID(), b.ID()
		return bytes.Compare(ida[:], idb[:])
	})
	if len(nodes) > p.config.ResultLimit {
		nodes = nodes[:p.config.ResultLimit]
	}

	enrs := d.truncateNodes(nodes, p.config.payloadBudget()-nodesOverhead)
	return &wire.Nodes{Total: 1, Enrs: enrs}
}

func (d *Dispatcher) handleFindContent(from enode.ID, req *wire.FindContent) wire.Message {
	p := d.protocol
	contentId := p.ToContentId(req.ContentKey)

	content, err := p.storage.Get(req.ContentKey, contentId)
	switch {
	case err == nil:
		if len(content) <= p.config.payloadBudget()-contentOverhead && len(content) <= wire.MaxByteListSize {
			return &wire.Content{Selector: wire.ContentRawSelector, Payload: content}
		}
		p.Log.Debug("Content too large for a packet, answering with peers", "contentId", hexutil.Encode(contentId), "size", len(content))
	case errors.Is(err, storage.ErrContentNotFound):
	default:
		p.metrics.droppedStoreError.Inc(1)
		p.Log.Error("Failed to read content", "contentId", hexutil.Encode(contentId), "err", err)
		return nil
	}

	var target enode.ID
	copy(target[:], contentId)
	closest := p.transport.Table().Closest(target, p.config.ResultLimit+1)
	nodes := make([]*enode.Node, 0, len(closest))
	for _, n := range closest {
		if n.ID() != from {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) > p.config.ResultLimit {
		nodes = nodes[:p.config.ResultLimit]
	}
	enrs := d.truncateNodes(nodes, p.config.payloadBudget()-contentOverhead)
	return &wire.Content{Selector: wire.ContentEnrsSelector, Enrs: enrs}
}

// truncateNodes encodes nodes in order until the next record would not fit
// into maxSize.
func (d *Dispatcher) truncateNodes(nodes []*enode.Node, maxSize int) [][]byte {
	res := make([][]byte, 0, len(nodes))
	total := 0
	for _, n := range nodes {
		enrBytes, err := rlp.EncodeToBytes(n.Record())
		if err != nil {
			d.protocol.Log.Error("Failed to encode record", "id", n.ID(), "err", err)
			continue
		}
		if total+len(enrBytes)+enrOverhead > maxSize {
			break
		}
		res = append(res, enrBytes)
		total += len(enrBytes) + enrOverhead
	}
	return res
}
