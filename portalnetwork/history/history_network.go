package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
)

const GetHistoryContentEndpoint portalwire.EndpointKind = "getHistoryContent"

// lookupPeers is the number of closest peers asked for missing content.
const lookupPeers = 16

var (
	ErrInvalidContentKey = errors.New("invalid content key")
	ErrInvalidBlockHash  = errors.New("invalid block hash")
)

// GetHistoryContentArgs are the arguments of GetHistoryContentEndpoint.
type GetHistoryContentArgs struct {
	Selector  ContentType
	BlockHash []byte
}

type Network struct {
	overlay *portalwire.Overlay
	log     log.Logger
}

func NewHistoryNetwork(config *portalwire.PortalProtocolConfig, t transport.Transport, store storage.ContentStorage) (*Network, error) {
	overlay, err := portalwire.NewOverlay(config, wire.History, t, store)
	if err != nil {
		return nil, err
	}
	h := &Network{
		overlay: overlay,
		log:     overlay.Protocol.Log.New("sub-protocol", "history"),
	}
	overlay.Router.Register(GetHistoryContentEndpoint, func(ctx context.Context, args any) (any, error) {
		a, ok := args.(GetHistoryContentArgs)
		if !ok {
			return nil, fmt.Errorf("invalid arguments %T", args)
		}
		content, err := h.GetContent(ctx, a.Selector, a.BlockHash)
		if err != nil {
			return nil, err
		}
		return &portalwire.ContentInfo{Content: hexutil.Encode(content)}, nil
	})
	return h, nil
}

func (h *Network) Overlay() *portalwire.Overlay { return h.overlay }

func (h *Network) Router() *portalwire.Router { return h.overlay.Router }

func (h *Network) Start(ctx context.Context) error {
	h.overlay.Start(ctx)
	h.log.Debug("history network start successfully")
	return nil
}

func (h *Network) Stop() {
	h.overlay.Stop()
}

// GetContent returns the content of (selector, blockHash) from the local
// store, or else asks the closest known peers one after the other. Content
// found on a peer is stored locally.
func (h *Network) GetContent(ctx context.Context, selector ContentType, blockHash []byte) ([]byte, error) {
	if len(blockHash) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidBlockHash, len(blockHash))
	}
	if selector > EpochAccumulatorType {
		return nil, fmt.Errorf("%w: selector %#x", ErrInvalidContentKey, byte(selector))
	}
	p := h.overlay.Protocol
	contentKey := newContentKey(selector, blockHash).encode()
	contentId := p.ToContentId(contentKey)
	h.log.Trace("contentKey convert to contentId", "contentKey", hexutil.Encode(contentKey), "contentId", hexutil.Encode(contentId))

	content, err := p.Get(contentKey)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, storage.ErrContentNotFound) {
		return nil, err
	}

	var target enode.ID
	copy(target[:], contentId)
	for _, peer := range p.Transport().Table().Closest(target, lookupPeers) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.SendFindContent(ctx, contentKey, peer)
		if err != nil {
			h.log.Debug("Find content failed", "type", selector, "peer", peer.ID(), "err", err)
			continue
		}
		if res.Kind != wire.ContentRawSelector || len(res.Content) == 0 {
			continue
		}
		if err := p.Put(contentKey, res.Content); err != nil && !errors.Is(err, storage.ErrInsufficientRadius) {
			h.log.Error("Failed to store content", "contentKey", hexutil.Encode(contentKey), "err", err)
		}
		return res.Content, nil
	}
	return nil, storage.ErrContentNotFound
}
