package portalwire

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/holiman/uint256"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
)

type NodeInfo struct {
	NodeId string `json:"nodeId"`
	Enr    string `json:"enr"`
	Ip     string `json:"ip"`
}

type RoutingTableInfo struct {
	Buckets     [][]string `json:"buckets"`
	LocalNodeId string     `json:"localNodeId"`
}

type PortalPongResp struct {
	EnrSeq     uint64 `json:"enrSeq"`
	DataRadius string `json:"dataRadius"`
}

type ContentInfo struct {
	Content     string `json:"content"`
	UtpTransfer bool   `json:"utpTransfer"`
}

type EnrsResp struct {
	Enrs []string `json:"enrs"`
}

// Arguments of the built-in endpoints.
type (
	PingArgs struct {
		Node       *enode.Node
		DataRadius *uint256.Int // local radius when nil
	}
	FindNodesArgs struct {
		Node      *enode.Node
		Distances []uint
	}
	FindContentArgs struct {
		Node       *enode.Node
		ContentKey []byte
	}
	LocalContentArgs struct {
		ContentKey []byte
	}
	StoreContentArgs struct {
		ContentKey []byte
		Content    []byte
	}
	AddEnrArgs struct {
		Enr string
	}
)

// PortalProtocolAPI serves the built-in endpoints of a network.
type PortalProtocolAPI struct {
	portalProtocol *PortalProtocol
}

func NewPortalAPI(portalProtocol *PortalProtocol) *PortalProtocolAPI {
	return &PortalProtocolAPI{portalProtocol: portalProtocol}
}

// Register installs the built-in endpoints on r.
func (p *PortalProtocolAPI) Register(r *Router) {
	r.Register(PingEndpoint, endpoint(p.Ping))
	r.Register(FindNodesEndpoint, endpoint(p.FindNodes))
	r.Register(FindContentEndpoint, endpoint(p.FindContent))
	r.Register(LocalContentEndpoint, endpoint(p.LocalContent))
	r.Register(StoreContentEndpoint, endpoint(p.Store))
	r.Register(AddEnrEndpoint, endpoint(p.AddEnr))
	r.Register(RoutingTableInfoEndpoint, func(context.Context, any) (any, error) {
		return p.RoutingTableInfo(), nil
	})
	r.Register(NodeInfoEndpoint, func(context.Context, any) (any, error) {
		return p.NodeInfo(), nil
	})
}

// endpoint adapts a typed method to an EndpointHandler.
func endpoint[A any, R any](fn func(context.Context, A) (R, error)) EndpointHandler {
	return func(ctx context.Context, args any) (any, error) {
		a, ok := args.(A)
		if !ok {
			return nil, fmt.Errorf("invalid arguments %T", args)
		}
		return fn(ctx, a)
	}
}

func (p *PortalProtocolAPI) NodeInfo() *NodeInfo {
	n := p.portalProtocol.Self()

	return &NodeInfo{
		NodeId: "0x" + n.ID().String(),
		Enr:    n.String(),
		Ip:     n.IP().String(),
	}
}

func (p *PortalProtocolAPI) RoutingTableInfo() *RoutingTableInfo {
	return p.portalProtocol.RoutingTableInfo()
}

func (p *PortalProtocolAPI) AddEnr(_ context.Context, args AddEnrArgs) (bool, error) {
	n, err := enode.Parse(p.portalProtocol.config.ValidSchemes, args.Enr)
	if err != nil {
		return false, err
	}
	if err := p.portalProtocol.transport.AddEnr(n); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PortalProtocolAPI) Ping(ctx context.Context, args PingArgs) (*PortalPongResp, error) {
	radius := args.DataRadius
	if radius == nil {
		radius = p.portalProtocol.Radius()
	}
	pong, err := p.portalProtocol.SendPing(ctx, radius, args.Node)
	if err != nil {
		return nil, err
	}

	return &PortalPongResp{
		EnrSeq:     pong.EnrSeq,
		DataRadius: pong.DataRadius.Hex(),
	}, nil
}

func (p *PortalProtocolAPI) FindNodes(ctx context.Context, args FindNodesArgs) ([]string, error) {
	res, err := p.portalProtocol.SendFindNodes(ctx, args.Distances, args.Node)
	if err != nil {
		return nil, err
	}

	enrs := make([]string, 0, len(res.Nodes))
	for _, r := range res.Nodes {
		enrs = append(enrs, r.String())
	}
	return enrs, nil
}

// FindContent returns a *ContentInfo when the peer holds the content and an
// *EnrsResp when it refers to other peers.
func (p *PortalProtocolAPI) FindContent(ctx context.Context, args FindContentArgs) (any, error) {
	res, err := p.portalProtocol.SendFindContent(ctx, args.ContentKey, args.Node)
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case wire.ContentRawSelector:
		return &ContentInfo{Content: hexutil.Encode(res.Content)}, nil
	case wire.ContentConnIdSelector:
		return &ContentInfo{Content: hexutil.Encode(res.ConnectionID), UtpTransfer: true}, nil
	default:
		enrs := make([]string, 0, len(res.Nodes))
		for _, r := range res.Nodes {
			enrs = append(enrs, r.String())
		}
		return &EnrsResp{Enrs: enrs}, nil
	}
}

func (p *PortalProtocolAPI) LocalContent(_ context.Context, args LocalContentArgs) (string, error) {
	content, err := p.portalProtocol.Get(args.ContentKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(content), nil
}

func (p *PortalProtocolAPI) Store(_ context.Context, args StoreContentArgs) (bool, error) {
	if err := p.portalProtocol.Put(args.ContentKey, args.Content); err != nil {
		return false, err
	}
	return true, nil
}
