package state

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
)

const GetStateNetworkDataEndpoint portalwire.EndpointKind = "getStateNetworkData"

// StateNetworkData summarizes the local view of the state network.
type StateNetworkData struct {
	NodeId       string `json:"nodeId"`
	Enr          string `json:"enr"`
	DataRadius   string `json:"dataRadius"`
	Peers        int    `json:"peers"`
	ContentCount uint64 `json:"contentCount"`
	UsedSize     uint64 `json:"usedSize"`
}

type StateNetwork struct {
	overlay *portalwire.Overlay
	log     log.Logger
}

func NewStateNetwork(config *portalwire.PortalProtocolConfig, t transport.Transport, store storage.ContentStorage) (*StateNetwork, error) {
	overlay, err := portalwire.NewOverlay(config, wire.State, t, store)
	if err != nil {
		return nil, err
	}
	s := &StateNetwork{
		overlay: overlay,
		log:     overlay.Protocol.Log.New("sub-protocol", "state"),
	}
	overlay.Router.Register(GetStateNetworkDataEndpoint, func(context.Context, any) (any, error) {
		return s.NetworkData(), nil
	})
	return s, nil
}

func (s *StateNetwork) Overlay() *portalwire.Overlay { return s.overlay }

func (s *StateNetwork) Router() *portalwire.Router { return s.overlay.Router }

func (s *StateNetwork) Start(ctx context.Context) error {
	s.overlay.Start(ctx)
	s.log.Debug("state network start successfully")
	return nil
}

func (s *StateNetwork) Stop() {
	s.overlay.Stop()
}

// NetworkData reports the local node and its store. Usage figures are zero
// when the store does not track them.
func (s *StateNetwork) NetworkData() *StateNetworkData {
	p := s.overlay.Protocol
	self := p.Self()
	data := &StateNetworkData{
		NodeId:     "0x" + self.ID().String(),
		Enr:        self.String(),
		DataRadius: p.Radius().Hex(),
		Peers:      len(p.Transport().ConnectedPeers()),
	}
	if stats, ok := p.Storage().(storage.Stats); ok {
		data.ContentCount = stats.ContentCount()
		data.UsedSize = stats.UsedSize()
	}
	return data
}
