package portalwire

import (
	"context"
	"sync"

	wire "github.com/portal-network/go-portal/p2p/discover/portalwire"
	"github.com/portal-network/go-portal/portalnetwork/storage"
	"github.com/portal-network/go-portal/portalnetwork/transport"
)

// Overlay bundles the protocol engine, the inbound dispatcher and the endpoint
// router of one network. Networks add their own endpoints to Router before
// calling Start.
type Overlay struct {
	Protocol   *PortalProtocol
	Dispatcher *Dispatcher
	Router     *Router

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOverlay(config *PortalProtocolConfig, protocolId wire.ProtocolId, t transport.Transport, store storage.ContentStorage) (*Overlay, error) {
	protocol := NewPortalProtocol(config, protocolId, t, store)
	dispatcher, err := NewDispatcher(protocol)
	if err != nil {
		return nil, err
	}
	router := NewRouter(protocol.config.RouterQueue, protocol.Log)
	NewPortalAPI(protocol).Register(router)
	return &Overlay{
		Protocol:   protocol,
		Dispatcher: dispatcher,
		Router:     router,
	}, nil
}

// Start runs the dispatcher and the router until ctx is cancelled or Stop is
// called.
func (o *Overlay) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.Dispatcher.Run(ctx)
	}()
	go func() {
		defer o.wg.Done()
		o.Router.Run(ctx)
	}()
	o.Protocol.Log.Info("Overlay network started", "protocolId", o.Protocol.protocolId.String(), "id", o.Protocol.Self().ID())
}

// Stop ends the dispatcher and the router and waits for them.
func (o *Overlay) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.Router.Close()
	o.wg.Wait()
	o.Protocol.Log.Info("Overlay network stopped")
}
