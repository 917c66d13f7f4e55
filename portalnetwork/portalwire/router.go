package portalwire

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// EndpointKind names a command served by a Router.
type EndpointKind string

const (
	PingEndpoint             EndpointKind = "ping"
	FindNodesEndpoint        EndpointKind = "findNodes"
	FindContentEndpoint      EndpointKind = "findContent"
	LocalContentEndpoint     EndpointKind = "localContent"
	StoreContentEndpoint     EndpointKind = "storeContent"
	RoutingTableInfoEndpoint EndpointKind = "routingTableInfo"
	NodeInfoEndpoint         EndpointKind = "nodeInfo"
	AddEnrEndpoint           EndpointKind = "addEnr"
)

// EndpointHandler serves one command. args is the Args field of the request.
type EndpointHandler func(ctx context.Context, args any) (any, error)

// EndpointResponse is the outcome of one command.
type EndpointResponse struct {
	Value any
	Err   error
}

// EndpointRequest is a command for a Router. It is answered at most once.
type EndpointRequest struct {
	Kind EndpointKind
	Args any

	resp chan EndpointResponse
}

func NewEndpointRequest(kind EndpointKind, args any) *EndpointRequest {
	return &EndpointRequest{Kind: kind, Args: args, resp: make(chan EndpointResponse, 1)}
}

func (r *EndpointRequest) reply(value any, err error) {
	select {
	case r.resp <- EndpointResponse{Value: value, Err: err}:
	default:
	}
}

// Router executes the commands sent to one network, one at a time, in the
// order they were sent.
type Router struct {
	queue chan *EndpointRequest
	log   log.Logger

	handlersMu sync.RWMutex
	handlers   map[EndpointKind]EndpointHandler

	mu        sync.RWMutex
	closed    bool
	quit      chan struct{}
	closeOnce sync.Once
}

func NewRouter(queueSize int, logger log.Logger) *Router {
	if logger == nil {
		logger = log.Root()
	}
	return &Router{
		queue:    make(chan *EndpointRequest, queueSize),
		log:      logger,
		handlers: make(map[EndpointKind]EndpointHandler),
		quit:     make(chan struct{}),
	}
}

// Register installs the handler of kind, replacing any previous one.
func (r *Router) Register(kind EndpointKind, handler EndpointHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers[kind] = handler
}

func (r *Router) handler(kind EndpointKind) (EndpointHandler, bool) {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Send enqueues req and returns the channel its response is delivered on. It
// blocks while the queue is full.
func (r *Router) Send(ctx context.Context, req *EndpointRequest) (<-chan EndpointResponse, error) {
	if req.resp == nil {
		req.resp = make(chan EndpointResponse, 1)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case r.queue <- req:
		return req.resp, nil
	case <-r.quit:
		return nil, ErrRouterClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call sends a command and waits for its result.
func (r *Router) Call(ctx context.Context, kind EndpointKind, args any) (any, error) {
	resp, err := r.Send(ctx, NewEndpointRequest(kind, args))
	if err != nil {
		return nil, err
	}
	select {
	case res := <-resp:
		return res.Value, res.Err
	case <-r.quit:
		select {
		case res := <-resp:
			return res.Value, res.Err
		default:
			return nil, ErrRequestCancelled
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes commands until ctx is done or the router is closed. Commands
// still queued at that point are answered with ErrRequestCancelled.
func (r *Router) Run(ctx context.Context) {
	defer r.stop()
	for {
		// A closed router does not pick up queued commands.
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-r.quit:
		case <-ctx.Done():
		case req := <-r.queue:
			r.handle(ctx, req)
		}
	}
}

// stop closes the router and cancels the commands left in the queue. Close
// returns once no Send can enqueue anymore.
func (r *Router) stop() {
	r.Close()
	r.drain()
}

func (r *Router) handle(ctx context.Context, req *EndpointRequest) {
	h, ok := r.handler(req.Kind)
	if !ok {
		req.reply(nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, req.Kind))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Endpoint handler panicked", "kind", req.Kind, "panic", rec)
			req.reply(nil, fmt.Errorf("endpoint %s panicked: %v", req.Kind, rec))
		}
	}()
	value, err := h(ctx, req.Args)
	if err != nil {
		r.log.Debug("Endpoint request failed", "kind", req.Kind, "err", err)
	}
	req.reply(value, err)
}

func (r *Router) drain() {
	for {
		select {
		case req := <-r.queue:
			req.reply(nil, ErrRequestCancelled)
		default:
			return
		}
	}
}

// Close stops the router. Pending and later Sends fail with ErrRouterClosed.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	})
}
