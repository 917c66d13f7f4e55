package portalwire

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/p2p/enode"
)

var (
	ErrUnexpectedMessageType = errors.New("unexpected message type")

	ErrRouterClosed     = errors.New("router closed")
	ErrRequestCancelled = errors.New("request cancelled")
	ErrUnknownEndpoint  = errors.New("unknown endpoint")
)

// RPCError is returned by the outbound calls of a PortalProtocol.
type RPCError struct {
	Method string
	Peer   enode.ID
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Peer.TerminalString(), e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }
