package transport

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/p2p/enode"
)

var (
	ErrNoSession             = errors.New("no session with peer")
	ErrTimeout               = errors.New("request timed out")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrAlreadyStarted        = errors.New("transport already started")
	ErrNotStarted            = errors.New("transport not started")
	ErrClosed                = errors.New("transport closed")
	ErrDuplicateSubscription = errors.New("protocol already subscribed")

	ErrSelfNode   = errors.New("node is the local node")
	ErrBucketFull = errors.New("bucket full")
)

// TransportError is returned by transport operations. It matches both its
// sentinel Err and the underlying Cause with errors.Is.
type TransportError struct {
	Op    string
	Peer  enode.ID
	Err   error
	Cause error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Peer.TerminalString(), e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// ConfigError reports an invalid transport configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
