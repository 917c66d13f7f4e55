package portalwire

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDiscriminant = errors.New("unknown discriminant")
	ErrTruncated           = errors.New("truncated input")
	ErrFieldOutOfRange     = errors.New("field out of range")
)

// CodecError describes a message that could not be encoded or decoded.
// errors.Is matches it against its Kind.
type CodecError struct {
	Kind  error
	Field string
	Err   error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portalwire: %v (%s): %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("portalwire: %v (%s)", e.Kind, e.Field)
}

func (e *CodecError) Is(target error) bool { return target == e.Kind }

func (e *CodecError) Unwrap() error { return e.Err }

func truncated(field string) error {
	return &CodecError{Kind: ErrTruncated, Field: field}
}

func outOfRange(field string, err error) error {
	return &CodecError{Kind: ErrFieldOutOfRange, Field: field, Err: err}
}

func unknownDiscriminant(field string, v byte) error {
	return &CodecError{Kind: ErrUnknownDiscriminant, Field: field, Err: fmt.Errorf("value 0x%02x", v)}
}

// Encode returns the wire form of msg: the message code followed by the SSZ
// encoding of the message container.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, outOfRange("message", errors.New("nil message"))
	}
	buf := make([]byte, 0, 1+msg.SizeSSZ())
	buf = append(buf, msg.Code())
	return msg.MarshalSSZTo(buf)
}

// Decode parses a wire message. Input is rejected unless it is consumed exactly.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, truncated("message code")
	}
	var msg Message
	switch data[0] {
	case PING:
		msg = new(Ping)
	case PONG:
		msg = new(Pong)
	case FINDNODES:
		msg = new(FindNodes)
	case NODES:
		msg = new(Nodes)
	case FINDCONTENT:
		msg = new(FindContent)
	case CONTENT:
		msg = new(Content)
	default:
		return nil, unknownDiscriminant("message code", data[0])
	}
	if err := msg.UnmarshalSSZ(data[1:]); err != nil {
		return nil, err
	}
	return msg, nil
}
