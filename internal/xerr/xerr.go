// Package xerr implements the taxonomic error kinds from spec.md §7:
// transport, protocol, state, symbol, type and resource. Every error the
// core returns to a caller can be classified with errors.As into *xerr.Error
// without losing the underlying cause.
package xerr

import "fmt"

type Kind int

const (
	Transport Kind = iota
	Protocol
	State
	Symbol
	Type
	Resource
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case State:
		return "state"
	case Symbol:
		return "symbol"
	case Type:
		return "type"
	case Resource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a taxonomic Kind and, for protocol
// errors, the target's verbatim negative-response code (spec.md §4.2,
// "Errors").
type Error struct {
	Kind Kind
	Op   string
	Code uint8 // valid only when Kind == Protocol
	err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, err: err}
}

func NewProtocol(op string, code uint8) *Error {
	return &Error{Kind: Protocol, Op: op, Code: code, err: fmt.Errorf("negative response 0x%02x", code)}
}

func (e *Error) Error() string {
	if e.Kind == Protocol {
		return fmt.Sprintf("%s: %s error (code 0x%02x): %v", e.Op, e.Kind, e.Code, e.err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func Is(err error, kind Kind) bool {
	var e *Error
	if err == nil {
		return false
	}
	if x, ok := err.(*Error); ok {
		e = x
	} else {
		return false
	}
	return e.Kind == kind
}
