package milight

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnknownAction is matched by lookups for pairs missing from the opcode table.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnsupportedAction is matched when an action name is not recognised.
	ErrUnsupportedAction = errors.New("action not supported")
	// ErrInvalidGroup is returned for group selectors outside 0..4.
	ErrInvalidGroup = errors.New("invalid group")
	// ErrTransport is matched by every bind or send failure.
	ErrTransport = errors.New("transport error")
)

// UnknownActionError reports an (action, group) pair with no opcode.
type UnknownActionError struct {
	Action Action
	Group  Group
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %s for group %s", e.Action, e.Group)
}

func (e *UnknownActionError) Is(target error) bool {
	return target == ErrUnknownAction
}

// UnsupportedActionError reports an action name outside the supported set.
type UnsupportedActionError struct {
	Name string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("action not supported: %q", e.Name)
}

func (e *UnsupportedActionError) Is(target error) bool {
	return target == ErrUnsupportedAction
}

// TransportError carries the I/O failure behind a bind or send.
type TransportError struct {
	Op   string // "bind" or "send"
	Addr *net.UDPAddr
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
