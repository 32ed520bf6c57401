package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means the unicast target already has an outstanding request.
	// Callers retry; requests are never queued behind each other.
	ErrBusy = errors.New("target busy with outstanding request")

	// ErrTimeout means no reply arrived inside the reply window.
	ErrTimeout = errors.New("no reply before timeout")

	ErrMalformedReply = errors.New("malformed reply")

	ErrNotReady = errors.New("transport not ready")

	ErrRegistryFull = errors.New("node registry full")
)

// Reject reasons reported before any transport traffic is generated. The
// strings match the wire-level ERROR payloads.
const (
	ReasonNoNodeID    = "NO_NODE_ID"
	ReasonInvalidNode = "INVALID_NODE"
	ReasonNoCommand   = "NO_COMMAND"
	ReasonNotReady    = "NOT_READY"
)

// RejectError is a caller error detected before send.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return "ERROR:" + e.Reason
}

// UnknownCommandError carries the offending verb token. Unknown verbs are
// rejected outright, never partially forwarded.
type UnknownCommandError struct {
	Token string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("ERROR:UNKNOWN_CMD:%s", e.Token)
}
