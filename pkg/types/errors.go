package types

import "fmt"

// ErrorClass is the error taxonomy of §7. Errors never unwind through the
// event loop; every component folds them into a dropped event or an
// outbound TransportError/RpcError instead.
type ErrorClass uint8

const (
	// ProtocolError: malformed SDP, unknown codec, bad token. Surfaced to
	// the HTTP layer as 4xx; never touches room state.
	ProtocolError ErrorClass = iota
	// TransportError: ICE/DTLS/RTP timeout. Surfaced to the endpoint FSM,
	// which emits Disconnected and is reaped.
	TransportError
	// SubscriberError: request for a stream that no longer exists. Logged
	// and ignored; the selector stays in WaitStart.
	SubscriberError
	// InvariantViolation: duplicate subscriber, empty channel with
	// subscribers, unknown mid. Logged warning, event dropped, core stays
	// live — unless marked Fatal, in which case the process aborts.
	InvariantViolation
	// ClusterPartition: a KV/pubsub event arrived for an unknown map or
	// channel. Silently ignored; heals on resubscribe.
	ClusterPartition
)

func (c ErrorClass) String() string {
	switch c {
	case ProtocolError:
		return "protocol"
	case TransportError:
		return "transport"
	case SubscriberError:
		return "subscriber"
	case InvariantViolation:
		return "invariant"
	case ClusterPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// CoreError is the single error type every core component produces. Fatal
// errors (only ever InvariantViolation) are the one case the process is
// expected to abort on (§6 exit code 3, §7).
type CoreError struct {
	Class   ErrorClass
	Message string
	Fatal   bool
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func NewError(class ErrorClass, format string, args ...any) *CoreError {
	return &CoreError{Class: class, Message: fmt.Sprintf(format, args...)}
}

func NewFatalError(format string, args ...any) *CoreError {
	return &CoreError{Class: InvariantViolation, Message: fmt.Sprintf(format, args...), Fatal: true}
}
