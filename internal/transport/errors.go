package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is a structured classification of a delivery failure. The collection
// endpoint's availability problems (timeouts, refused connections, DNS, being
// offline) are transient and route submissions into the offline queue; anything
// else surfaces to the caller.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTimeout covers deadline and i/o timeout failures.
	KindTimeout
	// KindConnection covers refused/reset/unreachable transport failures.
	KindConnection
	// KindDNS covers name resolution failures.
	KindDNS
	// KindOffline marks attempts made while the monitor reports no connectivity.
	KindOffline
	// KindHTTPStatus marks a non-2xx response from the endpoint.
	KindHTTPStatus
	// KindParse marks an unreadable response body.
	KindParse
	// KindRejected marks a well-formed refusal from the endpoint
	// (validation failure, unknown project, bad signature).
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindDNS:
		return "dns"
	case KindOffline:
		return "offline"
	case KindHTTPStatus:
		return "http_status"
	case KindParse:
		return "parse"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is the typed failure the transport returns.
type Error struct {
	Kind   Kind
	Status int // HTTP status when Kind is KindHTTPStatus, else 0
	Msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transport: %s: %v", e.Kind, e.cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("transport: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("transport: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// networkMarkers is the fallback substring list for opaque errors whose text is
// all we have. Matching is case-insensitive.
var networkMarkers = []string{
	"network",
	"fetch",
	"timeout",
	"offline",
	"connection refused",
	"connection reset",
	"no such host",
	"unreachable",
}

// Classify maps an arbitrary error onto a Kind. Typed errors win; plain errors
// fall back to substring markers.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	text := strings.ToLower(err.Error())
	for _, marker := range networkMarkers {
		if strings.Contains(text, marker) {
			if marker == "timeout" {
				return KindTimeout
			}
			return KindConnection
		}
	}
	return KindUnknown
}

// IsNetwork reports whether err should route a submission into the offline
// queue rather than surfacing as a terminal failure. Server-side 5xx counts:
// the endpoint exists but cannot accept work right now.
func IsNetwork(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindConnection, KindDNS, KindOffline:
		return true
	case KindHTTPStatus:
		var terr *Error
		if errors.As(err, &terr) {
			return terr.Status >= 500
		}
	}
	return false
}
