package htsp

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy means a request was attempted while another is
	// outstanding. The session only ever has one in-flight exchange;
	// retry once the current one completes.
	ErrBusy = errors.New("A request is already outstanding on this session")

	// ErrOutOfSequence means a reply carried a sequence tag that does
	// not match the outstanding request. The correlation stream is
	// corrupt and the session must be torn down.
	ErrOutOfSequence = errors.New("Reply is out of sequence")

	// ErrSessionBroken is returned by every correlated call after the
	// session has hit an out of sequence reply or a transport failure.
	ErrSessionBroken = errors.New("Session is broken and must be reconnected")

	ErrNotConnected = errors.New("Session is not connected")

	// ErrAccessDenied means the server rejected the supplied credentials.
	ErrAccessDenied = errors.New("Access denied")
)

// ProtocolVersionError means an operation or field needs a higher HTSP
// version than the server negotiated. It is raised before any request
// is sent, so the caller can avoid the feature and carry on.
type ProtocolVersionError struct {
	Required   uint32
	Negotiated uint32
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("HTSP version %d required, but the server only supports version %d",
		e.Required, e.Negotiated)
}

// RequestError is a failure the server explicitly reported for a
// request. Reason carries the server-supplied diagnostic text.
type RequestError struct {
	Method string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("Request '%s' failed: %s", e.Method, e.Reason)
}

// LookupError means a notification or reply referenced an entity the
// mirror does not hold. For updates this is a real ordering bug on the
// wire and is propagated; for deletes it is tolerated.
type LookupError struct {
	Kind Kind
	ID   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("No mirrored %s with id %s", e.Kind, e.ID)
}
