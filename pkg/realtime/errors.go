package realtime

import (
	"errors"
	"fmt"

	"scheduleChat/pkg/api"
)

var (
	// ErrEmptyContent rejects a send whose trimmed content is empty.
	ErrEmptyContent = api.ErrEmptyContent
	// ErrSendInFlight rejects a send while the conversation still has one pending.
	ErrSendInFlight = errors.New("a send is already in flight for this conversation")
	ErrNoIdentity   = errors.New("no authenticated identity")
	ErrClosed       = errors.New("realtime: closed")
)

// TransportError reports a failed connection, subscription or presence request.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a send the backend did not store.
type PersistenceError struct {
	Conversation string
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message to %s not sent: %v", e.Conversation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EnrichmentError reports a sender profile that could not be fetched.
type EnrichmentError struct {
	UserId string
	Err    error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("profile of %s: %v", e.UserId, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }
