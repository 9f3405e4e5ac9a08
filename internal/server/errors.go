package server

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

type ErrorKind int

const (
	MalformedMessage ErrorKind = iota
	MissingText
	UnknownOrOfflineRecipient
	BlockedRecipient
	InactiveRecipient
	UnknownSenderIdentity
	BlockedSenderIdentity
	PersistenceFailure
	DirectoryFailure
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedMessage:
		return "malformed message"
	case MissingText:
		return "missing text"
	case UnknownOrOfflineRecipient:
		return "unknown or offline recipient"
	case BlockedRecipient:
		return "blocked recipient"
	case InactiveRecipient:
		return "inactive recipient"
	case UnknownSenderIdentity:
		return "unknown sender identity"
	case BlockedSenderIdentity:
		return "blocked sender identity"
	case PersistenceFailure:
		return "persistence failure"
	case DirectoryFailure:
		return "directory failure"
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// RoutingError is returned for every frame or admission that did not end in
// delivery. It is always scoped to the originating connection.
type RoutingError struct {
	Kind ErrorKind
	Err  error
}

func (e *RoutingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return e.Kind.String()
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

func newRoutingError(kind ErrorKind, err error) *RoutingError {
	return &RoutingError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, if it wraps a RoutingError.
func KindOf(err error) (ErrorKind, bool) {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
