package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidName indicates an empty or otherwise unusable document name.
	ErrInvalidName = errors.New("invalid document name")
	// ErrInvalidNamespace indicates an unknown namespace.
	ErrInvalidNamespace = errors.New("invalid namespace")
	// ErrDocumentNotFound indicates the document is not open (or not stored, for reopen).
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNotLocal indicates an operation restricted to local documents.
	ErrNotLocal = errors.New("operation requires a local document")
	// ErrNoActiveDocument indicates no document is bound to the editing surface.
	ErrNoActiveDocument = errors.New("no active document")
	// ErrInvalidText indicates document text that is not valid UTF-8.
	ErrInvalidText = fmt.Errorf("%w: document text is not valid UTF-8", ErrInvalidRequest)
	// ErrRemoteUnavailable indicates no remote client is configured.
	ErrRemoteUnavailable = errors.New("remote service not configured")
)

// CorruptStoreError reports malformed durable data under a store key.
type CorruptStoreError struct {
	Key string
	Err error
}

func (e *CorruptStoreError) Error() string {
	if e == nil {
		return "corrupt store"
	}
	if e.Err != nil {
		return fmt.Sprintf("corrupt store entry %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("corrupt store entry %q", e.Key)
}

func (e *CorruptStoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RenameCollisionError reports a rename onto an existing local name.
type RenameCollisionError struct {
	Name DocumentName
}

func (e *RenameCollisionError) Error() string {
	if e == nil {
		return "name already exists"
	}
	return fmt.Sprintf("a contract named %q already exists", e.Name)
}

// RemoteFetchKind classifies remote failures.
type RemoteFetchKind string

const (
	// RemoteNotFound indicates the remote service does not know the document.
	RemoteNotFound RemoteFetchKind = "not_found"
	// RemoteNetwork indicates a transport or server failure.
	RemoteNetwork RemoteFetchKind = "network"
	// RemoteMalformed indicates the response could not be decoded.
	RemoteMalformed RemoteFetchKind = "malformed"
)

// RemoteFetchError wraps a failed fetch or submission call.
type RemoteFetchError struct {
	Kind RemoteFetchKind
	Op   string
	Name DocumentName
	Err  error
}

func (e *RemoteFetchError) Error() string {
	if e == nil {
		return "remote request failed"
	}
	switch e.Kind {
	case RemoteNotFound:
		return fmt.Sprintf("contract %q not found", e.Name)
	case RemoteMalformed:
		if e.Err != nil {
			return fmt.Sprintf("remote %s returned a malformed response: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("remote %s returned a malformed response", e.Op)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s failed", e.Op)
}

func (e *RemoteFetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectivityError reports a failed probe of the remote service.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	if e == nil || e.Err == nil {
		return "remote service unreachable"
	}
	return e.Err.Error()
}

func (e *ConnectivityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind returns a stable classification for transports.
func ErrorKind(err error) string {
	var corrupt *CorruptStoreError
	var collision *RenameCollisionError
	var fetch *RemoteFetchError
	var conn *ConnectivityError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &collision):
		return "rename_collision"
	case errors.As(err, &fetch):
		return "remote_" + string(fetch.Kind)
	case errors.As(err, &conn):
		return "connectivity"
	case errors.As(err, &corrupt):
		return "corrupt_store"
	case errors.Is(err, ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, ErrNotLocal):
		return "not_local"
	case errors.Is(err, ErrNoActiveDocument):
		return "no_active_document"
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidNamespace), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	default:
		return "internal"
	}
}
