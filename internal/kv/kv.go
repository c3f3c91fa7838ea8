// Package kv provides the flat string key/value backends behind the durable
// store gateway.
package kv

import (
	"errors"
	"fmt"
	"strings"

	"pkt.systems/pslog"
)

// Store is a flat string key/value store.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("kv key is required")

// Open constructs the named backend rooted at path.
func Open(backend, path string, logger pslog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(path, logger)
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
