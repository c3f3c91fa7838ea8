// Package surface is an in-process editing surface: a set of text models and
// a single view that shows one of them at a time.
package surface

import (
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"

	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// ErrUnknownModel is returned for handles that were never created or were
// already disposed.
var ErrUnknownModel = errors.New("unknown model")

// ErrNothingBound is returned when reading with no model bound.
var ErrNothingBound = errors.New("no model bound")

// Buffer holds the models and the current binding.
type Buffer struct {
	mu     sync.Mutex
	models map[schema.ModelID]string
	bound  schema.ModelID
	log    pslog.Logger
}

// New returns an empty surface.
func New(logger pslog.Logger) *Buffer {
	return &Buffer{
		models: make(map[schema.ModelID]string),
		log:    logger,
	}
}

// CreateModel stores text under a fresh handle.
func (b *Buffer) CreateModel(text string) schema.ModelID {
	id := schema.ModelID(ulid.Make().String())
	b.mu.Lock()
	b.models[id] = text
	b.mu.Unlock()
	if b.log != nil {
		b.log.Trace("surface model created", "model", id, "bytes", len(text))
	}
	return id
}

// BindModel makes id the model shown by the view.
func (b *Buffer) BindModel(id schema.ModelID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.models[id]; !ok {
		return ErrUnknownModel
	}
	b.bound = id
	return nil
}

// ReadCurrentText returns the text of the bound model.
func (b *Buffer) ReadCurrentText() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound == "" {
		return "", ErrNothingBound
	}
	text, ok := b.models[b.bound]
	if !ok {
		return "", ErrUnknownModel
	}
	return text, nil
}

// SetText replaces a model's text.
func (b *Buffer) SetText(id schema.ModelID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.models[id]; !ok {
		return ErrUnknownModel
	}
	b.models[id] = text
	return nil
}

// DisposeModel releases a model. Disposing the bound model clears the view.
func (b *Buffer) DisposeModel(id schema.ModelID) {
	b.mu.Lock()
	delete(b.models, id)
	if b.bound == id {
		b.bound = ""
	}
	b.mu.Unlock()
	if b.log != nil {
		b.log.Trace("surface model disposed", "model", id)
	}
}

// Bound returns the handle currently shown.
func (b *Buffer) Bound() schema.ModelID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

// Len returns the number of live models.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.models)
}
