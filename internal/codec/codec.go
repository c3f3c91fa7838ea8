// Package codec converts between the durable store's flat JSON text and the
// keyed collections used by the session layer. It performs no I/O.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"pkt.systems/contractpad/schema"
)

// Store keys of the well-known records.
const (
	KeyFiles      = "files"
	KeyConnection = "apiInfo"
	KeyOpenTabs   = "openfiles"
)

// Catalog maps each namespace to its documents' source text.
type Catalog map[schema.Namespace]map[schema.DocumentName]string

// NewCatalog returns an empty catalog with both namespaces present.
func NewCatalog() Catalog {
	return Catalog{
		schema.NamespaceLocal:  make(map[schema.DocumentName]string),
		schema.NamespaceRemote: make(map[schema.DocumentName]string),
	}
}

// Clone returns a deep copy with both namespaces present.
func (c Catalog) Clone() Catalog {
	out := NewCatalog()
	for ns, docs := range c {
		if _, ok := out[ns]; !ok {
			out[ns] = make(map[schema.DocumentName]string, len(docs))
		}
		for name, text := range docs {
			out[ns][name] = text
		}
	}
	return out
}

// Names returns the sorted document names of a namespace.
func (c Catalog) Names(ns schema.Namespace) []schema.DocumentName {
	docs := c[ns]
	names := make([]schema.DocumentName, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Has reports whether the namespace contains the name.
func (c Catalog) Has(ns schema.Namespace, name schema.DocumentName) bool {
	_, ok := c[ns][name]
	return ok
}

type catalogJSON struct {
	Local    map[string]string `json:"local"`
	Database map[string]string `json:"database"`
}

// Encode renders the catalog as the durable JSON layout. Names or text that
// are not valid UTF-8 fail instead of being rewritten.
func Encode(c Catalog) ([]byte, error) {
	for _, ns := range schema.Namespaces() {
		for name, text := range c[ns] {
			if !utf8.ValidString(string(name)) || !utf8.ValidString(text) {
				return nil, fmt.Errorf("encode %s:%s: %w", ns, name, schema.ErrInvalidText)
			}
		}
	}
	payload := catalogJSON{
		Local:    make(map[string]string, len(c[schema.NamespaceLocal])),
		Database: make(map[string]string, len(c[schema.NamespaceRemote])),
	}
	for name, text := range c[schema.NamespaceLocal] {
		payload.Local[string(name)] = text
	}
	for name, text := range c[schema.NamespaceRemote] {
		payload.Database[string(name)] = text
	}
	return json.Marshal(payload)
}

// Decode parses the durable JSON layout. Absent or malformed input fails with
// *schema.CorruptStoreError.
func Decode(data []byte) (Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, corrupt(KeyFiles, errors.New("empty value"))
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, corrupt(KeyFiles, err)
	}
	if raw == nil {
		return nil, corrupt(KeyFiles, errors.New("value is not an object"))
	}
	out := NewCatalog()
	for _, ns := range schema.Namespaces() {
		section, ok := raw[string(ns)]
		if !ok {
			return nil, corrupt(KeyFiles, fmt.Errorf("missing %q section", ns))
		}
		var docs map[string]string
		if err := json.Unmarshal(section, &docs); err != nil {
			return nil, corrupt(KeyFiles, fmt.Errorf("section %q: %w", ns, err))
		}
		if docs == nil {
			return nil, corrupt(KeyFiles, fmt.Errorf("section %q is not an object", ns))
		}
		for name, text := range docs {
			out[ns][schema.DocumentName(name)] = text
		}
	}
	return out, nil
}

// EncodeOpenTabs renders the ordered open-tab list.
func EncodeOpenTabs(refs []schema.TabRef) ([]byte, error) {
	values := make([]string, 0, len(refs))
	for _, ref := range refs {
		values = append(values, ref.String())
	}
	return json.Marshal(values)
}

// DecodeOpenTabs parses the ordered open-tab list. Entries that do not parse
// are skipped; a value that is not a string list is corrupt.
func DecodeOpenTabs(data []byte) ([]schema.TabRef, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, corrupt(KeyOpenTabs, errors.New("empty value"))
	}
	var values []string
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, corrupt(KeyOpenTabs, err)
	}
	refs := make([]schema.TabRef, 0, len(values))
	for _, value := range values {
		if ref, ok := schema.ParseTabRef(value); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// EncodeConnection renders the connection-configuration record.
func EncodeConnection(info schema.ConnectionInfo) ([]byte, error) {
	return json.Marshal(info)
}

// DecodeConnection parses the connection-configuration record.
func DecodeConnection(data []byte) (schema.ConnectionInfo, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return schema.ConnectionInfo{}, corrupt(KeyConnection, errors.New("empty value"))
	}
	var info schema.ConnectionInfo
	if err := json.Unmarshal(trimmed, &info); err != nil {
		return schema.ConnectionInfo{}, corrupt(KeyConnection, err)
	}
	if info.Hostname == "" {
		return schema.ConnectionInfo{}, corrupt(KeyConnection, errors.New("missing hostname"))
	}
	if info.Status == "" {
		info.Status = schema.StatusOffline
	}
	return info, nil
}

func corrupt(key string, err error) error {
	return &schema.CorruptStoreError{Key: key, Err: err}
}
