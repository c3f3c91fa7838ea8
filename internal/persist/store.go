// Package persist is the durable store gateway: the namespaced document
// catalog, the connection record, the open-tab record and the first-run
// marker, all kept in a flat kv.Store.
package persist

import (
	"errors"
	"strings"
	"sync"

	"pkt.systems/contractpad/internal/codec"
	"pkt.systems/contractpad/internal/kv"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// KeyFirstRun marks that the first-run notice has been consumed.
const KeyFirstRun = "firstRun"

// Store reads and writes durable session state.
type Store struct {
	mu  sync.Mutex
	kv  kv.Store
	log pslog.Logger
}

// NewStore constructs a gateway over the given backend.
func NewStore(backend kv.Store) (*Store, error) {
	return NewStoreWithLogger(backend, nil)
}

// NewStoreWithLogger constructs a gateway with logging.
func NewStoreWithLogger(backend kv.Store, logger pslog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("kv store is required")
	}
	return &Store{kv: backend, log: logger}, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// LoadCatalog returns the persisted catalog. Absent or corrupt data yields an
// empty catalog; corrupt data is replaced on disk.
func (s *Store) LoadCatalog() (codec.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCatalogLocked()
}

// SaveDocument upserts a record and persists the catalog.
func (s *Store) SaveDocument(name schema.DocumentName, text string, ns schema.Namespace) error {
	if !ns.Valid() {
		return schema.ErrInvalidNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	catalog[ns][name] = text
	if err := s.saveCatalogLocked(catalog); err != nil {
		return err
	}
	s.debug("store document saved", "namespace", ns, "document", name, "bytes", len(text))
	return nil
}

// DeleteDocument removes a record. Missing records are a no-op.
func (s *Store) DeleteDocument(name schema.DocumentName, ns schema.Namespace) error {
	if !ns.Valid() {
		return schema.ErrInvalidNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	if !catalog.Has(ns, name) {
		return nil
	}
	delete(catalog[ns], name)
	if err := s.saveCatalogLocked(catalog); err != nil {
		return err
	}
	s.debug("store document deleted", "namespace", ns, "document", name)
	return nil
}

// RenameDocument moves a Local record to a new name in one write.
func (s *Store) RenameDocument(oldName, newName schema.DocumentName, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return err
	}
	local := catalog[schema.NamespaceLocal]
	if oldName == newName {
		local[newName] = text
		return s.saveCatalogLocked(catalog)
	}
	if _, exists := local[newName]; exists {
		return &schema.RenameCollisionError{Name: newName}
	}
	local[newName] = text
	delete(local, oldName)
	if err := s.saveCatalogLocked(catalog); err != nil {
		return err
	}
	s.debug("store document renamed", "from", oldName, "to", newName)
	return nil
}

// HasDocument reports whether a record exists.
func (s *Store) HasDocument(name schema.DocumentName, ns schema.Namespace) (bool, error) {
	_, ok, err := s.Document(name, ns)
	return ok, err
}

// Document returns a record's source text.
func (s *Store) Document(name schema.DocumentName, ns schema.Namespace) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	catalog, err := s.loadCatalogLocked()
	if err != nil {
		return "", false, err
	}
	text, ok := catalog[ns][name]
	return text, ok, nil
}

func (s *Store) loadCatalogLocked() (codec.Catalog, error) {
	value, ok, err := s.kv.Get(codec.KeyFiles)
	if err != nil {
		return nil, err
	}
	if !ok {
		return codec.NewCatalog(), nil
	}
	catalog, err := codec.Decode([]byte(value))
	if err != nil {
		var corrupt *schema.CorruptStoreError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		s.warn("store catalog corrupt, resetting", "err", err)
		catalog = codec.NewCatalog()
		if err := s.saveCatalogLocked(catalog); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func (s *Store) saveCatalogLocked(catalog codec.Catalog) error {
	data, err := codec.Encode(catalog)
	if err != nil {
		s.warn("store save failed", "key", codec.KeyFiles, "err", err)
		return err
	}
	if err := s.kv.Put(codec.KeyFiles, string(data)); err != nil {
		s.warn("store save failed", "key", codec.KeyFiles, "err", err)
		return err
	}
	return nil
}

// IsFirstRun reports true exactly once per store.
func (s *Store) IsFirstRun() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok, err := s.kv.Get(KeyFirstRun)
	if err != nil {
		return false, err
	}
	if ok && strings.TrimSpace(value) == "false" {
		return false, nil
	}
	if _, err := s.connectionLocked(); err != nil {
		return false, err
	}
	if err := s.kv.Put(KeyFirstRun, "false"); err != nil {
		s.warn("store save failed", "key", KeyFirstRun, "err", err)
		return false, err
	}
	if s.log != nil {
		s.log.Info("store first run")
	}
	return true, nil
}

// Connection returns the connection record, persisting defaults when the
// record is absent or corrupt.
func (s *Store) Connection() (schema.ConnectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionLocked()
}

// SetConnection persists the connection record.
func (s *Store) SetConnection(info schema.ConnectionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setConnectionLocked(info)
}

// SeedConnection writes info as the connection record only when no record
// exists yet. It reports whether the record was written.
func (s *Store) SeedConnection(info schema.ConnectionInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.kv.Get(codec.KeyConnection)
	if err != nil || ok {
		return false, err
	}
	info.Status = schema.StatusOffline
	if err := s.setConnectionLocked(info); err != nil {
		return false, err
	}
	s.debug("store connection seeded", "hostname", info.Hostname, "port", info.Port)
	return true, nil
}

func (s *Store) connectionLocked() (schema.ConnectionInfo, error) {
	value, ok, err := s.kv.Get(codec.KeyConnection)
	if err != nil {
		return schema.ConnectionInfo{}, err
	}
	if ok {
		info, err := codec.DecodeConnection([]byte(value))
		if err == nil {
			return info, nil
		}
		s.warn("store connection corrupt, resetting", "err", err)
	}
	info := schema.DefaultConnection()
	if err := s.setConnectionLocked(info); err != nil {
		return schema.ConnectionInfo{}, err
	}
	return info, nil
}

func (s *Store) setConnectionLocked(info schema.ConnectionInfo) error {
	if info.Status == "" {
		info.Status = schema.StatusOffline
	}
	data, err := codec.EncodeConnection(info)
	if err != nil {
		return err
	}
	if err := s.kv.Put(codec.KeyConnection, string(data)); err != nil {
		s.warn("store save failed", "key", codec.KeyConnection, "err", err)
		return err
	}
	return nil
}

// OpenTabs returns the ordered open-tab record. A corrupt record reads as
// empty.
func (s *Store) OpenTabs() ([]schema.TabRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTabsLocked()
}

// SetOpenTabs replaces the open-tab record.
func (s *Store) SetOpenTabs(refs []schema.TabRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOpenTabsLocked(refs)
}

// AddOpenTab appends ref unless it is already present.
func (s *Store) AddOpenTab(ref schema.TabRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.openTabsLocked()
	if err != nil {
		return err
	}
	for _, existing := range refs {
		if existing == ref {
			return nil
		}
	}
	return s.setOpenTabsLocked(append(refs, ref))
}

// RemoveOpenTab drops ref from the record. Absent entries are a no-op.
func (s *Store) RemoveOpenTab(ref schema.TabRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, err := s.openTabsLocked()
	if err != nil {
		return err
	}
	idx := -1
	for i, existing := range refs {
		if existing == ref {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	refs = append(refs[:idx], refs[idx+1:]...)
	return s.setOpenTabsLocked(refs)
}

func (s *Store) openTabsLocked() ([]schema.TabRef, error) {
	value, ok, err := s.kv.Get(codec.KeyOpenTabs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	refs, err := codec.DecodeOpenTabs([]byte(value))
	if err != nil {
		s.warn("store open tabs corrupt, ignoring", "err", err)
		return nil, nil
	}
	return refs, nil
}

func (s *Store) setOpenTabsLocked(refs []schema.TabRef) error {
	data, err := codec.EncodeOpenTabs(refs)
	if err != nil {
		return err
	}
	if err := s.kv.Put(codec.KeyOpenTabs, string(data)); err != nil {
		s.warn("store save failed", "key", codec.KeyOpenTabs, "err", err)
		return err
	}
	return nil
}

func (s *Store) warn(msg string, keyvals ...any) {
	if s.log != nil {
		s.log.Warn(msg, keyvals...)
	}
}

func (s *Store) debug(msg string, keyvals ...any) {
	if s.log != nil {
		s.log.Debug(msg, keyvals...)
	}
}
