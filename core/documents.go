package core

import (
	"context"
	"fmt"

	"pkt.systems/contractpad/internal/codec"
	"pkt.systems/contractpad/internal/logx"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// NewDocument creates a Local document with the next free generated name and
// activates it.
func (m *Manager) NewDocument(ctx context.Context) (schema.SessionSnapshot, error) {
	_ = ctx
	m.mu.Lock()
	ref, err := m.newDocumentLocked(m.logger)
	if err != nil {
		m.mu.Unlock()
		return m.fail(opNew, err)
	}
	event := m.eventLocked(schema.SessionEventCreated, ref)
	m.mu.Unlock()
	m.emitEvent(event)
	m.observe(opNew, nil)
	return event.Snapshot, nil
}

func (m *Manager) newDocumentLocked(log pslog.Logger) (schema.TabRef, error) {
	catalog, err := m.store.LoadCatalog()
	if err != nil {
		return schema.TabRef{}, err
	}
	ref := schema.TabRef{Namespace: schema.NamespaceLocal, Name: m.nextDocumentNameLocked(catalog)}
	text := m.cfg.PlaceholderText
	if err := m.store.SaveDocument(ref.Name, text, ref.Namespace); err != nil {
		return schema.TabRef{}, err
	}
	if t := m.tabs[ref]; t != nil {
		// Every candidate was taken; the last one is reseeded in place.
		if err := m.surface.SetText(t.model, text); err != nil {
			return schema.TabRef{}, fmt.Errorf("reseed model: %w", err)
		}
		m.docLog(ref).Warn("session document name space exhausted, reseeding", "probe_max", m.cfg.NewDocumentProbeMax)
	} else {
		m.addTabLocked(ref, text)
		m.recordOpenLocked(ref)
	}
	if err := m.activateLocked(ref); err != nil {
		return schema.TabRef{}, err
	}
	logx.WithDocument(log, ref.Namespace, ref.Name).Info("session document created")
	return ref, nil
}

// nextDocumentNameLocked returns the first generated name not used by an open
// Local tab or a durable Local record, or the last candidate when all are used.
func (m *Manager) nextDocumentNameLocked(catalog codec.Catalog) schema.DocumentName {
	var name schema.DocumentName
	for i := 1; i <= m.cfg.NewDocumentProbeMax; i++ {
		name = schema.DocumentName(fmt.Sprintf("%s%d", m.cfg.NewDocumentBase, i))
		ref := schema.TabRef{Namespace: schema.NamespaceLocal, Name: name}
		if _, open := m.tabs[ref]; open {
			continue
		}
		if catalog.Has(schema.NamespaceLocal, name) {
			continue
		}
		return name
	}
	return name
}

// CreateDocument opens name when it already exists, otherwise creates it with
// text, persists it and activates it. A remote document created this way is a
// cached copy until submitted; the service is not consulted.
func (m *Manager) CreateDocument(ctx context.Context, name string, text string, ns schema.Namespace) (schema.SessionSnapshot, error) {
	_ = ctx
	ref, err := normalizeRef(name, ns)
	if err != nil {
		return m.fail(opCreate, err)
	}
	if err := schema.ValidateText(text); err != nil {
		return m.fail(opCreate, err)
	}
	log := m.docLog(ref)
	m.mu.Lock()
	delete(m.pending, ref)
	kind := schema.SessionEventActivated
	if _, open := m.tabs[ref]; !open {
		existing, ok, err := m.store.Document(ref.Name, ref.Namespace)
		if err != nil {
			m.mu.Unlock()
			return m.fail(opCreate, err)
		}
		if ok {
			text = existing
			kind = schema.SessionEventOpened
		} else {
			if err := m.store.SaveDocument(ref.Name, text, ref.Namespace); err != nil {
				m.mu.Unlock()
				return m.fail(opCreate, err)
			}
			kind = schema.SessionEventCreated
		}
		m.addTabLocked(ref, text)
		m.recordOpenLocked(ref)
	}
	if err := m.activateLocked(ref); err != nil {
		m.mu.Unlock()
		return m.fail(opCreate, err)
	}
	event := m.eventLocked(kind, ref)
	m.mu.Unlock()
	log.Info("session document create", "result", kind)
	m.emitEvent(event)
	m.observe(opCreate, nil)
	return event.Snapshot, nil
}

// OpenDocument activates an open document, reopens a Local record, or fetches
// a Remote document from the service.
func (m *Manager) OpenDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error) {
	ref, err := normalizeRef(name, ns)
	if err != nil {
		return m.fail(opOpen, err)
	}
	log := m.docLog(ref)
	m.mu.Lock()
	if _, open := m.tabs[ref]; open {
		delete(m.pending, ref)
		return m.finishActivateLocked(opOpen, ref)
	}
	if ref.Namespace == schema.NamespaceLocal {
		text, ok, err := m.store.Document(ref.Name, ref.Namespace)
		if err != nil {
			m.mu.Unlock()
			return m.fail(opOpen, err)
		}
		if !ok {
			m.mu.Unlock()
			return m.fail(opOpen, schema.ErrDocumentNotFound)
		}
		return m.finishOpenLocked(log, ref, text)
	}
	if m.remote == nil {
		m.mu.Unlock()
		return m.fail(opOpen, schema.ErrRemoteUnavailable)
	}
	m.nextToken++
	token := m.nextToken
	m.pending[ref] = token
	m.mu.Unlock()

	log.Debug("session remote open start")
	text, fetchErr := m.remote.FetchDocument(ctx, ref.Name)

	m.mu.Lock()
	if m.pending[ref] != token {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		log.Debug("session remote open dropped", "reason", "stale")
		return snapshot, nil
	}
	delete(m.pending, ref)
	if fetchErr != nil {
		m.mu.Unlock()
		log.Warn("session remote open failed", "err", fetchErr)
		return m.fail(opOpen, fetchErr)
	}
	if _, open := m.tabs[ref]; open {
		return m.finishActivateLocked(opOpen, ref)
	}
	if err := m.store.SaveDocument(ref.Name, text, ref.Namespace); err != nil {
		m.mu.Unlock()
		return m.fail(opOpen, err)
	}
	return m.finishOpenLocked(log, ref, text)
}

// finishOpenLocked adds, records and activates a tab, then releases the lock.
func (m *Manager) finishOpenLocked(log pslog.Logger, ref schema.TabRef, text string) (schema.SessionSnapshot, error) {
	t := m.addTabLocked(ref, text)
	m.recordOpenLocked(ref)
	if err := m.activateLocked(ref); err != nil {
		m.mu.Unlock()
		return m.fail(opOpen, err)
	}
	event := m.eventLocked(schema.SessionEventOpened, ref)
	m.mu.Unlock()
	logx.WithModel(log, t.model).Info("session document opened")
	m.emitEvent(event)
	m.observe(opOpen, nil)
	return event.Snapshot, nil
}

// finishActivateLocked activates an open tab, then releases the lock.
func (m *Manager) finishActivateLocked(op string, ref schema.TabRef) (schema.SessionSnapshot, error) {
	if err := m.activateLocked(ref); err != nil {
		m.mu.Unlock()
		return m.fail(op, err)
	}
	event := m.eventLocked(schema.SessionEventActivated, ref)
	m.mu.Unlock()
	m.docLog(ref).Debug("session document activated")
	m.emitEvent(event)
	m.observe(op, nil)
	return event.Snapshot, nil
}

// SwitchTo activates an open document.
func (m *Manager) SwitchTo(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error) {
	_ = ctx
	ref, err := normalizeRef(name, ns)
	if err != nil {
		return m.fail(opSwitch, err)
	}
	m.mu.Lock()
	if _, open := m.tabs[ref]; !open {
		m.mu.Unlock()
		return m.fail(opSwitch, schema.ErrDocumentNotFound)
	}
	return m.finishActivateLocked(opSwitch, ref)
}

// CloseDocument disposes an open document's model. The durable record is
// kept. Closing the last tab creates a new document.
func (m *Manager) CloseDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error) {
	_ = ctx
	ref, err := normalizeRef(name, ns)
	if err != nil {
		return m.fail(opClose, err)
	}
	m.mu.Lock()
	delete(m.pending, ref)
	if _, open := m.tabs[ref]; !open {
		m.mu.Unlock()
		return m.fail(opClose, schema.ErrDocumentNotFound)
	}
	follow, err := m.closeLocked(ref)
	if err != nil {
		m.mu.Unlock()
		return m.fail(opClose, err)
	}
	events := []schema.SessionEvent{m.eventLocked(schema.SessionEventClosed, ref)}
	if follow.Type != "" {
		events = append(events, follow)
	}
	m.mu.Unlock()
	m.docLog(ref).Info("session document closed")
	for _, event := range events {
		m.emitEvent(event)
	}
	m.observe(opClose, nil)
	return events[len(events)-1].Snapshot, nil
}

// closeLocked removes an open tab and moves the active tab when needed. It
// returns the follow-up event for the newly active tab, if any. On failure
// the tab is restored.
func (m *Manager) closeLocked(ref schema.TabRef) (schema.SessionEvent, error) {
	t := m.tabs[ref]
	index := -1
	for i, existing := range m.order {
		if existing == ref {
			index = i
			break
		}
	}
	if err := m.store.RemoveOpenTab(ref); err != nil {
		m.docLog(ref).Warn("session open tabs save failed", "err", err)
	}
	delete(m.tabs, ref)
	m.order = removeRef(m.order, ref)
	wasActive := m.active == ref
	var follow schema.SessionEvent
	if wasActive {
		m.active = schema.TabRef{}
		var next schema.TabRef
		var err error
		kind := schema.SessionEventActivated
		if len(m.order) > 0 {
			next = m.order[0]
			err = m.activateLocked(next)
		} else {
			kind = schema.SessionEventCreated
			next, err = m.newDocumentLocked(m.logger)
		}
		if err != nil {
			m.restoreTabLocked(t, index)
			return schema.SessionEvent{}, err
		}
		follow = schema.SessionEvent{Type: kind, Tab: next}
	}
	m.surface.DisposeModel(t.model)
	m.updateGaugesLocked()
	if follow.Type != "" {
		follow.Snapshot = m.snapshotLocked()
	}
	return follow, nil
}

func (m *Manager) restoreTabLocked(t *tab, index int) {
	m.tabs[t.ref] = t
	if index < 0 || index > len(m.order) {
		index = len(m.order)
	}
	m.order = append(m.order, schema.TabRef{})
	copy(m.order[index+1:], m.order[index:])
	m.order[index] = t.ref
	m.recordOpenLocked(t.ref)
	if err := m.activateLocked(t.ref); err != nil {
		m.docLog(t.ref).Error("session tab restore failed", "err", err)
	}
	m.updateGaugesLocked()
}

// DeleteDocument closes the document when open and removes its durable
// record.
func (m *Manager) DeleteDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error) {
	_ = ctx
	ref, err := normalizeRef(name, ns)
	if err != nil {
		return m.fail(opDelete, err)
	}
	m.mu.Lock()
	delete(m.pending, ref)
	_, stored, err := m.store.Document(ref.Name, ref.Namespace)
	if err != nil {
		m.mu.Unlock()
		return m.fail(opDelete, err)
	}
	_, open := m.tabs[ref]
	if !stored && !open {
		m.mu.Unlock()
		return m.fail(opDelete, schema.ErrDocumentNotFound)
	}
	if err := m.store.DeleteDocument(ref.Name, ref.Namespace); err != nil {
		m.mu.Unlock()
		return m.fail(opDelete, err)
	}
	var follow schema.SessionEvent
	if open {
		follow, err = m.closeLocked(ref)
		if err != nil {
			m.mu.Unlock()
			return m.fail(opDelete, err)
		}
	}
	events := []schema.SessionEvent{m.eventLocked(schema.SessionEventDeleted, ref)}
	if follow.Type != "" {
		events = append(events, follow)
	}
	m.mu.Unlock()
	m.docLog(ref).Info("session document deleted", "was_open", open)
	for _, event := range events {
		m.emitEvent(event)
	}
	m.observe(opDelete, nil)
	return events[len(events)-1].Snapshot, nil
}

// RenameActiveDocument renames the active Local document.
func (m *Manager) RenameActiveDocument(ctx context.Context, newName string) (schema.SessionSnapshot, error) {
	_ = ctx
	name, err := schema.NormalizeDocumentName(newName)
	if err != nil {
		return m.fail(opRename, err)
	}
	m.mu.Lock()
	oldRef := m.active
	t := m.tabs[oldRef]
	if t == nil {
		m.mu.Unlock()
		return m.fail(opRename, schema.ErrNoActiveDocument)
	}
	if oldRef.Namespace != schema.NamespaceLocal {
		m.mu.Unlock()
		return m.fail(opRename, schema.ErrNotLocal)
	}
	newRef := schema.TabRef{Namespace: schema.NamespaceLocal, Name: name}
	if newRef == oldRef {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, nil
	}
	if _, open := m.tabs[newRef]; open {
		m.mu.Unlock()
		return m.fail(opRename, &schema.RenameCollisionError{Name: name})
	}
	text, err := m.surface.ReadCurrentText()
	if err != nil {
		m.mu.Unlock()
		return m.fail(opRename, fmt.Errorf("read current text: %w", err))
	}
	if err := m.store.RenameDocument(oldRef.Name, newRef.Name, text); err != nil {
		m.mu.Unlock()
		return m.fail(opRename, err)
	}
	delete(m.tabs, oldRef)
	t.ref = newRef
	m.tabs[newRef] = t
	m.order = replaceRef(m.order, oldRef, newRef)
	m.active = newRef
	if refs, err := m.store.OpenTabs(); err == nil {
		err = m.store.SetOpenTabs(replaceRef(refs, oldRef, newRef))
		if err != nil {
			m.docLog(newRef).Warn("session open tabs save failed", "err", err)
		}
	}
	event := m.eventLocked(schema.SessionEventRenamed, newRef)
	m.mu.Unlock()
	m.docLog(newRef).Info("session document renamed", "from", oldRef.Name)
	m.emitEvent(event)
	m.observe(opRename, nil)
	return event.Snapshot, nil
}

// UpdateActiveText replaces the active document's text and persists it.
func (m *Manager) UpdateActiveText(ctx context.Context, text string) (schema.SessionSnapshot, error) {
	_ = ctx
	if err := schema.ValidateText(text); err != nil {
		return m.fail(opEdit, err)
	}
	m.mu.Lock()
	ref := m.active
	t := m.tabs[ref]
	if t == nil {
		m.mu.Unlock()
		return m.fail(opEdit, schema.ErrNoActiveDocument)
	}
	if err := m.store.SaveDocument(ref.Name, text, ref.Namespace); err != nil {
		m.mu.Unlock()
		return m.fail(opEdit, err)
	}
	if err := m.surface.SetText(t.model, text); err != nil {
		m.mu.Unlock()
		return m.fail(opEdit, fmt.Errorf("set text: %w", err))
	}
	event := m.eventLocked(schema.SessionEventEdited, ref)
	m.mu.Unlock()
	m.docLog(ref).Trace("session document edited", "bytes", len(text))
	m.emitEvent(event)
	m.observe(opEdit, nil)
	return event.Snapshot, nil
}

func (m *Manager) recordOpenLocked(ref schema.TabRef) {
	if err := m.store.AddOpenTab(ref); err != nil {
		m.docLog(ref).Warn("session open tabs save failed", "err", err)
	}
}

// fail reports a user-facing failure once and returns it.
func (m *Manager) fail(op string, err error) (schema.SessionSnapshot, error) {
	m.observe(op, err)
	m.notifyError(err)
	m.logger.Debug("session operation failed", "op", op, "err", err)
	return schema.SessionSnapshot{}, err
}

func normalizeRef(name string, ns schema.Namespace) (schema.TabRef, error) {
	if !ns.Valid() {
		return schema.TabRef{}, schema.ErrInvalidNamespace
	}
	normalized, err := schema.NormalizeDocumentName(name)
	if err != nil {
		return schema.TabRef{}, err
	}
	return schema.TabRef{Namespace: ns, Name: normalized}, nil
}
