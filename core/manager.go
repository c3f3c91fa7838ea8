package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/contractpad/internal/logx"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// Operation names reported to Metrics.
const (
	opNew      = "new"
	opCreate   = "create"
	opOpen     = "open"
	opSwitch   = "switch"
	opClose    = "close"
	opDelete   = "delete"
	opRename   = "rename"
	opEdit     = "edit"
	opValidate = "validate"
	opSubmit   = "submit"
	opProbe    = "probe"
	opConnect  = "connect"
)

// Manager owns the open documents, their live models and the active tab.
type Manager struct {
	cfg     schema.ManagerConfig
	store   Store
	remote  RemoteClient
	surface Surface
	sink    EventSink
	metrics Metrics
	logger  pslog.Logger
	now     func() time.Time

	mu          sync.Mutex
	tabs        map[schema.TabRef]*tab
	order       []schema.TabRef
	active      schema.TabRef
	diagnostics schema.Diagnostics
	connection  schema.ConnectionInfo
	firstRun    bool
	// pending holds the request token of an in-flight remote open per document.
	pending   map[schema.TabRef]uint64
	nextToken uint64
	// validationSeq identifies the newest validation or submission request.
	validationSeq uint64
}

// NewManager constructs a session manager. Call Start before use.
func NewManager(cfg schema.ManagerConfig, deps ManagerDeps) (*Manager, error) {
	normalized, err := schema.NormalizeManagerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Surface == nil {
		return nil, errors.New("surface is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:         normalized,
		store:       deps.Store,
		remote:      deps.Remote,
		surface:     deps.Surface,
		sink:        deps.EventSink,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         time.Now,
		tabs:        make(map[schema.TabRef]*tab),
		diagnostics: schema.Diagnostics{State: schema.DiagnosticsEmpty},
		connection:  schema.DefaultConnection(),
		pending:     make(map[schema.TabRef]uint64),
	}, nil
}

// Start restores the previous session from the open-tab record. When nothing
// can be restored a new document is created.
func (m *Manager) Start(ctx context.Context) (schema.SessionSnapshot, error) {
	_ = ctx
	log := m.logger
	firstRun, err := m.store.IsFirstRun()
	if err != nil {
		log.Warn("session first run check failed", "err", err)
	}
	conn, err := m.store.Connection()
	if err != nil {
		log.Warn("session connection load failed", "err", err)
		conn = schema.DefaultConnection()
	}
	if setter, ok := m.remote.(EndpointSetter); ok {
		setter.SetEndpoint(conn)
	}
	refs, err := m.store.OpenTabs()
	if err != nil {
		log.Warn("session open tabs load failed", "err", err)
	}

	m.mu.Lock()
	m.firstRun = firstRun
	m.connection = conn
	restored := make([]schema.TabRef, 0, len(refs))
	for _, ref := range refs {
		if _, open := m.tabs[ref]; open {
			continue
		}
		text, ok, err := m.store.Document(ref.Name, ref.Namespace)
		if err != nil {
			m.mu.Unlock()
			return schema.SessionSnapshot{}, fmt.Errorf("restore %s: %w", ref, err)
		}
		if !ok {
			log.Debug("session restore dropped", "document", ref.String())
			continue
		}
		m.addTabLocked(ref, text)
		restored = append(restored, ref)
	}
	if len(restored) != len(refs) {
		if err := m.store.SetOpenTabs(restored); err != nil {
			log.Warn("session open tabs prune failed", "err", err)
		}
	}
	var event schema.SessionEvent
	if len(restored) > 0 {
		if err := m.activateLocked(restored[0]); err != nil {
			m.mu.Unlock()
			return schema.SessionSnapshot{}, err
		}
		event = m.eventLocked(schema.SessionEventOpened, restored[0])
	} else {
		ref, err := m.newDocumentLocked(log)
		if err != nil {
			m.mu.Unlock()
			return schema.SessionSnapshot{}, err
		}
		event = m.eventLocked(schema.SessionEventCreated, ref)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	log.Info("session started", "restored", len(restored), "first_run", firstRun)
	m.emitEvent(event)
	return snapshot, nil
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot(ctx context.Context) (schema.SessionSnapshot, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

func (m *Manager) snapshotLocked() schema.SessionSnapshot {
	tabs := make([]schema.TabSnapshot, 0, len(m.order))
	for _, ref := range m.order {
		if t := m.tabs[ref]; t != nil {
			tabs = append(tabs, t.Snapshot(ref == m.active))
		}
	}
	active := schema.ActiveTab{}
	if t := m.tabs[m.active]; t != nil {
		active = schema.ActiveTab{Name: t.ref.Name, Namespace: t.ref.Namespace, ModelID: t.model}
	}
	diagnostics := m.diagnostics
	diagnostics.Violations = append([]schema.Violation(nil), m.diagnostics.Violations...)
	return schema.SessionSnapshot{
		Tabs:        tabs,
		ActiveTab:   active,
		Diagnostics: diagnostics,
		Connection:  m.connection,
		FirstRun:    m.firstRun,
	}
}

func (m *Manager) eventLocked(kind schema.SessionEventType, ref schema.TabRef) schema.SessionEvent {
	return schema.SessionEvent{Type: kind, Tab: ref, Snapshot: m.snapshotLocked()}
}

// addTabLocked creates a live model and appends it to the tab order.
func (m *Manager) addTabLocked(ref schema.TabRef, text string) *tab {
	t := &tab{ref: ref, model: m.surface.CreateModel(text)}
	m.tabs[ref] = t
	m.order = append(m.order, ref)
	m.updateGaugesLocked()
	return t
}

// activateLocked binds the tab's model and makes it active.
func (m *Manager) activateLocked(ref schema.TabRef) error {
	t := m.tabs[ref]
	if t == nil {
		return schema.ErrDocumentNotFound
	}
	if err := m.surface.BindModel(t.model); err != nil {
		return fmt.Errorf("bind model: %w", err)
	}
	if m.active != ref {
		m.diagnostics = schema.Diagnostics{State: schema.DiagnosticsEmpty}
	}
	m.active = ref
	return nil
}

func (m *Manager) updateGaugesLocked() {
	if m.metrics == nil {
		return
	}
	counts := map[schema.Namespace]int{}
	for ref := range m.tabs {
		counts[ref.Namespace]++
	}
	for _, ns := range schema.Namespaces() {
		m.metrics.SetOpenDocuments(ns, counts[ns])
	}
}

func (m *Manager) notify(severity schema.Severity, message string) {
	if m.metrics != nil {
		m.metrics.ObserveNotification(severity)
	}
	if m.sink == nil {
		return
	}
	m.sink.OnNotification(schema.Notification{Severity: severity, Message: message, Time: m.now()})
}

func (m *Manager) notifyError(err error) {
	m.notify(schema.SeverityError, userMessage(err))
}

func (m *Manager) emitEvent(event schema.SessionEvent) {
	if m.sink == nil || event.Type == "" {
		return
	}
	m.sink.OnSessionEvent(event)
}

func (m *Manager) observe(op string, err error) {
	if m.metrics != nil {
		m.metrics.ObserveOperation(op, err)
	}
}

func (m *Manager) docLog(ref schema.TabRef) pslog.Logger {
	return logx.WithDocument(m.logger, ref.Namespace, ref.Name)
}

// userMessage renders err for a notification. Transport failures point at
// the connection settings.
func userMessage(err error) string {
	var fetch *schema.RemoteFetchError
	if errors.As(err, &fetch) && fetch.Kind == schema.RemoteNetwork {
		return err.Error() + ". Check API settings."
	}
	var conn *schema.ConnectivityError
	if errors.As(err, &conn) {
		return err.Error() + ". Check API settings."
	}
	return err.Error()
}
