package core

import (
	"context"
	"sync"
	"testing"

	"pkt.systems/contractpad/internal/kv"
	"pkt.systems/contractpad/internal/persist"
	"pkt.systems/contractpad/internal/surface"
	"pkt.systems/contractpad/schema"
)

type testEnv struct {
	mgr     *Manager
	store   *persist.Store
	backend kv.Store
	surface *surface.Buffer
	remote  *fakeRemote
	sink    *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend, err := kv.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	return newTestEnvWithBackend(t, backend)
}

func newTestEnvWithBackend(t *testing.T, backend kv.Store) *testEnv {
	t.Helper()
	store, err := persist.NewStore(backend)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	env := &testEnv{
		store:   store,
		backend: backend,
		surface: surface.New(nil),
		remote:  &fakeRemote{},
		sink:    &recordingSink{},
	}
	mgr, err := NewManager(schema.ManagerConfig{}, ManagerDeps{
		Store:     store,
		Remote:    env.remote,
		Surface:   env.surface,
		EventSink: env.sink,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	env.mgr = mgr
	return env
}

func (e *testEnv) start(t *testing.T) schema.SessionSnapshot {
	t.Helper()
	snap, err := e.mgr.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e.sink.reset()
	return snap
}

// checkInvariants asserts the session invariants that must hold after every
// operation.
func (e *testEnv) checkInvariants(t *testing.T) {
	t.Helper()
	snap, _ := e.mgr.Snapshot(context.Background())
	if len(snap.Tabs) == 0 {
		t.Fatalf("expected at least one open tab")
	}
	if snap.ActiveTab.Empty() {
		t.Fatalf("expected an active tab, got %+v", snap)
	}
	if e.surface.Bound() != snap.ActiveTab.ModelID {
		t.Fatalf("surface bound to %q, active model is %q", e.surface.Bound(), snap.ActiveTab.ModelID)
	}
	actives := 0
	seen := map[schema.TabRef]bool{}
	for _, tab := range snap.Tabs {
		if seen[tab.Ref()] {
			t.Fatalf("duplicate tab %s", tab.Ref())
		}
		seen[tab.Ref()] = true
		if tab.Active {
			actives++
		}
		if tab.Namespace == schema.NamespaceLocal {
			if ok, _ := e.store.HasDocument(tab.Name, tab.Namespace); !ok {
				t.Fatalf("local tab %q has no durable record", tab.Name)
			}
		}
	}
	if actives != 1 {
		t.Fatalf("expected exactly one active tab, got %d", actives)
	}
	if e.surface.Len() != len(snap.Tabs) {
		t.Fatalf("expected %d live models, got %d", len(snap.Tabs), e.surface.Len())
	}
}

func (e *testEnv) activeText(t *testing.T) string {
	t.Helper()
	text, err := e.surface.ReadCurrentText()
	if err != nil {
		t.Fatalf("read current text: %v", err)
	}
	return text
}

type fakeRemote struct {
	mu       sync.Mutex
	fetch    func(ctx context.Context, name schema.DocumentName) (string, error)
	validate func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error)
	probe    func(ctx context.Context) error
	endpoint schema.ConnectionInfo
	fetches  int
}

func (f *fakeRemote) Probe(ctx context.Context) error {
	f.mu.Lock()
	fn := f.probe
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeRemote) FetchDocument(ctx context.Context, name schema.DocumentName) (string, error) {
	f.mu.Lock()
	fn := f.fetch
	f.fetches++
	f.mu.Unlock()
	if fn == nil {
		return "", &schema.RemoteFetchError{Kind: schema.RemoteNotFound, Op: "fetch", Name: name}
	}
	return fn(ctx, name)
}

func (f *fakeRemote) ValidateAndSubmit(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
	f.mu.Lock()
	fn := f.validate
	f.mu.Unlock()
	if fn == nil {
		return schema.ValidationResult{}, nil
	}
	return fn(ctx, name, text)
}

func (f *fakeRemote) SetEndpoint(info schema.ConnectionInfo) {
	f.mu.Lock()
	f.endpoint = info
	f.mu.Unlock()
}

func (f *fakeRemote) currentEndpoint() schema.ConnectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

type recordingSink struct {
	mu            sync.Mutex
	notifications []schema.Notification
	events        []schema.SessionEvent
}

func (s *recordingSink) OnNotification(n schema.Notification) {
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
}

func (s *recordingSink) OnSessionEvent(event schema.SessionEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.notifications = nil
	s.events = nil
	s.mu.Unlock()
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, string(n.Severity)+": "+n.Message)
	}
	return out
}

func (s *recordingSink) eventTypes() []schema.SessionEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.SessionEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
