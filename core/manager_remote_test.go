package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"pkt.systems/contractpad/schema"
)

func TestValidationWithoutViolations(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	var sent string
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		sent = text
		return schema.ValidationResult{}, nil
	}
	snap, err := env.mgr.RequestValidation(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sent != schema.DefaultPlaceholderText {
		t.Fatalf("expected active text sent, got %q", sent)
	}
	if snap.Diagnostics.State != schema.DiagnosticsOK || len(snap.Diagnostics.Violations) != 0 {
		t.Fatalf("unexpected diagnostics %+v", snap.Diagnostics)
	}
	want := []string{"info: Checking contract for errors...", "success: Contract has 0 Errors!"}
	if got := env.sink.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestValidationWithViolations(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		return schema.ValidationResult{Violations: []schema.Violation{{Message: "v1"}, {Message: "v2"}}}, nil
	}
	snap, err := env.mgr.RequestValidation(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if snap.Diagnostics.State != schema.DiagnosticsViolations {
		t.Fatalf("unexpected diagnostics %+v", snap.Diagnostics)
	}
	if len(snap.Diagnostics.Violations) != 2 || snap.Diagnostics.Violations[0].Message != "v1" || snap.Diagnostics.Violations[1].Message != "v2" {
		t.Fatalf("unexpected violations %+v", snap.Diagnostics.Violations)
	}
	want := []string{"info: Checking contract for errors...", "error: 2 Error(s) Found!"}
	if got := env.sink.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestSubmissionAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		return schema.ValidationResult{Accepted: true}, nil
	}
	snap, err := env.mgr.RequestSubmission(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Diagnostics.State != schema.DiagnosticsOK {
		t.Fatalf("unexpected diagnostics %+v", snap.Diagnostics)
	}
	want := []string{"info: Attempting to submit contract...", "success: Contract successfully submitted!"}
	if got := env.sink.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestValidationTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		return schema.ValidationResult{}, &schema.RemoteFetchError{Kind: schema.RemoteNetwork, Op: "validate", Name: name, Err: errors.New("connection refused")}
	}
	_, err := env.mgr.RequestValidation(context.Background())
	var fetch *schema.RemoteFetchError
	if !errors.As(err, &fetch) {
		t.Fatalf("expected RemoteFetchError, got %v", err)
	}
	snap, _ := env.mgr.Snapshot(context.Background())
	if snap.Diagnostics.State != schema.DiagnosticsFailure || len(snap.Diagnostics.Violations) != 1 || !snap.Diagnostics.Violations[0].Synthetic {
		t.Fatalf("expected one synthetic failure entry, got %+v", snap.Diagnostics)
	}
	msgs := env.sink.messages()
	if len(msgs) != 2 || !strings.HasSuffix(msgs[1], ". Check API settings.") || !strings.HasPrefix(msgs[1], "error: ") {
		t.Fatalf("unexpected notifications %v", msgs)
	}
}

func TestDiagnosticsResetOnSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		return schema.ValidationResult{Violations: []schema.Violation{{Message: "v1"}}}, nil
	}
	_, _ = env.mgr.RequestValidation(context.Background())
	snap, _ := env.mgr.NewDocument(context.Background())
	if snap.Diagnostics.State != schema.DiagnosticsEmpty {
		t.Fatalf("expected diagnostics cleared for the new active document, got %+v", snap.Diagnostics)
	}
}

func TestStaleValidationIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	_, _ = env.mgr.NewDocument(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	env.remote.validate = func(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error) {
		close(started)
		<-release
		return schema.ValidationResult{Violations: []schema.Violation{{Message: "late"}}}, nil
	}
	type result struct {
		snap schema.SessionSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := env.mgr.RequestValidation(context.Background())
		done <- result{snap, err}
	}()
	<-started
	if _, err := env.mgr.CloseDocument(context.Background(), "new contract 2", schema.NamespaceLocal); err != nil {
		t.Fatalf("close during validation: %v", err)
	}
	env.sink.reset()
	close(release)
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("stale validation must not fail: %v", res.err)
		}
		if res.snap.Diagnostics.State != schema.DiagnosticsEmpty {
			t.Fatalf("stale result applied: %+v", res.snap.Diagnostics)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("validation did not return")
	}
	if msgs := env.sink.messages(); len(msgs) != 0 {
		t.Fatalf("stale result must be silent, got %v", msgs)
	}
	env.checkInvariants(t)
}

func TestStaleRemoteOpenIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	started := make(chan struct{})
	release := make(chan struct{})
	env.remote.fetch = func(ctx context.Context, name schema.DocumentName) (string, error) {
		close(started)
		<-release
		return "remote text", nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := env.mgr.OpenDocument(context.Background(), "currency", schema.NamespaceRemote)
		done <- err
	}()
	<-started
	if _, err := env.mgr.CreateDocument(context.Background(), "currency", "local copy", schema.NamespaceRemote); err != nil {
		t.Fatalf("create during fetch: %v", err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stale open must not fail: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("open did not return")
	}
	snap, _ := env.mgr.Snapshot(context.Background())
	if snap.Count(schema.NamespaceRemote) != 1 {
		t.Fatalf("expected exactly one remote tab, got %+v", snap.Tabs)
	}
	if text, _, _ := env.store.Document("currency", schema.NamespaceRemote); text != "local copy" {
		t.Fatalf("stale fetch overwrote the record: %q", text)
	}
	env.checkInvariants(t)
}

func TestCreateRemoteDocumentCachesWithoutFetch(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	snap, err := env.mgr.CreateDocument(context.Background(), "currency", "def seed(): pass", schema.NamespaceRemote)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.ActiveTab.Namespace != schema.NamespaceRemote || snap.ActiveTab.Name != "currency" {
		t.Fatalf("expected remote tab active, got %+v", snap.ActiveTab)
	}
	if text, ok, _ := env.store.Document("currency", schema.NamespaceRemote); !ok || text != "def seed(): pass" {
		t.Fatalf("expected cached record, got %q (%v)", text, ok)
	}
	env.remote.mu.Lock()
	fetches := env.remote.fetches
	env.remote.mu.Unlock()
	if fetches != 0 {
		t.Fatalf("create must not fetch, got %d fetches", fetches)
	}
	env.checkInvariants(t)
}

func TestConcurrentRemoteOpenKeepsNewest(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	env.remote.fetch = func(ctx context.Context, name schema.DocumentName) (string, error) {
		env.remote.mu.Lock()
		calls++
		n := calls
		env.remote.mu.Unlock()
		if n == 1 {
			close(firstStarted)
			<-release
			return "old", nil
		}
		return "new", nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := env.mgr.OpenDocument(context.Background(), "currency", schema.NamespaceRemote)
		done <- err
	}()
	<-firstStarted
	if _, err := env.mgr.OpenDocument(context.Background(), "currency", schema.NamespaceRemote); err != nil {
		t.Fatalf("second open: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first open: %v", err)
	}
	if got := env.activeText(t); got != "new" {
		t.Fatalf("expected newest fetch to win, got %q", got)
	}
	snap, _ := env.mgr.Snapshot(context.Background())
	if snap.Count(schema.NamespaceRemote) != 1 {
		t.Fatalf("expected one remote tab, got %+v", snap.Tabs)
	}
}

func TestProbeConnectionOnline(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	snap, err := env.mgr.ProbeConnection(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if snap.Connection.Status != schema.StatusOnline {
		t.Fatalf("expected online, got %+v", snap.Connection)
	}
	want := []string{"info: API Server Connecting...", "success: API Server Online"}
	if got := env.sink.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
	stored, _ := env.store.Connection()
	if stored.Status != schema.StatusOnline {
		t.Fatalf("expected persisted status, got %+v", stored)
	}
}

func TestProbeConnectionOffline(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.remote.probe = func(ctx context.Context) error {
		return &schema.ConnectivityError{Err: errors.New("Failed to fetch")}
	}
	snap, err := env.mgr.ProbeConnection(context.Background())
	if err != nil {
		t.Fatalf("probe failure must not surface as error: %v", err)
	}
	if snap.Connection.Status != schema.StatusOffline {
		t.Fatalf("expected offline, got %+v", snap.Connection)
	}
	want := []string{
		"info: API Server Connecting...",
		"default: API Server Offline",
		"error: Failed to fetch. Check API settings.",
	}
	if got := env.sink.messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestSetConnectionRepointsRemote(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	if got := env.remote.currentEndpoint(); got != schema.DefaultConnection() {
		t.Fatalf("expected default endpoint after start, got %+v", got)
	}
	snap, err := env.mgr.SetConnection(context.Background(), "http://node", "9000")
	if err != nil {
		t.Fatalf("set connection: %v", err)
	}
	if snap.Connection.Hostname != "http://node" || snap.Connection.Port != "9000" || snap.Connection.Status != schema.StatusOnline {
		t.Fatalf("unexpected connection %+v", snap.Connection)
	}
	if got := env.remote.currentEndpoint(); got.Hostname != "http://node" {
		t.Fatalf("remote not repointed: %+v", got)
	}
	if _, err := env.mgr.SetConnection(context.Background(), " ", "1"); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
