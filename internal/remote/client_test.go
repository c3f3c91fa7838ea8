package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/contractpad/schema"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *recordingObserver) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	observer := &recordingObserver{}
	client := New(schema.ConnectionInfo{
		Hostname: parsed.Scheme + "://" + parsed.Hostname(),
		Port:     parsed.Port(),
	}, Config{
		Timeout:      2 * time.Second,
		RetryMax:     0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
		Observer:     observer,
	})
	return client, observer
}

func TestProbe(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "plain", status: http.StatusOK, body: "indeed"},
		{name: "json string", status: http.StatusOK, body: `"indeed"`},
		{name: "wrong answer", status: http.StatusOK, body: "nope", wantErr: true},
		{name: "not found", status: http.StatusNotFound, body: "indeed", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			err := client.Probe(context.Background())
			if tc.wantErr {
				var conn *schema.ConnectivityError
				if !errors.As(err, &conn) {
					t.Fatalf("expected ConnectivityError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("probe: %v", err)
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	client := New(schema.ConnectionInfo{Hostname: "http://127.0.0.1", Port: "1"}, Config{Timeout: time.Second})
	var conn *schema.ConnectivityError
	if err := client.Probe(context.Background()); !errors.As(err, &conn) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
}

func TestFetchDocument(t *testing.T) {
	client, observer := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contracts/currency":
			_, _ = w.Write([]byte(`{"name":"currency","code":"def seed():\n    pass\n"}`))
		case "/contracts/broken":
			_, _ = w.Write([]byte(`{"name":`))
		case "/contracts/nocode":
			_, _ = w.Write([]byte(`{"name":"nocode"}`))
		case "/contracts/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	text, err := client.FetchDocument(context.Background(), "currency")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if text != "def seed():\n    pass\n" {
		t.Fatalf("unexpected text %q", text)
	}
	cases := map[schema.DocumentName]schema.RemoteFetchKind{
		"missing": schema.RemoteNotFound,
		"broken":  schema.RemoteMalformed,
		"nocode":  schema.RemoteMalformed,
		"boom":    schema.RemoteNetwork,
	}
	for name, kind := range cases {
		_, err := client.FetchDocument(context.Background(), name)
		var fetch *schema.RemoteFetchError
		if !errors.As(err, &fetch) {
			t.Fatalf("%s: expected RemoteFetchError, got %v", name, err)
		}
		if fetch.Kind != kind || fetch.Name != name {
			t.Fatalf("%s: expected kind %s, got %+v", name, kind, fetch)
		}
	}
	if got := observer.count(OpFetch); got != 5 {
		t.Fatalf("expected 5 observed fetches, got %d", got)
	}
}

func TestFetchDocumentEscapesName(t *testing.T) {
	var seen string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
		_, _ = w.Write([]byte(`{"name":"x","code":""}`))
	}))
	if _, err := client.FetchDocument(context.Background(), "my token"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if seen != "/contracts/my token" {
		t.Fatalf("unexpected path %q", seen)
	}
}

func TestValidateAndSubmit(t *testing.T) {
	var got submitRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submit" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.Contains(got.CodeStr, "bad") {
			_, _ = w.Write([]byte(`{"success":false,"violations":["v1",{"message":"v2","line":3},42]}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	result, err := client.ValidateAndSubmit(context.Background(), "token", "good code")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Name != "token" || got.CodeStr != "good code" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if !result.Accepted || len(result.Violations) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	result, err = client.ValidateAndSubmit(context.Background(), "token", "bad code")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Accepted || len(result.Violations) != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	messages := []string{result.Violations[0].Message, result.Violations[1].Message, result.Violations[2].Message}
	if messages[0] != "v1" || messages[1] != "v2" || messages[2] != "42" {
		t.Fatalf("unexpected messages %v", messages)
	}
	if result.Violations[1].Synthetic {
		t.Fatalf("service violations must not be synthetic")
	}
}

func TestValidateAndSubmitMalformed(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	_, err := client.ValidateAndSubmit(context.Background(), "token", "code")
	var fetch *schema.RemoteFetchError
	if !errors.As(err, &fetch) || fetch.Kind != schema.RemoteMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("indeed"))
	}))
	defer server.Close()
	parsed, _ := url.Parse(server.URL)
	client := New(schema.ConnectionInfo{Hostname: "http://" + parsed.Hostname(), Port: parsed.Port()}, Config{
		Timeout:      2 * time.Second,
		RetryMax:     3,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	if err := client.Probe(context.Background()); err != nil {
		t.Fatalf("probe after retries: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestValidateAndSubmitIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	posts := 0
	agent := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mu.Lock()
			posts++
			agent = r.UserAgent()
			mu.Unlock()
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	parsed, _ := url.Parse(server.URL)
	client := New(schema.ConnectionInfo{Hostname: "http://" + parsed.Hostname(), Port: parsed.Port()}, Config{
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	_, err := client.ValidateAndSubmit(context.Background(), "token", "contract Token {}")
	var fetchErr *schema.RemoteFetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != schema.RemoteNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if posts != 1 {
		t.Fatalf("expected exactly one submission, got %d", posts)
	}
	if !strings.HasPrefix(agent, "contractpad/") {
		t.Fatalf("unexpected user agent %q", agent)
	}
}

func TestBaseURL(t *testing.T) {
	cases := []struct {
		info schema.ConnectionInfo
		want string
	}{
		{schema.DefaultConnection(), "http://localhost:8080"},
		{schema.ConnectionInfo{Hostname: `http:\\localhost`, Port: "8080"}, "http://localhost:8080"},
		{schema.ConnectionInfo{Hostname: "node.example/", Port: ""}, "http://node.example"},
		{schema.ConnectionInfo{Hostname: "https://api.example", Port: "443"}, "https://api.example:443"},
	}
	for _, tc := range cases {
		if got := BaseURL(tc.info); got != tc.want {
			t.Fatalf("BaseURL(%+v) = %q, want %q", tc.info, got, tc.want)
		}
	}
}

func TestSetEndpoint(t *testing.T) {
	client := New(schema.DefaultConnection(), Config{})
	client.SetEndpoint(schema.ConnectionInfo{Hostname: "http://other", Port: "9"})
	if client.Endpoint() != "http://other:9" {
		t.Fatalf("unexpected endpoint %q", client.Endpoint())
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]int
}

func (o *recordingObserver) ObserveRemote(op, result string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string]int)
	}
	o.calls[op]++
}

func (o *recordingObserver) count(op string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[op]
}
