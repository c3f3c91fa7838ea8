package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, hostname, port string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`config_version: 1
state_dir: %s
remote:
  hostname: %s
  port: "%s"
  timeout_seconds: 2
  retry_max: 0
`, filepath.Join(dir, "state"), hostname, port)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestProbeCommandOnline(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("indeed"))
	}))
	defer service.Close()
	parsed, _ := url.Parse(service.URL)
	cfgPath := writeTestConfig(t, "http://"+parsed.Hostname(), parsed.Port())

	out, err := runRoot(t, "probe", "-c", cfgPath)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, "[info] API Server Connecting...") {
		t.Fatalf("expected connecting notice, got %q", out)
	}
	if !strings.Contains(out, "[success] API Server Online") {
		t.Fatalf("expected online notice, got %q", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "Online") {
		t.Fatalf("expected final status line, got %q", out)
	}

	listOut, err := runRoot(t, "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(listOut, "NAMESPACE") || !strings.Contains(listOut, "local") {
		t.Fatalf("expected the generated document to be listed, got %q", listOut)
	}
}

func TestProbeCommandOffline(t *testing.T) {
	service := httptest.NewServer(http.NotFoundHandler())
	parsed, _ := url.Parse(service.URL)
	service.Close()
	cfgPath := writeTestConfig(t, "http://"+parsed.Hostname(), parsed.Port())

	out, err := runRoot(t, "probe", "-c", cfgPath)
	if err != nil {
		t.Fatalf("a failed probe is reported, not returned: %v", err)
	}
	if !strings.Contains(out, "[error]") || !strings.Contains(out, "Check API settings.") {
		t.Fatalf("expected an error notice, got %q", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "Offline") {
		t.Fatalf("expected offline status line, got %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := runRoot(t, "config", "init", "-c", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := runRoot(t, "config", "init", "-c", path); err == nil {
		t.Fatalf("expected init to refuse overwriting without --force")
	}
	out, err := runRoot(t, "config", "show", "-c", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "config_version: 1") || !strings.Contains(out, "hub_history:") {
		t.Fatalf("unexpected config output %q", out)
	}
}
