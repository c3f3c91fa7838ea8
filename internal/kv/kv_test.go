package kv

import (
	"os"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	file, err := Open(BackendFile, filepath.Join(dir, "files"), nil)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sqlite, err := Open(BackendSQLite, filepath.Join(dir, "db", "state.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = file.Close()
		_ = sqlite.Close()
	})
	return map[string]Store{BackendFile: file, BackendSQLite: sqlite}
}

func TestStoreGetPutDelete(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.Get("files"); err != nil || ok {
				t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
			}
			if err := store.Put("files", `{"local":{}}`); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := store.Put("files", `{"local":{},"database":{}}`); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			value, ok, err := store.Get("files")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if value != `{"local":{},"database":{}}` {
				t.Fatalf("unexpected value %q", value)
			}
			if err := store.Delete("files"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := store.Delete("files"); err != nil {
				t.Fatalf("delete missing: %v", err)
			}
			if _, ok, _ := store.Get("files"); ok {
				t.Fatalf("expected miss after delete")
			}
		})
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(" ", "x"); err != ErrInvalidKey {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put("apiInfo", "{}"); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "apiInfo.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put("openfiles", `["local:a"]`); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, ok, err := reopened.Get("openfiles")
	if err != nil || !ok || value != `["local:a"]` {
		t.Fatalf("unexpected value %q ok=%v err=%v", value, ok, err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("etcd", t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
