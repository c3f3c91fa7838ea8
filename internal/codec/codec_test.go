package codec

import (
	"errors"
	"reflect"
	"testing"

	"pkt.systems/contractpad/schema"
)

func TestRoundTrip(t *testing.T) {
	catalogs := []Catalog{
		NewCatalog(),
		{
			schema.NamespaceLocal:  {"new contract 1": "start", "unicode ✓": "# ünïcode\n"},
			schema.NamespaceRemote: {"currency": "def seed():\n    pass\n"},
		},
		{
			schema.NamespaceLocal:  {"": "", "a\"quoted\"": "line1\nline2"},
			schema.NamespaceRemote: {},
		},
	}
	for i, catalog := range catalogs {
		data, err := Encode(catalog)
		if err != nil {
			t.Fatalf("catalog %d: encode: %v", i, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("catalog %d: decode: %v", i, err)
		}
		if !reflect.DeepEqual(catalog, got) {
			t.Fatalf("catalog %d: round trip mismatch:\nwant: %+v\ngot:  %+v", i, catalog, got)
		}
	}
}

func TestEncodeAddsMissingNamespaces(t *testing.T) {
	data, err := Encode(Catalog{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"local":{},"database":{}}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	for _, catalog := range []Catalog{
		{schema.NamespaceLocal: {"a": "a\xffb"}},
		{schema.NamespaceRemote: {"\xfe": "ok"}},
	} {
		if _, err := Encode(catalog); !errors.Is(err, schema.ErrInvalidText) {
			t.Fatalf("expected ErrInvalidText for %v, got %v", catalog, err)
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"{not-json",
		"null",
		"[]",
		`{"local":{}}`,
		`{"local":{},"database":[]}`,
		`{"local":null,"database":{}}`,
		`{"local":{"a":1},"database":{}}`,
	}
	for _, input := range inputs {
		_, err := Decode([]byte(input))
		var corruptErr *schema.CorruptStoreError
		if !errors.As(err, &corruptErr) {
			t.Fatalf("input %q: expected CorruptStoreError, got %v", input, err)
		}
		if corruptErr.Key != KeyFiles {
			t.Fatalf("input %q: expected key %q, got %q", input, KeyFiles, corruptErr.Key)
		}
	}
}

func TestOpenTabsRoundTrip(t *testing.T) {
	refs := []schema.TabRef{
		{Namespace: schema.NamespaceLocal, Name: "new contract 1"},
		{Namespace: schema.NamespaceRemote, Name: "currency"},
	}
	data, err := EncodeOpenTabs(refs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `["local:new contract 1","database:currency"]` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	got, err := DecodeOpenTabs(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(refs, got) {
		t.Fatalf("open tabs mismatch: %+v", got)
	}
}

func TestDecodeOpenTabsSkipsUnknownEntries(t *testing.T) {
	got, err := DecodeOpenTabs([]byte(`["local:a","bogus","cloud:b","database:c"]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Fatalf("unexpected refs: %+v", got)
	}
	if _, err := DecodeOpenTabs([]byte(`{"a":1}`)); err == nil {
		t.Fatalf("expected error for non-list value")
	}
}

func TestDecodeConnection(t *testing.T) {
	info, err := DecodeConnection([]byte(`{"hostname":"http://node","port":"18080"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Status != schema.StatusOffline {
		t.Fatalf("expected default status, got %q", info.Status)
	}
	for _, input := range []string{"", "null", "{", `{"port":"1"}`} {
		if _, err := DecodeConnection([]byte(input)); err == nil {
			t.Fatalf("input %q: expected error", input)
		}
	}
}
