package mmap

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")

	m, err := Open(path, 4096, true)
	if err != nil {
		t.Fatal(err)
	}
	copy(m.Data(), "hello, mapping")
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err) // idempotent
	}

	ro, err := Open(path, 4096, false)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if !bytes.HasPrefix(ro.Data(), []byte("hello, mapping")) {
		t.Errorf("got %q", ro.Data()[:20])
	}
	if len(ro.Data()) != 4096 {
		t.Errorf("mapping is %d bytes, want 4096", len(ro.Data()))
	}
}

func TestReadOnlyTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	m, err := Open(path, 16, true)
	if err != nil {
		t.Fatal(err)
	}
	m.Close()

	if _, err := Open(path, 4096, false); err == nil {
		t.Errorf("expected an error mapping a short file read-only")
	}
}
