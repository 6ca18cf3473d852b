package wasmstore

import (
	"bytes"
	"context"
	"testing"
)

func TestFilesystemBlobStorePutGet(t *testing.T) {
	store, err := NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	payload := []byte("\x00asm\x01\x00\x00\x00")
	if err := store.Put(ctx, "contract-1.wasm", payload); err != nil {
		t.Fatalf("unexpected error on Put: %v", err)
	}

	got, err := store.Get(ctx, "contract-1.wasm")
	if err != nil {
		t.Fatalf("unexpected error on Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get returned %v, want %v", got, payload)
	}
}

func TestFilesystemBlobStoreGetMissing(t *testing.T) {
	store, err := NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(context.Background(), "does-not-exist.wasm"); err == nil {
		t.Fatalf("expected an error reading a missing blob")
	}
}

func TestFilesystemBlobStoreKeySanitization(t *testing.T) {
	store, err := NewFilesystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put(context.Background(), "../escape.wasm", []byte("x")); err != nil {
		t.Fatalf("unexpected error on Put: %v", err)
	}
	got, err := store.Get(context.Background(), "../escape.wasm")
	if err != nil {
		t.Fatalf("unexpected error on Get: %v", err)
	}
	if string(got) != "x" {
		t.Fatalf("expected the basename-sanitized key to round-trip, got %q", got)
	}
}
