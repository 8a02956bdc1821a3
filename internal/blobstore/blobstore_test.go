package blobstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{"memory": NewMemory(), "filesystem": fs}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			blob := []byte("pretend this is a png")

			ptr, err := s.Put(ctx, blob, "image/png")
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if ptr == "" {
				t.Fatal("empty pointer")
			}

			got, err := s.Get(ctx, ptr)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, blob) {
				t.Fatal("round trip mismatch")
			}

			ok, err := s.Exists(ctx, ptr)
			if err != nil || !ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
		})
	}
}

func TestFreshPointerPerUpload(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, _ := s.Put(ctx, []byte("same bytes"), "image/png")
			b, _ := s.Put(ctx, []byte("same bytes"), "image/png")
			if a == b {
				t.Fatalf("identical uploads must get distinct pointers, got %s twice", a)
			}
		})
	}
}

func TestDeleteIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ptr, _ := s.Put(ctx, []byte("x"), "image/png")

			if err := s.Delete(ctx, ptr); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, ptr); err != nil {
				t.Fatalf("second Delete must be a no-op, got %v", err)
			}
			ok, _ := s.Exists(ctx, ptr)
			if ok {
				t.Fatal("blob still exists after delete")
			}
		})
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.Get(ctx, "mem://nope"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}

	fs, _ := NewFilesystem(t.TempDir())
	if _, err := fs.Get(ctx, "file://nope.png"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs, _ := NewFilesystem(t.TempDir())
	if _, err := fs.Get(context.Background(), "file://../etc/passwd"); err == nil {
		t.Fatal("expected rejection of traversal pointer")
	}
}
