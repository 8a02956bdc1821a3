package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
)

var errInjected = errors.New("injected storage failure")

const fsScheme = "file://"

// Filesystem stores blobs as files under a root directory. Each blob gets
// a UUID filename with an extension derived from the content type, so the
// directory can be served statically.
type Filesystem struct {
	root string
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.Storage(err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Put(_ context.Context, blob []byte, contentType string) (string, error) {
	name := uuid.NewString() + extensionFor(contentType)
	path := filepath.Join(f.root, name)

	// A fresh UUID should never collide; treat a hit as corruption.
	if _, err := os.Stat(path); err == nil {
		return "", apperr.Storage(errors.New("path already exists: " + name))
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", apperr.Storage(err)
	}
	return fsScheme + name, nil
}

func (f *Filesystem) Get(_ context.Context, pointer string) ([]byte, error) {
	path, err := f.resolve(pointer)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("blob", pointer)
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return blob, nil
}

func (f *Filesystem) Delete(_ context.Context, pointer string) error {
	path, err := f.resolve(pointer)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Storage(err)
	}
	return nil
}

func (f *Filesystem) Exists(_ context.Context, pointer string) (bool, error) {
	path, err := f.resolve(pointer)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage(err)
	}
	return true, nil
}

// resolve maps a pointer back to a path under root, rejecting traversal.
func (f *Filesystem) resolve(pointer string) (string, error) {
	name, ok := strings.CutPrefix(pointer, fsScheme)
	if !ok || name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", apperr.Storage(errors.New("malformed blob pointer: " + pointer))
	}
	return filepath.Join(f.root, name), nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
