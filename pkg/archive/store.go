// Package archive persists governance records in content-addressed
// storage. Every blob is addressed by the digest of its bytes, in the
// engine's standard "sha256:<hex>" form, so storing the same record
// twice lands on the same address and a fetched record can be checked
// against the address it was requested by.
package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Covault-Labs/covault/core/pkg/canonicalize"
)

// ErrNotFound is returned by Get when no blob exists at the address.
var ErrNotFound = errors.New("archive record not found")

// Store is the contract for content-addressed blob storage.
type Store interface {
	// Store persists data and returns its content address. Idempotent:
	// the same bytes always land on the same address.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content address.
	Get(ctx context.Context, addr string) ([]byte, error)
	// Exists reports whether a blob is present at the address.
	Exists(ctx context.Context, addr string) (bool, error)
	// Delete removes the blob at the address. Missing blobs are not an
	// error.
	Delete(ctx context.Context, addr string) error
}

// splitAddress validates a "sha256:<hex>" content address and returns
// the bare hex portion.
func splitAddress(addr string) (string, error) {
	raw, ok := strings.CutPrefix(addr, "sha256:")
	if !ok {
		return "", fmt.Errorf("invalid content address %q", addr)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid content address hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store. Blobs live flat under one
// directory as <hex>.blob files, written via temp-and-rename.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a filesystem store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for a shared archive directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := canonicalize.Digest(data)
	raw, _ := splitAddress(addr)
	path := filepath.Join(s.dir, raw+".blob")

	if _, err := os.Stat(path); err == nil {
		return addr, nil // already archived
	}

	tmp := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable blob files
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return addr, nil
}

func (s *FileStore) Get(ctx context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := splitAddress(addr)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, raw+".blob")

	f, err := os.Open(path) //nolint:gosec // address validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := splitAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.dir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := splitAddress(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, raw+".blob")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
