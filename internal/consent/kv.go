package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// KV is the durable key-value backend of a Store. Set and Delete must not
// return before the change is durable.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryKV is a KV kept in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV returns an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchingKeys(m.data, prefix), nil
}

// maxStoreFileSize bounds how much of a preferences file is read.
const maxStoreFileSize = 1 << 20

// FileKV keeps all keys in one JSON document. Every mutation rewrites the
// document atomically and fsyncs it before returning.
type FileKV struct {
	mu   sync.Mutex
	fs   *securefs.SecureFS
	name string
	data map[string]string
}

// OpenFileKV opens or creates the document at path. A missing file is an
// empty store; a file that is not a JSON object of strings is an error.
func OpenFileKV(path string) (*FileKV, error) {
	sfs, err := securefs.New(filepath.Dir(path))
	if err != nil {
		return nil, errors.New(err).
			Component("consent").
			Category(errors.CategoryFileIO).
			Context("operation", "open_store").
			Build()
	}
	sfs.SetMaxReadFileSize(maxStoreFileSize)

	kv := &FileKV{fs: sfs, name: filepath.Base(path), data: make(map[string]string)}

	raw, err := sfs.ReadFile(kv.name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return kv, nil
	case err != nil:
		_ = sfs.Close()
		return nil, storeError(err, "read_store", kv.name)
	}

	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &kv.data); err != nil {
			_ = sfs.Close()
			return nil, storeError(fmt.Errorf("corrupt preferences file: %w", err), "decode_store", kv.name)
		}
	}
	if kv.data == nil {
		kv.data = make(map[string]string)
	}
	return kv, nil
}

func (f *FileKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *FileKV) Set(ctx context.Context, key, value string) error {
	return f.mutate(ctx, func(next map[string]string) {
		next[key] = value
	})
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	return f.mutate(ctx, func(next map[string]string) {
		delete(next, key)
	})
}

func (f *FileKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return matchingKeys(f.data, prefix), nil
}

// Close releases the directory handle.
func (f *FileKV) Close() error {
	return f.fs.Close()
}

// mutate applies change to a copy and only adopts it once it is on disk.
func (f *FileKV) mutate(ctx context.Context, change func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.data)
	change(next)

	err := f.fs.WriteFileAtomic(f.name, securefs.FilePermissions, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(next)
	})
	if err != nil {
		return err
	}

	f.data = next
	return nil
}

func matchingKeys(data map[string]string, prefix string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
