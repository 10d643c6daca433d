package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// fileBackend carries what the two file-per-object backends share: the
// storage directory, the per-object extension and the account index.
type fileBackend struct {
	dir      string
	ext      string
	accounts *accountDir

	mu sync.Mutex
}

func newFileBackend(dir, ext, storage string) (*fileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dir, err)
	}
	accounts, err := openAccountDir(filepath.Join(dir, storage))
	if err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir, ext: ext, accounts: accounts}, nil
}

func (b *fileBackend) objectPath(doId uint32) string {
	return filepath.Join(b.dir, strconv.FormatUint(uint64(doId), 10)+b.ext)
}

func (b *fileBackend) Exists(_ context.Context, doId uint32) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.existsLocked(doId)
}

func (b *fileBackend) existsLocked(doId uint32) (bool, error) {
	info, err := os.Stat(b.objectPath(doId))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %d: %w", doId, err)
	}
	return info.Mode().IsRegular(), nil
}

// NextDoId scans the directory for numeric object files and returns the
// highest id plus one, or FirstDoId for an empty store.
func (b *fileBackend) NextDoId(_ context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("scan database directory: %w", err)
	}
	var max uint64
	found := false
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, b.ext) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, b.ext), 10, 32)
		if err != nil {
			continue
		}
		found = true
		if id > max {
			max = id
		}
	}
	if !found {
		return FirstDoId, nil
	}
	return uint32(max) + 1, nil
}

// writeExclusive claims the object file with O_EXCL so the first
// creation of a doId wins; later ones get ErrExists and must
// reallocate.
func (b *fileBackend) writeExclusive(doId uint32, data []byte) error {
	f, err := os.OpenFile(b.objectPath(doId), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("object %d: %w", doId, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create object %d: %w", doId, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write object %d: %w", doId, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write object %d: %w", doId, err)
	}
	return nil
}

func (b *fileBackend) SetAccount(ctx context.Context, name string, doId uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts.set(ctx, name, doId)
}

func (b *fileBackend) GetAccount(ctx context.Context, name string) (uint32, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts.get(ctx, name)
}

func (b *fileBackend) Close() error {
	return b.accounts.close()
}
