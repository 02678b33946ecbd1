package preset

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cachedFile holds the decoded contents of a JSON file and re-reads it only
// when the file's modification time changes. A content hash short-circuits
// touch-only changes so unchanged files are never decoded twice.
//
// A missing file yields the fallback value. A file that fails to decode
// returns an error and the previous good value stays cached.
type cachedFile[T any] struct {
	decode   func([]byte) (T, error)
	fallback func() T

	mu      sync.Mutex
	path    string
	value   T
	loaded  bool
	missing bool
	mtime   time.Time
	hash    [sha256.Size]byte
}

func newCachedFile[T any](path string, decode func([]byte) (T, error), fallback func() T) *cachedFile[T] {
	return &cachedFile[T]{path: path, decode: decode, fallback: fallback}
}

// get returns the current value, re-reading the file if it changed.
func (f *cachedFile[T]) get() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshLocked(false); err != nil {
		return f.value, err
	}
	return f.value, nil
}

// reload re-reads the file regardless of its modification time.
func (f *cachedFile[T]) reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshLocked(true)
}

// setPath points the cache at a different file and forces a reload.
func (f *cachedFile[T]) setPath(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
	f.hash = [sha256.Size]byte{}
	return f.refreshLocked(true)
}

func (f *cachedFile[T]) filePath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *cachedFile[T]) refreshLocked(force bool) error {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !f.loaded || !f.missing {
			f.value = f.fallback()
			f.loaded = true
			f.missing = true
			f.mtime = time.Time{}
			f.hash = [sha256.Size]byte{}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("preset: stat %q: %w", f.path, err)
	}
	if !force && f.loaded && !f.missing && info.ModTime().Equal(f.mtime) {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("preset: read %q: %w", f.path, err)
	}
	hash := sha256.Sum256(data)
	if f.loaded && !f.missing && hash == f.hash {
		f.mtime = info.ModTime()
		return nil
	}
	v, err := f.decode(data)
	if err != nil {
		if !f.loaded {
			f.value = f.fallback()
			f.loaded = true
			f.missing = true
		}
		return err
	}
	f.value = v
	f.loaded = true
	f.missing = false
	f.mtime = info.ModTime()
	f.hash = hash
	return nil
}

// storeLocked records data as the file's new contents: it writes a temp file
// next to the target, renames it into place and updates the cache so the
// write is not read back as a change.
func (f *cachedFile[T]) storeLocked(data []byte, v T) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("preset: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("preset: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("preset: write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("preset: sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("preset: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("preset: rename %q: %w", f.path, err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("preset: stat %q: %w", f.path, err)
	}
	f.value = v
	f.loaded = true
	f.missing = false
	f.mtime = info.ModTime()
	f.hash = sha256.Sum256(data)
	return nil
}
