package clipcache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/npcvoice/pkg/types"
)

// ErrEmptyClip is returned by [Cache.Put] when the write function succeeded
// but produced no bytes. Empty files are never committed.
var ErrEmptyClip = errors.New("clipcache: rendered clip is empty")

// Cache is a content-addressed clip store rooted at a directory. Clips live
// at <root>/<category>/<normalized-speaker>/<key>. Directories are created on
// first write.
//
// All methods are safe for concurrent use, including by several processes
// sharing the same root. Concurrent [Cache.Put] calls for one key each write
// their own temporary file; the last rename wins, and since every renamed
// file is complete the final path always holds one whole clip.
type Cache struct {
	root string
}

// New returns a Cache rooted at root. The directory is not created until the
// first [Cache.Put].
func New(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache's root directory.
func (c *Cache) Root() string { return c.root }

// Path returns the location a clip for (category, speaker, key) is stored at,
// whether or not it exists.
func (c *Cache) Path(category types.Category, speaker, key string) string {
	return filepath.Join(c.root, string(category), NormalizeName(speaker), key)
}

// Get reports whether a finished clip exists for (category, speaker, key) and
// returns its path. A zero-length file does not count as finished.
func (c *Cache) Get(category types.Category, speaker, key string) (string, bool) {
	p := c.Path(category, speaker, key)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return p, false
	}
	return p, true
}

// Put stores a clip produced by write. If a finished clip already exists the
// write function is not called and the existing path is returned.
//
// write receives a temporary file in the target directory. After write
// returns nil the file is synced and atomically renamed to the final path. On
// any error the temporary file is removed and the final path is untouched.
func (c *Cache) Put(category types.Category, speaker, key string, write func(io.Writer) error) (string, error) {
	final, ok := c.Get(category, speaker, key)
	if ok {
		return final, nil
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("clipcache: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("clipcache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				slog.Warn("clipcache: remove temp file", "path", tmpName, "err", rmErr)
			}
		}
	}()

	if err := write(tmp); err != nil {
		return "", fmt.Errorf("clipcache: write %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("clipcache: sync %q: %w", key, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return "", fmt.Errorf("clipcache: stat %q: %w", key, err)
	}
	if info.Size() == 0 {
		return "", ErrEmptyClip
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("clipcache: close %q: %w", key, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("clipcache: commit %q: %w", key, err)
	}
	committed = true
	return final, nil
}
