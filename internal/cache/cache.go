// Package cache keeps the most recently signed launcher client per world port
// so that an unchanged client doesn't have to be patched and signed again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ClientCache stores signed clients under Dir as latest-runelite-<port>.jar,
// each next to a .sha256 file holding the hash of the unpatched source it was
// built from.
type ClientCache struct {
	Dir string

	hashes *gocache.Cache
}

// New returns a ClientCache rooted at dir. Source hashes are memoised for as
// long as the file they were computed from is unchanged.
func New(dir string) *ClientCache {
	return &ClientCache{Dir: dir, hashes: gocache.New(-1, 10*time.Minute)}
}

func (c *ClientCache) jarPath(port int) string {
	return filepath.Join(c.Dir, "latest-runelite-"+strconv.Itoa(port)+".jar")
}

func (c *ClientCache) hashPath(port int) string {
	return filepath.Join(c.Dir, "latest-runelite-"+strconv.Itoa(port)+".sha256")
}

// Hash returns the upper-case hex SHA-256 of the file at path.
func (c *ClientCache) Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", path, err)
	}
	key := fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
	if c.hashes != nil {
		if v, ok := c.hashes.Get(key); ok {
			return v.(string), nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("error hashing %s: %w", path, err)
	}
	sum := strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
	if c.hashes != nil {
		c.hashes.Set(key, sum, gocache.NoExpiration)
	}
	return sum, nil
}

// Lookup returns the cached client for port if it was built from a source
// with the given hash.
func (c *ClientCache) Lookup(port int, hash string) (string, bool) {
	stored, err := os.ReadFile(c.hashPath(port))
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(strings.TrimSpace(string(stored)), hash) {
		return "", false
	}
	jar := c.jarPath(port)
	if info, err := os.Stat(jar); err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return jar, true
}

// Store copies the signed client at signedPath into the cache for port. The
// hash is written last so a partial store never looks valid.
func (c *ClientCache) Store(port int, hash, signedPath string) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("error creating cache directory: %w", err)
	}
	if err := c.Invalidate(port); err != nil {
		return err
	}
	if err := copyFile(signedPath, c.jarPath(port)); err != nil {
		return err
	}
	if err := os.WriteFile(c.hashPath(port), []byte(hash), 0644); err != nil {
		return fmt.Errorf("error writing cache hash: %w", err)
	}
	return nil
}

// Invalidate removes the cached client for port, if any.
func (c *ClientCache) Invalidate(port int) error {
	for _, p := range []string{c.hashPath(port), c.jarPath(port)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error removing %s: %w", p, err)
		}
	}
	return nil
}

// copyFile writes src to a temporary sibling of dst and renames it into
// place, so dst is either absent or complete.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary file for %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			os.Remove(out.Name())
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("error copying %s: %w", src, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", out.Name(), err)
	}
	if err = os.Rename(out.Name(), dst); err != nil {
		return fmt.Errorf("error moving %s into place: %w", dst, err)
	}
	return nil
}
