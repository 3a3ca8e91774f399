// Package archive holds the contents of a jar in memory so that its entries
// can be patched as plain byte slices and written back out.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// ManifestPath is the entry that has to come first in a signed jar.
const ManifestPath = "META-INF/MANIFEST.MF"

// Level is a deflate compression level. Store writes entries uncompressed.
type Level int

const (
	DefaultCompression Level = flate.DefaultCompression
	Store              Level = flate.NoCompression
	BestSpeed          Level = flate.BestSpeed
	BestCompression    Level = flate.BestCompression
)

var (
	// ErrNotRegularFile is returned before any work is done when the source
	// path is missing or is not a regular file.
	ErrNotRegularFile = errors.New("not a regular file")
	// ErrArchiveRead is returned when the container or one of its entries
	// cannot be read. Loads never drop entries silently.
	ErrArchiveRead = errors.New("unable to read archive")
)

// All entries are written with the same timestamp so that identical contents
// always produce identical archives.
var entryModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Archive maps entry paths to their uncompressed contents. It is safe for
// concurrent use.
type Archive struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// New returns an Archive holding entries. The map is copied, the byte slices
// are not.
func New(entries map[string][]byte) *Archive {
	a := &Archive{entries: make(map[string][]byte, len(entries))}
	for k, v := range entries {
		a.entries[k] = v
	}
	return a
}

// Get returns the contents of the entry at path.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.entries[path]
	return b, ok
}

// Put adds or replaces the entry at path.
func (a *Archive) Put(path string, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[path] = b
}

// Delete removes the entry at path, reporting whether it existed.
func (a *Archive) Delete(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[path]
	delete(a.entries, path)
	return ok
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Paths returns every entry path in write order: the manifest, then the rest
// of META-INF, then everything else, each group sorted.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	a.mu.RUnlock()

	sort.Slice(paths, func(i, j int) bool {
		ri, rj := rank(paths[i]), rank(paths[j])
		if ri != rj {
			return ri < rj
		}
		return paths[i] < paths[j]
	})
	return paths
}

func rank(path string) int {
	switch {
	case path == ManifestPath:
		return 0
	case strings.HasPrefix(path, "META-INF/"):
		return 1
	default:
		return 2
	}
}

// Load reads every file entry of the zip container at path into memory.
// Entries are decompressed in parallel on a pool bounded by the number of
// CPUs.
func Load(path string) (*Archive, error) {
	if err := CheckRegularFile(path); err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveRead, path, err)
	}
	defer r.Close()

	return read(&r.Reader)
}

// CheckRegularFile returns ErrNotRegularFile unless path is a regular file.
// Symbolic links are not followed.
func CheckRegularFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotRegularFile, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	return nil
}

// LoadBytes is like Load for a container that is already in memory.
func LoadBytes(b []byte) (*Archive, error) {
	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveRead, err)
	}
	return read(r)
}

func read(r *zip.Reader) (*Archive, error) {
	r.RegisterDecompressor(zip.Deflate, flate.NewReader)

	a := &Archive{entries: make(map[string][]byte, len(r.File))}
	seen := make(map[string]bool, len(r.File))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if seen[f.Name] {
			// Don't start anything else; the pool still has to be drained.
			_ = g.Wait()
			return nil, fmt.Errorf("%w: duplicate entry %s", ErrArchiveRead, f.Name)
		}
		seen[f.Name] = true

		f := f
		g.Go(func() error {
			b, err := readEntry(f)
			if err != nil {
				return fmt.Errorf("%w: entry %s: %w", ErrArchiveRead, f.Name, err)
			}
			a.Put(f.Name, b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return a, nil
}

const maxPrealloc = 1 << 20

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// The declared size is only a hint; a corrupt header can claim anything.
	buf := bytes.NewBuffer(make([]byte, 0, int(min(f.UncompressedSize64, maxPrealloc))))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes a to a new zip container at path. The file is removed again if
// writing fails part way.
func Save(a *Archive, path string, level Level) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("error closing %s: %w", path, cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return a.Serialize(f, level)
}

// Serialize writes a as a zip container in Paths order.
func (a *Archive) Serialize(w io.Writer, level Level) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, int(level))
	})

	method := zip.Deflate
	if level == Store {
		method = zip.Store
	}

	for _, path := range a.Paths() {
		b, _ := a.Get(path)
		hdr := &zip.FileHeader{
			Name:     path,
			Method:   method,
			Modified: entryModTime,
		}
		var (
			ew  io.Writer
			err error
		)
		if method == zip.Store {
			// Stored entries carry their sizes up front; streaming jar readers
			// reject stored entries that rely on a trailing data descriptor.
			hdr.CRC32 = crc32.ChecksumIEEE(b)
			hdr.CompressedSize64 = uint64(len(b))
			hdr.UncompressedSize64 = uint64(len(b))
			ew, err = zw.CreateRaw(hdr)
		} else {
			ew, err = zw.CreateHeader(hdr)
		}
		if err != nil {
			return fmt.Errorf("error writing entry %s: %w", path, err)
		}
		if _, err := ew.Write(b); err != nil {
			return fmt.Errorf("error writing entry %s: %w", path, err)
		}
	}
	return zw.Close()
}
