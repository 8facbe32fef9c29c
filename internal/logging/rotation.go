package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const gzExt = ".gz"

// RotationConfig bounds the size of a log family.
type RotationConfig struct {
	// MaxSizeMB is the rotation threshold in megabytes, used when
	// MaxSizeBytes is zero. Zero for both disables rotation.
	MaxSizeMB    int
	MaxSizeBytes int64
	// MaxBackups is how many rotated generations are kept. Zero truncates
	// the live file instead of keeping history.
	MaxBackups int
	// Compress gzips each generation as it is rotated out.
	Compress bool
}

// DefaultRotationConfig keeps three uncompressed 10 MB generations.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

func (c RotationConfig) limit() int64 {
	if c.MaxSizeBytes > 0 {
		return c.MaxSizeBytes
	}
	return int64(c.MaxSizeMB) << 20
}

// family names the files of one rotated log: the live file at base and
// generations base.1 (newest) through base.N, each optionally gzipped.
type family struct {
	base string
	keep int
}

func (f family) plain(n int) string { return f.base + "." + strconv.Itoa(n) }

// find returns the path of generation n and whether it is compressed.
func (f family) find(n int) (string, bool, bool) {
	if exists(f.plain(n) + gzExt) {
		return f.plain(n) + gzExt, true, true
	}
	if exists(f.plain(n)) {
		return f.plain(n), false, true
	}
	return "", false, false
}

// shift makes room for a new generation 1 by dropping generation keep and
// renaming every other generation one slot older.
func (f family) shift() {
	if p, _, ok := f.find(f.keep); ok {
		_ = os.Remove(p)
	}
	for n := f.keep - 1; n >= 1; n-- {
		p, gz, ok := f.find(n)
		if !ok {
			continue
		}
		dst := f.plain(n + 1)
		if gz {
			dst += gzExt
		}
		_ = os.Rename(p, dst)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RotatingWriter is an append-only file that rolls over to a new
// generation when a write would take it past the size limit. A record is
// never split across generations. It is safe for concurrent use.
type RotatingWriter struct {
	mu        sync.Mutex
	fam       family
	limit     int64
	compress  bool
	f         *os.File
	size      int64
	rotations int
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		fam:      family{base: path, keep: cfg.MaxBackups},
		limit:    cfg.limit(),
		compress: cfg.Compress,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := rw.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open(mode int) error {
	f, err := os.OpenFile(rw.fam.base, os.O_CREATE|os.O_WRONLY|mode, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.f, rw.size = f, info.Size()
	return nil
}

// Write appends p, rotating first when needed. A failed rotation still
// writes p to whichever file is open.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return 0, errors.New("log file is closed")
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
			if rw.f == nil {
				return 0, err
			}
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate closes the live file and reopens an empty one. Callers hold mu.
func (rw *RotatingWriter) rotate() error {
	if err := rw.closeFile(); err != nil {
		return err
	}
	if rw.fam.keep <= 0 {
		rw.rotations++
		return rw.open(os.O_TRUNC)
	}

	rw.fam.shift()
	newest := rw.fam.plain(1)
	if err := os.Rename(rw.fam.base, newest); err != nil {
		if oerr := rw.open(os.O_APPEND); oerr != nil {
			return errors.Join(err, oerr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if rw.compress {
		if err := gzipFile(newest); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	rw.rotations++
	return rw.open(os.O_APPEND)
}

func (rw *RotatingWriter) closeFile() error {
	if rw.f == nil {
		return nil
	}
	f := rw.f
	rw.f = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// Close flushes and closes the live file. Closing twice is a no-op.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.closeFile()
}

// CurrentSize is the size of the live file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Rotations counts the rollovers performed by this writer.
func (rw *RotatingWriter) Rotations() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rotations
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + gzExt)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst.Name())
		}
	}()

	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	err = errors.Join(err, zw.Close(), dst.Close())
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	return os.Remove(path)
}

// Generation is one file of a rotated log family.
type Generation struct {
	Path string
	// Index is 0 for the live file and N for path.N.
	Index      int
	Compressed bool
	Size       int64
}

// Generations lists the files of the family rooted at path, oldest first
// with the live file last. Indices above maxBackups are not scanned.
func Generations(path string, maxBackups int) []Generation {
	fam := family{base: path, keep: maxBackups}
	var gens []Generation
	add := func(p string, idx int, gz bool) {
		if info, err := os.Stat(p); err == nil {
			gens = append(gens, Generation{Path: p, Index: idx, Compressed: gz, Size: info.Size()})
		}
	}
	for n := maxBackups; n >= 1; n-- {
		if p, gz, ok := fam.find(n); ok {
			add(p, n, gz)
		}
	}
	add(path, 0, false)
	return gens
}

// OpenGeneration opens g for reading, decompressing gzip generations.
func OpenGeneration(g Generation) (io.ReadCloser, error) {
	f, err := os.Open(g.Path)
	if err != nil {
		return nil, err
	}
	if !g.Compressed {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open gzip generation %s: %w", g.Path, err)
	}
	return gzReadCloser{zr, f}, nil
}

type gzReadCloser struct {
	*gzip.Reader
	f fs.File
}

func (g gzReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}
