// Package tempscope owns the lifecycle of temporary files created while
// servicing a single conversion request. Every path acquired through a Scope
// is removed exactly once when the scope closes, on success and on every
// error path alike.
package tempscope

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// dirPrefix marks request directories so the janitor only ever touches ours.
const dirPrefix = "savemedia-req-"

// Scope is a per-request temp directory plus a manifest of extra paths to
// release. It is safe for use from a single request goroutine.
type Scope struct {
	id     string
	dir    string
	mu     sync.Mutex
	extra  []string
	closed bool
}

// New creates a uniquely named request directory under baseDir.
func New(baseDir string) (*Scope, error) {
	id := uuid.NewString()
	dir := filepath.Join(baseDir, dirPrefix+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create request dir: %w", err)
	}
	return &Scope{id: id, dir: dir}, nil
}

// ID returns the request identifier the scope was created with.
func (s *Scope) ID() string { return s.id }

// Dir returns the scope's private directory.
func (s *Scope) Dir() string { return s.dir }

// Path returns a path inside the scope directory for the given file name.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// CreateFile materializes r into a file inside the scope and returns its path
// together with the number of bytes written.
func (s *Scope) CreateFile(name string, r io.Reader) (string, int64, error) {
	p := s.Path(name)
	f, err := os.Create(p)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	return p, n, nil
}

// Track registers a path outside the scope directory for removal on Close.
// Paths inside the directory need no tracking.
func (s *Scope) Track(path string) {
	s.mu.Lock()
	s.extra = append(s.extra, path)
	s.mu.Unlock()
}

// Close releases everything the scope owns. It is idempotent; cleanup
// failures are logged and ignored since they cannot affect a response that
// is already on the wire.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, p := range s.extra {
		if err := os.RemoveAll(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove tracked temp path")
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("failed to remove request dir")
	}
}

// Sweep removes abandoned request directories under baseDir older than
// maxAge. Requests close their own scopes; this only catches directories
// left behind by a crashed or killed process. Returns the number removed.
func Sweep(baseDir string, maxAge time.Duration) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) <= len(dirPrefix) || e.Name()[:len(dirPrefix)] != dirPrefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= maxAge {
			if err := os.RemoveAll(filepath.Join(baseDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("swept abandoned request dirs")
	}
	return removed
}
