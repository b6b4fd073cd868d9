// Package registry maps notebook paths to the address of the live session
// serving them, so that a peer holding only a script path can find the right
// session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ascending/ascend/internal/nbformat"
)

// ErrNotebookNotFound is returned by Resolve when no single registered
// notebook matches.
var ErrNotebookNotFound = errors.New("no live session for notebook")

// Store persists notebook path → session address registrations.
type Store interface {
	// Register records addr for notebookPath, replacing any earlier entry.
	Register(ctx context.Context, notebookPath, addr string) error

	// Unregister removes the entry for notebookPath. Missing entries are
	// not an error.
	Unregister(ctx context.Context, notebookPath string) error

	// List returns every registration.
	List(ctx context.Context) (map[string]string, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is "sqlite" or "redis".
	Driver string

	// Path is the SQLite database file.
	Path string

	// RedisURL is a redis:// URL.
	RedisURL string
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

// Resolve finds the session for scriptPath.
//
// A script path is first mapped to its notebook. Every registered path is
// scored by how many trailing path components it shares with it; the unique
// best positive score wins. No registrations, no positive score or a tie at
// the top all return ErrNotebookNotFound.
func Resolve(ctx context.Context, store Store, scriptPath, ext string) (notebookPath, addr string, err error) {
	entries, err := store.List(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(entries) == 0 {
		return "", "", fmt.Errorf("%w: no registered notebooks", ErrNotebookNotFound)
	}

	target := splitPath(nbformat.NotebookPath(scriptPath, ext))

	best, bestScore, tied := "", 0, false
	for path := range entries {
		score := tailScore(target, splitPath(path))
		switch {
		case score > bestScore:
			best, bestScore, tied = path, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if bestScore == 0 || tied {
		return "", "", fmt.Errorf("%w: %s", ErrNotebookNotFound, scriptPath)
	}
	return best, entries[best], nil
}

// Sorted returns the paths of entries in order, for stable listings.
func Sorted(entries map[string]string) []string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// tailScore counts consecutive equal components from the end of a and b.
func tailScore(a, b []string) int {
	n := 0
	for i, j := len(a)-1, len(b)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if a[i] != b[j] {
			break
		}
		n++
	}
	return n
}

func splitPath(p string) []string {
	p = filepath.ToSlash(filepath.Clean(p))
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (m *MemoryStore) Register(_ context.Context, notebookPath, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[notebookPath] = addr
	return nil
}

func (m *MemoryStore) Unregister(_ context.Context, notebookPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, notebookPath)
	return nil
}

func (m *MemoryStore) List(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
