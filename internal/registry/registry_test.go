package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// backends returns one fresh store per implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	mr := miniredis.RunT(t)
	rs := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"redis":  rs,
	}
}

func TestStore_RegisterListUnregister(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Register(ctx, "/w/a.sync.ipynb", "localhost:1"); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if err := store.Register(ctx, "/w/b.sync.ipynb", "localhost:2"); err != nil {
				t.Fatal(err)
			}
			// Re-registering replaces.
			if err := store.Register(ctx, "/w/a.sync.ipynb", "localhost:3"); err != nil {
				t.Fatal(err)
			}

			got, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := map[string]string{"/w/a.sync.ipynb": "localhost:3", "/w/b.sync.ipynb": "localhost:2"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("List() = %v, want %v", got, want)
			}

			if err := store.Unregister(ctx, "/w/a.sync.ipynb"); err != nil {
				t.Fatalf("Unregister() error = %v", err)
			}
			if err := store.Unregister(ctx, "/w/missing.sync.ipynb"); err != nil {
				t.Errorf("Unregister() of missing entry error = %v", err)
			}

			got, _ = store.List(ctx)
			if !reflect.DeepEqual(Sorted(got), []string{"/w/b.sync.ipynb"}) {
				t.Errorf("List() after Unregister = %v", got)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	registered := map[string]string{
		"/home/u/proj/notebooks/analysis.sync.ipynb": "localhost:12517",
		"/tmp/other/analysis.sync.ipynb":             "localhost:12518",
		"/home/u/proj/report.sync.ipynb":             "localhost:12519",
	}

	tests := []struct {
		name     string
		script   string
		wantAddr string
		wantErr  bool
	}{
		{name: "full path", script: "/home/u/proj/notebooks/analysis.sync.py", wantAddr: "localhost:12517"},
		{name: "different root, longest tail wins", script: "/mnt/proj/notebooks/analysis.sync.py", wantAddr: "localhost:12517"},
		{name: "unique file name", script: "report.sync.py", wantAddr: "localhost:12519"},
		{name: "notebook path accepted", script: "/x/report.sync.ipynb", wantAddr: "localhost:12519"},
		{name: "tie", script: "/elsewhere/analysis.sync.py", wantErr: true},
		{name: "no match", script: "/w/unknown.sync.py", wantErr: true},
	}

	for name, store := range backends(t) {
		ctx := context.Background()
		for path, addr := range registered {
			if err := store.Register(ctx, path, addr); err != nil {
				t.Fatal(err)
			}
		}

		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				_, addr, err := Resolve(ctx, store, tt.script, "sync")
				if (err != nil) != tt.wantErr {
					t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
				}
				if err != nil {
					if !errors.Is(err, ErrNotebookNotFound) {
						t.Errorf("error = %v, want ErrNotebookNotFound", err)
					}
					return
				}
				if addr != tt.wantAddr {
					t.Errorf("Resolve() addr = %q, want %q", addr, tt.wantAddr)
				}
			})
		}
	}
}

func TestResolve_Empty(t *testing.T) {
	_, _, err := Resolve(context.Background(), NewMemoryStore(), "a.sync.py", "sync")
	if !errors.Is(err, ErrNotebookNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotebookNotFound", err)
	}
}

func TestTailScore(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"/tmp/notebooks/myfile.py", "/opt/notebooks/myfile.py", 2},
		{"a/b/c", "a/b/d", 0},
		{"x.py", "/deep/x.py", 1},
		{"/a/b", "/a/b", 2},
	}
	for _, tt := range tests {
		if got := tailScore(splitPath(tt.a), splitPath(tt.b)); got != tt.want {
			t.Errorf("tailScore(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "etcd"}); err == nil {
		t.Error("Open() with unknown driver succeeded")
	}
}

func TestNewRedisStore_URL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open(context.Background(), Config{Driver: "redis", RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if err := store.Register(context.Background(), "/a.sync.ipynb", "localhost:1"); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet(defaultRedisKey, "/a.sync.ipynb"); got != "localhost:1" {
		t.Errorf("hash field = %q", got)
	}
}

func TestSQLiteStore_PragmasOnEveryConnection(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	// Hold several connections at once so the pool has to open new ones.
	for i := 0; i < 3; i++ {
		conn, err := s.conn.Conn(ctx)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()

		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatal(err)
		}
		if timeout != 5000 {
			t.Errorf("conn %d busy_timeout = %d, want 5000", i, timeout)
		}

		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatal(err)
		}
		if !strings.EqualFold(mode, "wal") {
			t.Errorf("conn %d journal_mode = %q, want wal", i, mode)
		}
	}
}

func TestSQLiteStore_ConcurrentRegister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	stores := make([]*SQLiteStore, 2)
	for i := range stores {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() failed: %v", err)
		}
		defer s.Close()
		stores[i] = s
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nb := fmt.Sprintf("/nb/%d.sync.ipynb", i)
			errs <- stores[i%2].Register(ctx, nb, "127.0.0.1:1")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Register() error = %v", err)
		}
	}

	entries, err := stores[0].List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 32 {
		t.Errorf("List() returned %d entries, want 32", len(entries))
	}
}
