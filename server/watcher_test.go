package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pyserve/pyserve/server/config"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, srv *Server) *Watcher {
	t.Helper()
	w, err := NewWatcher(srv, "", &bytes.Buffer{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	srv.watcher = w
	return w
}

func TestWatcherCountsPageChanges(t *testing.T) {
	srv, _ := testSite(t, map[string]string{"sub/page.pys": "one"}, func(c *config.Config) { c.Server.Dev = true })
	w := startWatcher(t, srv)

	os.WriteFile(filepath.Join(srv.config.WWWRoot, "sub", "page.pys"), []byte("two"), 0o644)
	waitFor(t, "change in a subdirectory", func() bool { return w.ChangeSeq() >= 1 })

	// Directories created after Start are watched too.
	dir := filepath.Join(srv.config.WWWRoot, "new")
	os.Mkdir(dir, 0o755)
	time.Sleep(3 * debounce)
	seq := w.ChangeSeq()
	os.WriteFile(filepath.Join(dir, "x.pys"), []byte("x"), 0o644)
	waitFor(t, "change in the new directory", func() bool { return w.ChangeSeq() > seq })
}

func TestWatcherReloadsExtension(t *testing.T) {
	srv, _ := testSite(t, map[string]string{"greet.pys": "<python>echo(greet())</python>"}, func(c *config.Config) { c.Server.Dev = true })
	ext := srv.config.Script.Extension
	writeFiles(t, filepath.Dir(ext), map[string]string{filepath.Base(ext): "def greet():\n    return 'one'\n"})
	if err := srv.Reload(); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, srv)

	os.WriteFile(ext, []byte("def greet():\n    return 'two'\n"), 0o644)
	waitFor(t, "extension reload", func() bool { return w.ChangeSeq() > 0 })

	// Dev responses also carry the live reload script.
	if got := get(t, srv, "/greet.pys").Body.String(); !strings.HasPrefix(got, "two") {
		t.Errorf("after extension change = %q", got)
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	srv, root := testSite(t, nil, func(c *config.Config) { c.Server.Dev = true })
	writeFiles(t, filepath.Join(root, "config"), map[string]string{"notes.txt": "a"})
	w := startWatcher(t, srv)

	os.WriteFile(filepath.Join(root, "config", "notes.txt"), []byte("b"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if n := w.ChangeSeq(); n != 0 {
		t.Errorf("ChangeSeq() = %d after an unrelated change", n)
	}
}
