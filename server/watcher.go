package server

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long a burst of events must be quiet before it is acted on.
const debounce = 100 * time.Millisecond

// Watcher follows www_root, the extension file and the config file in dev
// mode. Any change bumps the sequence polled by live reload; a change to
// the extension file reloads the script registry.
type Watcher struct {
	fs         *fsnotify.Watcher
	server     *Server
	configPath string
	extension  string
	stdout     io.Writer
	stderr     io.Writer

	mu        sync.Mutex
	changeSeq uint64
	pending   map[string]bool
	timer     *time.Timer
}

// NewWatcher creates a watcher for s. Call Start to begin watching.
func NewWatcher(s *Server, configPath string, stdout, stderr io.Writer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ext := s.config.Script.Extension
	if ext != "" {
		if abs, err := filepath.Abs(ext); err == nil {
			ext = abs
		}
	}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}
	return &Watcher{
		fs:         fw,
		server:     s,
		configPath: configPath,
		extension:  ext,
		stdout:     stdout,
		stderr:     stderr,
		pending:    make(map[string]bool),
	}, nil
}

// Start adds the watch list and runs the event loop until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.server.config.WWWRoot
	if err := w.addTree(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	w.logInfo("watching pages: %s", root)

	// Files are watched through their directories so editors that replace
	// the file on save are still seen.
	for _, file := range []string{w.extension, w.configPath} {
		if file == "" {
			continue
		}
		dir := filepath.Dir(file)
		if err := w.fs.Add(dir); err != nil {
			w.logError("failed to watch %s: %v", dir, err)
			continue
		}
		w.logInfo("watching: %s", file)
	}

	go w.loop(ctx)
	return nil
}

// addTree watches root and every non-hidden directory under it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories under www_root need their own watch.
				_ = w.addTree(ev.Name)
			}
			w.queue(ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logError("watcher error: %v", err)
		}
	}
}

// queue records path and (re)arms the debounce timer.
func (w *Watcher) queue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounce, w.flush)
}

// flush handles the paths gathered during one burst.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := w.pending
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	var reload, relevant bool
	for path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		switch {
		case abs == w.extension:
			w.logInfo("extension changed: %s", path)
			reload, relevant = true, true
		case abs == w.configPath:
			w.logInfo("config changed: %s (restart the server to apply)", path)
			relevant = true
		case w.underRoot(abs):
			w.logInfo("changed: %s", path)
			relevant = true
		}
	}
	if !relevant {
		return
	}

	if reload {
		if err := w.server.Reload(); err != nil {
			w.logError("reloading extension: %v", err)
		}
	} else {
		w.server.documents.clear()
	}

	w.mu.Lock()
	w.changeSeq++
	w.mu.Unlock()
}

func (w *Watcher) underRoot(abs string) bool {
	root, err := filepath.Abs(w.server.config.WWWRoot)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ChangeSeq returns the number of change bursts seen so far.
func (w *Watcher) ChangeSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changeSeq
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) logInfo(format string, args ...any) {
	fmt.Fprintf(w.stdout, "[WATCH] "+format+"\n", args...)
}

func (w *Watcher) logError(format string, args ...any) {
	fmt.Fprintf(w.stderr, "[WATCH ERROR] "+format+"\n", args...)
}
