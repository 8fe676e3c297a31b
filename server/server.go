package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pyserve/pyserve/pkg/script"
	"github.com/pyserve/pyserve/pkg/script/modules"
	"github.com/pyserve/pyserve/server/config"
)

// Server represents a PyServe web server instance.
type Server struct {
	config     *config.Config
	configPath string
	version    string
	stdout     io.Writer
	stderr     io.Writer
	mux        *http.ServeMux
	server     *http.Server
	documents  *documentCache
	renderer   atomic.Pointer[script.Renderer]
	watcher    *Watcher
	logFile    *dailyLog
}

// New creates a new PyServe server with the given configuration.
func New(cfg *config.Config, configPath, version string, stdout, stderr io.Writer) (*Server, error) {
	s := &Server{
		config:     cfg,
		configPath: configPath,
		version:    version,
		stdout:     stdout,
		stderr:     stderr,
		mux:        http.NewServeMux(),
		documents:  newDocumentCache(cfg.Server.Dev && !cfg.Dev.Cache),
	}

	renderer, err := s.newRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading scripts: %w", err)
	}
	s.renderer.Store(renderer)

	s.setupRoutes()
	return s, nil
}

// newRenderer builds a capability registry from the current configuration,
// loading the extension file.
func (s *Server) newRenderer() (*script.Renderer, error) {
	reg, err := script.NewRegistry(ScriptOptions(s.config, s.stdout, s.stderr))
	if err != nil {
		return nil, err
	}
	return script.NewRenderer(reg), nil
}

// ScriptOptions maps the script and database settings of cfg onto registry
// options. Script console output goes to stdout and diagnostics to stderr.
func ScriptOptions(cfg *config.Config, stdout, stderr io.Writer) script.Options {
	loaders := modules.Builtin
	if len(cfg.Databases) > 0 {
		dbs := make(map[string]modules.Database, len(cfg.Databases))
		for name, db := range cfg.Databases {
			dbs[name] = modules.Database{Driver: db.Driver, DSN: db.DSN.Value()}
		}
		loaders = modules.WithDatabases(dbs)
	}
	return script.Options{
		AllowedModules: cfg.Script.EnabledLibraries,
		DisabledNames:  cfg.Script.DisabledFunctions,
		Extension:      cfg.Script.Extension,
		UploadRoot:     cfg.Script.UploadRoot,
		Console:        stdout,
		Logger:         stderr,
		Loaders:        loaders,
	}
}

// setupRoutes configures the HTTP mux.
func (s *Server) setupRoutes() {
	// In dev mode, add live reload endpoint
	if s.config.Server.Dev {
		s.mux.Handle("/__livereload", newLiveReloadHandler(s))
	}
	s.mux.Handle("/", newSiteHandler(s))
}

// Reload reloads the extension file and drops cached documents. Requests
// already rendering keep the renderer they started with. If the extension
// fails to load, the previous renderer stays active.
func (s *Server) Reload() error {
	s.documents.clear()
	renderer, err := s.newRenderer()
	if err != nil {
		return err
	}
	s.renderer.Store(renderer)
	return nil
}

// Handler returns the complete middleware chain around the router.
func (s *Server) Handler() http.Handler {
	handler := rejectTraversal(s.mux, s)

	// The script goes in before compression sees the body.
	if s.config.Server.Dev {
		handler = injectLiveReload(handler)
	}

	handler = newCompressionHandler(handler, s.config.Compression)

	handler = newSecurityHeaders(handler, s.config.Security, s.config.Server.Dev)

	// Wrap with request logging middleware (unless level is error-only)
	if s.config.Logging.Level != "error" && !s.config.Logging.Quiet {
		var out io.Writer = s.stdout
		if s.logFile != nil {
			out = io.MultiWriter(s.stdout, s.logFile)
		}
		handler = newRequestLogger(handler, out, s.config.Logging.Format)
	}
	return handler
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.listenAddr()

	if s.config.Logging.Dir != "" {
		s.logFile = newDailyLog(s.config.Logging.Dir, s.stderr)
		defer s.logFile.Close()
	}

	// In dev mode, start file watcher for hot reload
	if s.config.Server.Dev {
		watcher, err := NewWatcher(s, s.configPath, s.stdout, s.stderr)
		if err != nil {
			s.logError("failed to create watcher: %v", err)
		} else {
			s.watcher = watcher
			if err := s.watcher.Start(ctx); err != nil {
				s.logError("failed to start watcher: %v", err)
			}
			defer s.watcher.Close()
		}
	}

	// No WriteTimeout: large files are streamed for as long as the client reads.
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logStartup()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if s.config.Server.Dev {
			fmt.Fprintf(s.stdout, "Starting PyServe in development mode on http://%s\n", addr)
		} else {
			fmt.Fprintf(s.stdout, "Starting PyServe on http://%s\n", addr)
		}
		errCh <- s.server.ListenAndServe()
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		fmt.Fprintf(s.stdout, "\nShutting down gracefully...\n")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// listenAddr returns the address to listen on based on configuration.
func (s *Server) listenAddr() string {
	host := s.config.Server.Host
	port := s.config.Server.Port

	if s.config.Server.Dev {
		if host == "" {
			host = "localhost"
		}
		if port == 0 || port == 80 {
			port = 8080
		}
	}

	return fmt.Sprintf("%s:%d", host, port)
}

func (s *Server) logStartup() {
	s.logInfo("pyserve %s serving %s", s.version, s.config.WWWRoot)
	if s.configPath != "" {
		s.logInfo("config: %s", s.configPath)
	} else {
		s.logInfo("no config file found, using defaults")
	}
	if names := s.renderer.Load().Registry().ExtensionNames(); len(names) > 0 {
		s.logInfo("extension functions: %v", names)
	}
	dbs := make([]string, 0, len(s.config.Databases))
	for name := range s.config.Databases {
		dbs = append(dbs, name)
	}
	sort.Strings(dbs)
	for _, name := range dbs {
		db := s.config.Databases[name]
		driver := db.Driver
		if driver == "" {
			driver = "sqlite"
		}
		s.logInfo("database %s: %s %s", name, driver, db.DSN)
	}
}

// logInfo logs an info message
func (s *Server) logInfo(format string, args ...any) {
	if s.config.Logging.Level == "warn" || s.config.Logging.Level == "error" {
		return
	}
	s.logf(s.stdout, "[INFO] "+format, args...)
}

// logWarn logs a warning message
func (s *Server) logWarn(format string, args ...any) {
	if s.config.Logging.Level == "error" {
		return
	}
	s.logf(s.stderr, "[WARN] "+format, args...)
}

// logError logs an error message
func (s *Server) logError(format string, args ...any) {
	s.logf(s.stderr, "[ERROR] "+format, args...)
}

// logf writes a line to out and, when file logging is on, to the day's file.
func (s *Server) logf(out io.Writer, format string, args ...any) {
	line := fmt.Sprintf(format+"\n", args...)
	io.WriteString(out, line)
	if s.logFile != nil {
		io.WriteString(s.logFile, time.Now().Format(time.RFC3339)+" "+line)
	}
}
