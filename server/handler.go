package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pyserve/pyserve/server/config"
)

// siteHandler maps request paths onto files under www_root and dispatches
// on the file's extension. It serves every method.
type siteHandler struct {
	server *Server
}

func newSiteHandler(s *Server) *siteHandler {
	return &siteHandler{server: s}
}

func (h *siteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := h.resolve(r.URL.Path)
	if !ok {
		h.server.serveError(w, r, http.StatusBadRequest)
		return
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			h.server.serveError(w, r, http.StatusForbidden)
			return
		}
		h.server.serveError(w, r, http.StatusNotFound)
		return
	}

	if info.IsDir() {
		h.serveDirectory(w, r, fsPath)
		return
	}
	h.serveFile(w, r, fsPath, info)
}

// resolve maps a URL path to a filesystem path under www_root.
func (h *siteHandler) resolve(urlPath string) (string, bool) {
	if !safePath(urlPath) {
		return "", false
	}
	clean := path.Clean("/" + urlPath)
	return filepath.Join(h.server.config.WWWRoot, filepath.FromSlash(clean)), true
}

// safePath reports whether urlPath is free of ".." segments and NUL bytes.
// Such paths are rejected rather than cleaned.
func safePath(urlPath string) bool {
	if strings.ContainsRune(urlPath, 0) {
		return false
	}
	for _, seg := range strings.FieldsFunc(urlPath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return false
		}
	}
	return true
}

// rejectTraversal answers 400 for unsafe paths before the mux would
// redirect them to their cleaned form.
func rejectTraversal(next http.Handler, s *Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !safePath(r.URL.Path) {
			s.serveError(w, r, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveDirectory serves the first index file found, in html extension
// order, or a listing.
func (h *siteHandler) serveDirectory(w http.ResponseWriter, r *http.Request, dir string) {
	for _, ext := range h.server.config.Files.HTML {
		index := filepath.Join(dir, "index."+ext)
		info, err := os.Stat(index)
		if err != nil || info.IsDir() {
			continue
		}
		h.serveFile(w, r, index, info)
		return
	}

	if !h.server.config.DirListing {
		h.server.serveError(w, r, http.StatusForbidden)
		return
	}
	h.server.serveListing(w, r, dir)
}

func (h *siteHandler) serveFile(w http.ResponseWriter, r *http.Request, fsPath string, info os.FileInfo) {
	s := h.server
	ext := extension(fsPath)
	files := s.config.Files

	switch kind := files.Kind(ext); kind {
	case config.KindPage:
		switch ext {
		case "pys":
			s.servePage(w, r, fsPath)
		case "php":
			s.servePHP(w, r, fsPath)
		case "pp":
			s.servePP(w, r, fsPath)
		default:
			s.sendFile(w, r, fsPath, info, "text/html; charset=utf-8", false)
		}
	case config.KindDownload:
		s.sendFile(w, r, fsPath, info, files.MIMEType(ext), true)
	default:
		s.sendFile(w, r, fsPath, info, files.MIMEType(ext), false)
	}
}

// servePage renders a .pys document.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, fsPath string) {
	segments, err := s.documents.get(fsPath, s.config.Encoding)
	if err != nil {
		s.logError("reading %s: %v", fsPath, err)
		s.serveError(w, r, http.StatusInternalServerError)
		return
	}

	req, err := newRequestContext(r)
	if err != nil {
		s.rejectBody(w, r, err)
		return
	}
	renderer := s.renderer.Load()
	body := renderer.RenderSegments(r.Context(), s.relative(fsPath), segments, req)
	writeHTML(w, r, http.StatusOK, body)
}

// rejectBody answers a request whose body could not be buffered.
func (s *Server) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	s.logWarn("%s %s: %v (limit %d bytes)", r.Method, r.URL.Path, err, maxBodySize)
	s.serveError(w, r, http.StatusRequestEntityTooLarge)
}

// relative returns fsPath relative to www_root for error messages.
func (s *Server) relative(fsPath string) string {
	rel, err := filepath.Rel(s.config.WWWRoot, fsPath)
	if err != nil {
		return fsPath
	}
	return filepath.ToSlash(rel)
}

func writeHTML(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write([]byte(body))
	}
}

// extension returns the lower-case extension of name without the dot.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
