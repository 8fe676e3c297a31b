package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// serveError writes the error page for code: <www_root><error_dir>/<code>.html
// when it exists, a diagnostic page for 404s in dev mode, and "Error <code>"
// otherwise.
func (s *Server) serveError(w http.ResponseWriter, r *http.Request, code int) {
	page := filepath.Join(s.config.WWWRoot, filepath.FromSlash(s.config.ErrorDir), strconv.Itoa(code)+".html")
	if body, err := ReadDocument(page, s.config.Encoding); err == nil {
		writeHTML(w, r, code, body)
		return
	} else if !os.IsNotExist(err) {
		s.logWarn("error page %s: %v", page, err)
	}

	if code == http.StatusNotFound && s.config.Server.Dev {
		writeHTML(w, r, code, s.dev404Page(r.URL.Path))
		return
	}
	writeHTML(w, r, code, fmt.Sprintf("Error %d", code))
}

const notFoundPageStyles = `<style>
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    background: #1a1a2e;
    color: #eee;
    padding: 2rem;
  }
  .container { max-width: 800px; margin: 0 auto; }
  h1 { font-size: 1.5rem; margin-bottom: 1.5rem; }
  .status-code {
    background: #f39c12;
    color: #1a1a2e;
    padding: 0.2rem 0.5rem;
    border-radius: 4px;
    margin-right: 0.5rem;
  }
  .info-box {
    background: #16213e;
    border-radius: 8px;
    padding: 1rem 1.25rem;
    margin-bottom: 1rem;
    border-left: 4px solid #f39c12;
  }
  .info-box h2 {
    font-size: 0.8rem;
    color: #7f8c8d;
    text-transform: uppercase;
  }
  .path, li {
    font-family: 'SF Mono', Monaco, 'Courier New', monospace;
    font-size: 0.9rem;
    color: #61afef;
    word-break: break-all;
  }
  ul { padding-left: 1rem; }
  li { list-style: none; color: #7f8c8d; }
  .footer { margin-top: 2rem; font-size: 0.8rem; color: #5c6370; }
</style>
`

// dev404Page describes where a missing path was looked for and lists the
// pages that do exist in the nearest existing directory.
func (s *Server) dev404Page(urlPath string) string {
	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString("<title>404 Not Found</title>\n")
	sb.WriteString(notFoundPageStyles)
	sb.WriteString("</head>\n<body>\n<div class=\"container\">\n")
	sb.WriteString("<h1><span class=\"status-code\">404</span> Not Found</h1>\n")

	sb.WriteString("<div class=\"info-box\">\n<h2>Requested</h2>\n<div class=\"path\">")
	sb.WriteString(html.EscapeString(urlPath))
	sb.WriteString("</div>\n</div>\n")

	sb.WriteString("<div class=\"info-box\">\n<h2>Looked in</h2>\n<div class=\"path\">")
	sb.WriteString(html.EscapeString(filepath.Join(s.config.WWWRoot, filepath.FromSlash(urlPath))))
	sb.WriteString("</div>\n</div>\n")

	if dir, names := s.nearestListing(urlPath); len(names) > 0 {
		sb.WriteString("<div class=\"info-box\">\n<h2>Pages in ")
		sb.WriteString(html.EscapeString(dir))
		sb.WriteString("</h2>\n<ul>\n")
		for _, name := range names {
			sb.WriteString("<li>")
			sb.WriteString(html.EscapeString(name))
			sb.WriteString("</li>\n")
		}
		sb.WriteString("</ul>\n</div>\n")
	}

	sb.WriteString("<div class=\"footer\">This is a development-only page.</div>\n")
	sb.WriteString("</div>\n</body>\n</html>")
	return sb.String()
}

// nearestListing walks up from urlPath to the first existing directory and
// returns its URL path and the page files in it.
func (s *Server) nearestListing(urlPath string) (string, []string) {
	dir := urlPath
	for {
		dir = strings.TrimSuffix(dir, "/")
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			dir = dir[:i]
		} else {
			dir = ""
		}
		entries, err := os.ReadDir(filepath.Join(s.config.WWWRoot, filepath.FromSlash(dir)))
		if err == nil {
			var names []string
			for _, e := range entries {
				if !e.IsDir() && s.config.Files.HTML.Contains(extension(e.Name())) {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			return dir + "/", names
		}
		if dir == "" {
			return "/", nil
		}
	}
}
