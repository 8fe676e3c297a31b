package server

import (
	"net/http"

	"github.com/pyserve/pyserve/server/config"
)

// securityHeaders sets the configured response headers before the wrapped
// handler runs, so a page can still override them.
type securityHeaders struct {
	next    http.Handler
	headers [][2]string
	devMode bool
}

func newSecurityHeaders(next http.Handler, cfg config.SecurityConfig, devMode bool) http.Handler {
	sh := &securityHeaders{next: next, devMode: devMode}
	for _, kv := range [][2]string{
		{"X-Content-Type-Options", cfg.ContentTypeOptions},
		{"X-Frame-Options", cfg.FrameOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Content-Security-Policy", cfg.CSP},
	} {
		if kv[1] != "" {
			sh.headers = append(sh.headers, kv)
		}
	}
	return sh
}

func (sh *securityHeaders) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	// Pages and extension functions change on disk while developing.
	if sh.devMode {
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}
	for _, kv := range sh.headers {
		h.Set(kv[0], kv[1])
	}
	sh.next.ServeHTTP(w, r)
}
