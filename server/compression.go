package server

import (
	"compress/gzip"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzhttp"

	"github.com/pyserve/pyserve/server/config"
)

var compressionLevels = map[string]int{
	"fastest": gzip.BestSpeed,
	"default": gzip.DefaultCompression,
	"best":    gzip.BestCompression,
}

// newCompressionHandler gzips responses for clients that accept it.
// Responses below min_size pass through.
func newCompressionHandler(h http.Handler, cfg config.CompressionConfig) http.Handler {
	level, ok := compressionLevels[cfg.Level]
	if !cfg.Enabled || !ok {
		return h
	}

	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(level),
		gzhttp.ContentTypeFilter(compressible),
	)
	if err != nil {
		return h
	}
	return wrap(h)
}

// compressible leaves downloads and already-compressed media alone.
func compressible(ct string) bool {
	if strings.HasPrefix(ct, "application/octet-stream") {
		return false
	}
	return gzhttp.DefaultContentTypeFilter(ct)
}
