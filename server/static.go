package server

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// sendFile sends a file with the given content type. Files at or above the
// large file threshold are streamed in chunk_size pieces; smaller files and
// range requests go through http.ServeContent.
func (s *Server) sendFile(w http.ResponseWriter, r *http.Request, fsPath string, info os.FileInfo, contentType string, attachment bool) {
	f, err := os.Open(fsPath)
	if err != nil {
		s.serveError(w, r, http.StatusNotFound)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentType)
	if attachment {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(fsPath)}))
	}

	threshold, chunk := s.config.Files.Sizes()
	if info.Size() < threshold || r.Header.Get("Range") != "" {
		http.ServeContent(w, r, "", info.ModTime(), f)
		return
	}

	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := streamChunks(w, f, chunk); err != nil {
		s.logWarn("streaming %s: %v", fsPath, err)
	}
}

// streamChunks copies src to w in chunk-sized writes, flushing after each.
func streamChunks(w http.ResponseWriter, src io.Reader, chunk int64) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, chunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			// Not every writer supports flushing.
			_ = rc.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
