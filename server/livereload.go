package server

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var closingTagRe = regexp.MustCompile(`(?i)</body>|</html>`)

// liveReloadScript polls /__livereload and reloads the page when the
// change counter moves.
const liveReloadScript = `<script>
(function() {
  var seen = null;
  function poll() {
    fetch('/__livereload', {cache: 'no-store'})
      .then(function(r) { return r.json(); })
      .then(function(d) {
        if (seen === null) {
          seen = d.seq;
        } else if (d.seq !== seen) {
          location.reload();
          return;
        }
        setTimeout(poll, 1000);
      })
      .catch(function() { setTimeout(poll, 2000); });
  }
  if (document.readyState === 'complete') {
    poll();
  } else {
    window.addEventListener('load', poll);
  }
})();
</script>`

// liveReloadHandler reports the watcher's change counter.
type liveReloadHandler struct {
	server *Server
}

func newLiveReloadHandler(s *Server) *liveReloadHandler {
	return &liveReloadHandler{server: s}
}

func (h *liveReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var seq uint64
	if h.server.watcher != nil {
		seq = h.server.watcher.ChangeSeq()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, `{"seq":%d}`, seq)
}

// injectLiveReload adds liveReloadScript to HTML responses, ahead of the
// first closing body or html tag, or at the end.
func injectLiveReload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iw := &injectingWriter{ResponseWriter: w}
		next.ServeHTTP(iw, r)
		iw.finish()
	})
}

// injectingWriter holds back HTML bodies until the handler returns. Other
// content passes straight through.
type injectingWriter struct {
	http.ResponseWriter
	status  int
	decided bool
	html    bool
	sent    bool
	buf     bytes.Buffer
}

func (w *injectingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *injectingWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true
	w.html = strings.HasPrefix(w.Header().Get("Content-Type"), "text/html")
	if !w.html {
		w.sendHeader()
	}
}

func (w *injectingWriter) sendHeader() {
	if w.sent {
		return
	}
	w.sent = true
	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
}

func (w *injectingWriter) Write(b []byte) (int, error) {
	w.decide()
	if w.html {
		return w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *injectingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *injectingWriter) finish() {
	if !w.html || w.buf.Len() == 0 {
		w.sendHeader()
		return
	}

	body := w.buf.Bytes()
	var out bytes.Buffer
	out.Grow(len(body) + len(liveReloadScript))
	if loc := closingTagRe.FindIndex(body); loc != nil {
		out.Write(body[:loc[0]])
		out.WriteString(liveReloadScript)
		out.Write(body[loc[0]:])
	} else {
		out.Write(body)
		out.WriteString(liveReloadScript)
	}

	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.sendHeader()
	w.ResponseWriter.Write(out.Bytes())
}
