package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// accessEntry is one line of the access log.
type accessEntry struct {
	Time     string `json:"time"`
	Client   string `json:"client"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Status   int    `json:"status"`
	Bytes    int64  `json:"bytes"`
	Duration string `json:"duration"`
	Agent    string `json:"user_agent,omitempty"`
}

// statusRecorder remembers the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// requestLogger writes one access log line per request, as text or JSON.
type requestLogger struct {
	next   http.Handler
	out    io.Writer
	asJSON bool
	mu     sync.Mutex
}

func newRequestLogger(next http.Handler, out io.Writer, format string) *requestLogger {
	return &requestLogger{next: next, out: out, asJSON: format == "json"}
}

func (rl *requestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	rl.next.ServeHTTP(rec, r)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}

	entry := accessEntry{
		Time:     start.Format(time.RFC3339),
		Client:   clientAddr(r),
		Method:   r.Method,
		Path:     r.URL.RequestURI(),
		Status:   rec.status,
		Bytes:    rec.bytes,
		Duration: time.Since(start).Round(time.Microsecond).String(),
		Agent:    r.UserAgent(),
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.asJSON {
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintf(rl.out, "%s\n", data)
		}
		return
	}
	fmt.Fprintf(rl.out, "%s %s \"%s %s\" %d %d %s\n",
		entry.Time, entry.Client, entry.Method, entry.Path, entry.Status, entry.Bytes, entry.Duration)
}

// clientAddr is the first X-Forwarded-For hop, or the peer host.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// dailyLog appends to <dir>/YYYY-MM-DD.log, switching files when the
// local date changes. Write errors are swallowed after the first report
// so a full disk does not take the server down.
type dailyLog struct {
	dir    string
	now    func() time.Time
	stderr io.Writer

	mu       sync.Mutex
	day      string
	file     *os.File
	reported bool
}

func newDailyLog(dir string, stderr io.Writer) *dailyLog {
	return &dailyLog{dir: dir, now: time.Now, stderr: stderr}
}

func (d *dailyLog) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.now().Format("2006-01-02")
	if d.file == nil || day != d.day {
		if err := d.open(day); err != nil {
			if !d.reported {
				fmt.Fprintf(d.stderr, "[WARN] log file: %v\n", err)
				d.reported = true
			}
			return len(p), nil
		}
	}
	if _, err := d.file.Write(p); err != nil && !d.reported {
		fmt.Fprintf(d.stderr, "[WARN] log file: %v\n", err)
		d.reported = true
	}
	return len(p), nil
}

func (d *dailyLog) open(day string) error {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.file = f
	d.day = day
	return nil
}

// Close closes the current file.
func (d *dailyLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
