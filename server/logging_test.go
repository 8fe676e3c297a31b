package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRequestLoggerText(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/a/page.pys?x=1", nil)
	req.RemoteAddr = "192.0.2.7:41000"
	newRequestLogger(h, &buf, "text").ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{`192.0.2.7 "GET /a/page.pys?x=1" 200 5 `} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q does not contain %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("log line is not newline terminated")
	}
}

func TestRequestLoggerJSON(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("made"))
	})
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodPost, "/form.pys", nil)
	req.Header.Set("User-Agent", "test-agent")
	newRequestLogger(h, &buf, "json").ServeHTTP(httptest.NewRecorder(), req)

	var entry accessEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v\n%s", err, buf.String())
	}
	if entry.Method != "POST" || entry.Path != "/form.pys" || entry.Status != 201 || entry.Bytes != 4 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Agent != "test-agent" {
		t.Errorf("user agent = %q", entry.Agent)
	}
}

func TestRequestLoggerStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"implicit", func(w http.ResponseWriter, r *http.Request) {}, 200},
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, 404},
		{"first wins", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.WriteHeader(http.StatusOK)
		}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newRequestLogger(tt.handler, &buf, "json").ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
			var entry accessEntry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatal(err)
			}
			if entry.Status != tt.want {
				t.Errorf("status = %d, want %d", entry.Status, tt.want)
			}
		})
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		remote string
		xff    string
		want   string
	}{
		{"10.0.0.1:1234", "", "10.0.0.1"},
		{"10.0.0.1:1234", "203.0.113.5, 10.0.0.2", "203.0.113.5"},
		{"not-an-addr", "", "not-an-addr"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if tt.xff != "" {
			r.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := clientAddr(r); got != tt.want {
			t.Errorf("clientAddr(%q, %q) = %q, want %q", tt.remote, tt.xff, got, tt.want)
		}
	}
}

func TestDailyLogRollsOver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.Local)
	d := newDailyLog(dir, &bytes.Buffer{})
	d.now = func() time.Time { return day }
	defer d.Close()

	d.Write([]byte("first\n"))
	d.Write([]byte("second\n"))
	day = day.Add(2 * time.Minute)
	d.Write([]byte("third\n"))

	got, err := os.ReadFile(filepath.Join(dir, "2024-03-09.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("2024-03-09.log = %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dir, "2024-03-10.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "third\n" {
		t.Errorf("2024-03-10.log = %q", got)
	}
}

func TestDailyLogUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	os.WriteFile(file, nil, 0o644)

	var stderr bytes.Buffer
	d := newDailyLog(filepath.Join(file, "log"), &stderr)
	for i := 0; i < 3; i++ {
		if n, err := d.Write([]byte("x\n")); n != 2 || err != nil {
			t.Fatalf("Write() = %d, %v", n, err)
		}
	}
	if c := strings.Count(stderr.String(), "[WARN]"); c != 1 {
		t.Errorf("reported %d warnings, want 1", c)
	}
}
