package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/pyserve/pyserve/server/config"
)

// fakePHP stands in for php-cgi: it prints the requested script back,
// failing or stalling when the script asks it to.
const fakePHP = `#!/bin/sh
if grep -q FAIL "$SCRIPT_FILENAME"; then
  echo "Parse error in $(basename "$SCRIPT_FILENAME")" >&2
  exit 255
fi
if grep -q SLOW "$SCRIPT_FILENAME"; then
  echo $$ > "$SCRIPT_FILENAME.pid"
  exec sleep 5
fi
if grep -q MISSING "$SCRIPT_FILENAME"; then
  printf 'Status: 404 Not Found\r\n'
fi
printf 'Content-Type: text/html\r\nX-Powered-By: fake\r\n\r\n'
printf '%s|' "$REQUEST_METHOD"
cat "$SCRIPT_FILENAME"
`

func cgiSite(t *testing.T, files map[string]string, mutate func(*config.Config)) *Server {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake php-cgi is a shell script")
	}
	srv, _ := testSite(t, files, mutate)
	bin := srv.config.PHP.CGIPath
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bin, []byte(fakePHP), 0o755); err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestServePHP(t *testing.T) {
	srv := cgiSite(t, map[string]string{
		"page.php": "<p>raw</p><python>echo('not run')</python>",
	}, nil)

	rec := get(t, srv, "/page.php")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got, want := rec.Body.String(), "GET|<p>raw</p><python>echo('not run')</python>"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if got := rec.Header().Get("X-Powered-By"); got != "fake" {
		t.Errorf("CGI header not relayed: %q", got)
	}
}

func TestServePP(t *testing.T) {
	srv := cgiSite(t, map[string]string{
		"page.pp": "<p>php</p><python>echo(1 + 2)</python>",
	}, nil)

	rec := get(t, srv, "/page.pp")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got, want := rec.Body.String(), "GET|<p>php</p>3"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestServePPKeepsRequestBody(t *testing.T) {
	srv := cgiSite(t, map[string]string{
		"form.pp": "<python>echo(post('name'))</python>",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/form.pp", strings.NewReader("name=Ann"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, srv, req)
	if got, want := rec.Body.String(), "POST|Ann"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestCGIStatus(t *testing.T) {
	srv := cgiSite(t, map[string]string{"gone.php": "MISSING"}, nil)
	if rec := get(t, srv, "/gone.php"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCGIFailure(t *testing.T) {
	srv := cgiSite(t, map[string]string{"bad.php": "FAIL", "bad.pp": "FAIL"}, nil)
	for _, target := range []string{"/bad.php", "/bad.pp"} {
		rec := get(t, srv, target)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", target, rec.Code)
		}
		body := rec.Body.String()
		if !strings.HasPrefix(body, "PHP Execution Error: ") || !strings.Contains(body, "Parse error") {
			t.Errorf("%s: body = %q", target, body)
		}
	}
}

func TestCGITimeout(t *testing.T) {
	srv := cgiSite(t, map[string]string{"slow.php": "SLOW"}, func(c *config.Config) {
		c.PHP.Timeout = 200 * time.Millisecond
	})
	start := time.Now()
	req := httptest.NewRequest(http.MethodPost, "/slow.php", strings.NewReader("a=1"))
	rec := do(t, srv, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no response after") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if time.Since(start) > time.Second {
		t.Error("timeout did not cut the request short")
	}

	data, err := os.ReadFile(filepath.Join(srv.config.WWWRoot, "slow.php.pid"))
	if err != nil {
		t.Fatalf("interpreter never started: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if p, err := os.FindProcess(pid); err == nil && p.Signal(syscall.Signal(0)) == nil {
		p.Kill()
		t.Errorf("interpreter %d still running after the timeout", pid)
	}
}

func TestCGIEnvironment(t *testing.T) {
	srv, _ := testSite(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "http://example.com:8123/app/page.php?x=1", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-Id", "abc")
	req.Header.Set("Proxy", "evil:3128")
	req.Header.Add("Cookie", "a=1")
	req.Header.Add("Cookie", "b=2")

	env := map[string]string{}
	for _, kv := range srv.cgiEnv(req, "/srv/app/page.php", "/srv", 13) {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	want := map[string]string{
		"REQUEST_METHOD":  "POST",
		"SERVER_NAME":     "example.com",
		"SERVER_PORT":     "8123",
		"QUERY_STRING":    "x=1",
		"REQUEST_URI":     "/app/page.php?x=1",
		"SCRIPT_FILENAME": "/srv/app/page.php",
		"REMOTE_ADDR":     "10.0.0.7",
		"CONTENT_LENGTH":  "13",
		"CONTENT_TYPE":    "application/json",
		"HTTP_X_TRACE_ID": "abc",
		"HTTP_COOKIE":     "a=1; b=2",
		"REDIRECT_STATUS": "0",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("%s = %q, want %q", k, env[k], v)
		}
	}
	if _, ok := env["HTTP_PROXY"]; ok {
		t.Error("Proxy header leaked into HTTP_PROXY")
	}
}

func TestParseCGIResponse(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		status   int
		location string
		body     string
		wantErr  bool
	}{
		{"plain", "Content-Type: text/plain\r\n\r\nhi", 200, "", "hi", false},
		{"bare newlines", "X-A: 1\n\nbody", 200, "", "body", false},
		{"status", "Status: 404 Not Found\r\n\r\n", 404, "", "", false},
		{"redirect", "Location: /next\r\n\r\n", 302, "/next", "", false},
		{"empty", "", 0, "", "", true},
		{"bad status", "Status: soon\r\n\r\n", 0, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parseCGIResponse([]byte(tt.out))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected an error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCGIResponse: %v", err)
			}
			if res.status != tt.status || string(res.body) != tt.body || res.header.Get("Location") != tt.location {
				t.Errorf("got status %d body %q header %v", res.status, res.body, res.header)
			}
			if res.header.Get("Content-Type") == "" {
				t.Error("no default Content-Type")
			}
		})
	}
}

func TestCGIMissingInterpreter(t *testing.T) {
	srv, _ := testSite(t, map[string]string{"page.php": "x"}, nil)
	rec := get(t, srv, "/page.php")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
