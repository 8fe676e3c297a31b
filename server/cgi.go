package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// cgiResult is the parsed response of one CGI run.
type cgiResult struct {
	status int
	header http.Header
	body   []byte
}

// runCGI executes the configured php-cgi for the script at fsPath. A
// failed run is reported as an error carrying the interpreter's message.
// The program is killed when php.timeout passes or the request goes away.
func (s *Server) runCGI(r *http.Request, fsPath string) (*cgiResult, error) {
	interpreter, err := exec.LookPath(s.config.PHP.CGIPath)
	if err != nil {
		return nil, fmt.Errorf("php-cgi: %w", err)
	}
	script, err := filepath.Abs(fsPath)
	if err != nil {
		return nil, err
	}
	docRoot, err := filepath.Abs(s.config.WWWRoot)
	if err != nil {
		return nil, err
	}
	body, err := bufferBody(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	timeout := s.config.PHP.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = append(os.Environ(), s.cgiEnv(r, script, docRoot, len(body))...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherited the pipes must not hold Wait open.
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded && timeout > 0 {
		return nil, fmt.Errorf("no response after %s", timeout)
	}
	if err := r.Context().Err(); err != nil {
		return nil, err
	}

	res, parseErr := parseCGIResponse(stdout.Bytes())
	if parseErr != nil || (runErr != nil && res.status == http.StatusInternalServerError) {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case msg != "":
		case runErr != nil:
			msg = runErr.Error()
		default:
			msg = parseErr.Error()
		}
		return nil, errors.New(msg)
	}
	if stderr.Len() > 0 {
		s.logWarn("php %s: %s", fsPath, strings.TrimSpace(stderr.String()))
	}
	return res, nil
}

// cgiEnv returns the CGI/1.1 meta-variables for r.
func (s *Server) cgiEnv(r *http.Request, script, docRoot string, contentLength int) []string {
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host, port = r.Host, "80"
		if r.TLS != nil {
			port = "443"
		}
	}
	remoteHost, remotePort, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}

	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_SOFTWARE=PyServe/" + s.version,
		"SERVER_NAME=" + host,
		"SERVER_PORT=" + port,
		"SERVER_PROTOCOL=" + r.Proto,
		"REQUEST_METHOD=" + r.Method,
		"REQUEST_URI=" + r.URL.RequestURI(),
		"QUERY_STRING=" + r.URL.RawQuery,
		"SCRIPT_NAME=" + r.URL.Path,
		"SCRIPT_FILENAME=" + script,
		"PATH_INFO=" + filepath.Base(script),
		"DOCUMENT_ROOT=" + docRoot,
		"REDIRECT_STATUS=0",
		"REMOTE_ADDR=" + remoteHost,
		"REMOTE_HOST=" + remoteHost,
		"REMOTE_PORT=" + remotePort,
		"HTTP_HOST=" + r.Host,
	}
	if r.TLS != nil {
		env = append(env, "HTTPS=on")
	}
	if contentLength > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(contentLength))
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}
	for name, values := range r.Header {
		key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		switch key {
		case "CONTENT_TYPE", "CONTENT_LENGTH", "HOST", "PROXY":
			// PROXY would become HTTP_PROXY in the child.
			continue
		}
		sep := ", "
		if key == "COOKIE" {
			sep = "; "
		}
		env = append(env, "HTTP_"+key+"="+strings.Join(values, sep))
	}
	return env
}

// parseCGIResponse splits a CGI document response into status, headers
// and body. A Status header sets the code; a Location header without one
// redirects with 302.
func parseCGIResponse(out []byte) (*cgiResult, error) {
	br := bufio.NewReader(bytes.NewReader(out))
	mh, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil {
		if len(out) == 0 {
			return nil, errors.New("no output")
		}
		return nil, fmt.Errorf("malformed response headers: %w", err)
	}
	header := http.Header(mh)

	status := http.StatusOK
	if v := header.Get("Status"); v != "" {
		code, err := strconv.Atoi(strings.Fields(v)[0])
		if err != nil || code < 100 || code > 999 {
			return nil, fmt.Errorf("bad status %q", v)
		}
		status = code
		header.Del("Status")
	} else if header.Get("Location") != "" {
		status = http.StatusFound
	}
	header.Del("Connection")
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/html; charset=utf-8")
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	return &cgiResult{status: status, header: header, body: body}, nil
}

// servePHP relays the CGI response.
func (s *Server) servePHP(w http.ResponseWriter, r *http.Request, fsPath string) {
	res, err := s.runCGI(r, fsPath)
	if errors.Is(err, errBodyTooLarge) {
		s.rejectBody(w, r, err)
		return
	}
	if err != nil {
		s.logError("php %s: %v", fsPath, err)
		writeText(w, http.StatusInternalServerError, "PHP Execution Error: "+err.Error())
		return
	}
	copyHeader(w.Header(), res.header)
	w.WriteHeader(res.status)
	if r.Method != http.MethodHead {
		w.Write(res.body)
	}
}

// servePP runs the CGI program and renders its output as a document.
func (s *Server) servePP(w http.ResponseWriter, r *http.Request, fsPath string) {
	req, err := newRequestContext(r)
	if err != nil {
		s.rejectBody(w, r, err)
		return
	}
	res, err := s.runCGI(r, fsPath)
	if err != nil {
		s.logError("pp %s: %v", fsPath, err)
		writeText(w, http.StatusInternalServerError, "PHP Execution Error: "+err.Error())
		return
	}

	text, err := decodeText(res.body, s.config.Encoding)
	if err != nil {
		s.logError("pp %s: %v", fsPath, err)
		s.serveError(w, r, http.StatusInternalServerError)
		return
	}
	body := s.renderer.Load().Render(r.Context(), text, req)

	copyHeader(w.Header(), res.header)
	w.Header().Del("Content-Length")
	writeHTML(w, r, res.status, body)
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
