package script

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"golang.org/x/net/html"
)

// Thread-local keys. Helpers are shared across requests, so everything that
// belongs to one run travels on the thread.
const (
	outputBufferKey = "__outputBuffer__"
	requestKey      = "pyserve.request"
)

// UnterminatedMarker replaces a <python> region that was never closed.
const UnterminatedMarker = `<span class="python-warning">Unclosed &lt;python&gt; tag: code was not executed</span>`

// ErrorMarker renders a script failure message for inclusion in a page.
func ErrorMarker(msg string) string {
	return `<span class="python-error">` + html.EscapeString(msg) + `</span>`
}

func outputOf(thread *starlark.Thread) *strings.Builder {
	if buf, ok := thread.Local(outputBufferKey).(*strings.Builder); ok {
		return buf
	}
	// Threads created outside an executor (the REPL, extension loading)
	// still get somewhere to write.
	buf := &strings.Builder{}
	thread.SetLocal(outputBufferKey, buf)
	return buf
}

func requestOf(thread *starlark.Thread) *Request {
	if req, ok := thread.Local(requestKey).(*Request); ok && req != nil {
		return req
	}
	return emptyRequest
}

// Output returns the text written by helpers on thread so far.
func Output(thread *starlark.Thread) string {
	return outputOf(thread).String()
}

// ResetOutput discards the text written by helpers on thread.
func ResetOutput(thread *starlark.Thread) {
	outputOf(thread).Reset()
}

// str converts a value the way str() does: strings are not quoted and
// bytes are written as text.
func str(v starlark.Value) string {
	switch v := v.(type) {
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return string(v)
	}
	return v.String()
}

func errorf(b *starlark.Builtin, format string, args ...any) error {
	return fmt.Errorf("%s: %s", b.Name(), fmt.Sprintf(format, args...))
}
