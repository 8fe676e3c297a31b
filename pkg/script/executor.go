package script

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.starlark.net/starlark"

	"github.com/pyserve/pyserve/pkg/markup"
	"github.com/pyserve/pyserve/pkg/script/modules"
)

// Scope maps identifiers to values. It carries the variables defined by one
// script segment into the next segment of the same document.
type Scope = starlark.StringDict

// Executor runs script segments for one request. It is not safe for
// concurrent use; create one per render.
type Executor struct {
	registry  *Registry
	request   *Request
	name      string
	resources *modules.Resources
}

// Executor returns an executor bound to req. name labels error positions,
// usually the document's path.
func (reg *Registry) Executor(name string, req *Request) *Executor {
	if name == "" {
		name = "<document>"
	}
	return &Executor{
		registry:  reg,
		request:   req,
		name:      name,
		resources: &modules.Resources{},
	}
}

// Run executes src with scope's bindings visible and returns the output
// written by helpers together with the updated scope. On failure the
// output is an error marker and the scope holds whatever was bound before
// the failing statement.
func (x *Executor) Run(ctx context.Context, src string, scope Scope) (string, Scope) {
	return x.run(ctx, src, 1, scope)
}

// RunSegment runs a script segment so that error positions refer to the
// segment's lines in the document. Unterminated segments are not executed.
func (x *Executor) RunSegment(ctx context.Context, seg markup.Segment, scope Scope) (string, Scope) {
	if seg.Unterminated {
		return UnterminatedMarker, scope
	}
	return x.run(ctx, seg.Text, seg.Line, scope)
}

// Close releases resources opened by scripts, such as database
// connections. The executor must not be used afterwards.
func (x *Executor) Close() error {
	return x.resources.Close()
}

// Eval evaluates a single expression against scope. It returns the value
// and any text written by helpers while evaluating it.
func (x *Executor) Eval(ctx context.Context, expr string, scope Scope) (starlark.Value, string, error) {
	thread, buf := x.thread(ctx)
	v, err := starlark.EvalOptions(&x.registry.fileOptions, thread, x.name, expr, x.registry.Environment(scope))
	if err != nil {
		return nil, buf.String(), errors.New(errorMessage(err))
	}
	return v, buf.String(), nil
}

func (x *Executor) thread(ctx context.Context) (*starlark.Thread, *strings.Builder) {
	buf := &strings.Builder{}
	thread := x.registry.newThread(x.name, x.request)
	thread.SetLocal(outputBufferKey, buf)
	modules.Bind(thread, ctx, x.resources)
	return thread, buf
}

func (x *Executor) run(ctx context.Context, src string, line int, scope Scope) (string, Scope) {
	out, updated, err := x.exec(ctx, src, line, scope)
	if err != nil {
		fmt.Fprintf(x.registry.logger, "[ERROR] script error in %s: %v\n", x.name, err)
		return ErrorMarker(err.Error()), updated
	}
	return out, updated
}

// Exec is like Run but reports a failure as an error instead of rendering
// it. The partial output is discarded on failure.
func (x *Executor) Exec(ctx context.Context, src string, scope Scope) (string, Scope, error) {
	return x.exec(ctx, src, 1, scope)
}

func (x *Executor) exec(ctx context.Context, src string, line int, scope Scope) (out string, updated Scope, err error) {
	reg := x.registry
	thread, buf := x.thread(ctx)
	env := reg.Environment(scope)
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(reg.logger, "[ERROR] panic in %s: %v\n%s", x.name, r, debug.Stack())
			out, updated, err = "", reg.scopeOf(env), fmt.Errorf("internal error: %v", r)
		}
	}()

	f, err := reg.fileOptions.Parse(x.name, positioned(dedent(src), line), 0)
	if err != nil {
		return "", scope, errors.New(errorMessage(err))
	}
	err = starlark.ExecREPLChunk(f, thread, env)
	updated = reg.scopeOf(env)
	if err != nil {
		return "", updated, errors.New(errorMessage(err))
	}
	return buf.String(), updated, nil
}

// errorMessage formats err with the innermost source position that lies in
// script code.
func errorMessage(err error) string {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return err.Error()
	}
	for i := 0; i < len(evalErr.CallStack); i++ {
		// Builtin frames have a position on line 0.
		if pos := evalErr.CallStack.At(i).Pos; pos.IsValid() && pos.Line > 0 {
			return fmt.Sprintf("%s: %s", pos, evalErr.Msg)
		}
	}
	return evalErr.Msg
}

// positioned pads src with blank lines so that its first line is reported
// as line.
func positioned(src string, line int) string {
	if line <= 1 {
		return src
	}
	return strings.Repeat("\n", line-1) + src
}

// dedent removes the whitespace prefix common to every non-blank line, so
// that code indented to match the surrounding HTML parses. Blank lines are
// emptied.
func dedent(src string) string {
	lines := strings.Split(src, "\n")
	var prefix string
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return src
	}
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = l[len(prefix):]
	}
	return strings.Join(lines, "\n")
}
