// Package modules provides the Starlark modules that a deployment may
// allow scripts to use. Each module is produced by a Loader; the script
// registry decides which ones are bound.
package modules

import (
	"context"
	"errors"
	"io"
	"sync"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Loader builds a module value.
type Loader func() (starlark.Value, error)

// Builtin is the default module table.
var Builtin = map[string]Loader{
	"math":     static(starmath.Module),
	"time":     static(startime.Module),
	"json":     static(starjson.Module),
	"datetime": newDatetime,
	"markdown": newMarkdown,
	"hashlib":  newHashlib,
	"html":     newHTML,
	"base64":   newBase64,
	"re":       newRegexp,
	"random":   newRandom,
	"sql":      newSQL,
	"sqlite3":  newSQLite,
	"locale":   newLocale,
}

func static(m *starlarkstruct.Module) Loader {
	return func() (starlark.Value, error) { return m, nil }
}

func module(name string, members starlark.StringDict) *starlarkstruct.Module {
	return &starlarkstruct.Module{Name: name, Members: members}
}

// Members returns the bindings a load() of v provides.
func Members(v starlark.Value) starlark.StringDict {
	switch v := v.(type) {
	case *starlarkstruct.Module:
		return v.Members
	case starlark.HasAttrs:
		members := starlark.StringDict{}
		for _, name := range v.AttrNames() {
			if attr, err := v.Attr(name); err == nil && attr != nil {
				members[name] = attr
			}
		}
		return members
	}
	return starlark.StringDict{}
}

const (
	contextKey   = "pyserve.context"
	resourcesKey = "pyserve.resources"
)

// Bind attaches the render context and resource tracker to thread.
func Bind(thread *starlark.Thread, ctx context.Context, res *Resources) {
	thread.SetLocal(contextKey, ctx)
	thread.SetLocal(resourcesKey, res)
}

func contextOf(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

// track registers c to be closed with the thread's resources. On an
// unbound thread closing c is left to the script.
func track(thread *starlark.Thread, c io.Closer) {
	if res, ok := thread.Local(resourcesKey).(*Resources); ok && res != nil {
		res.add(c)
	}
}

// Resources collects handles opened by module functions during one render
// so they are released even when a script forgets to.
type Resources struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (r *Resources) add(c io.Closer) {
	r.mu.Lock()
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

// Close closes every tracked handle, most recent first.
func (r *Resources) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
