package script

import (
	"fmt"
	"io"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/pyserve/pyserve/pkg/script/modules"
)

// Options configures a Registry.
type Options struct {
	// AllowedModules are bound into every script by name and may also be
	// load()ed. Names without a loader, or whose loader fails, are skipped.
	AllowedModules []string

	// DisabledNames are replaced by stubs that fail when called. They win
	// over helpers, modules and extension functions.
	DisabledNames []string

	// Extension is the path of a Starlark file whose public functions are
	// exposed to scripts. A missing file is not an error.
	Extension string

	// UploadRoot confines save_file and get_file. Empty disables them.
	UploadRoot string

	// Console receives print(..., output=True). Logger receives execution
	// errors and warnings. Both default to io.Discard.
	Console io.Writer
	Logger  io.Writer

	// Loaders replaces the module table. Defaults to modules.Builtin.
	Loaders map[string]modules.Loader
}

// Registry is the capability set shared by every script run. It is
// read-only once NewRegistry returns.
type Registry struct {
	allowed  []string
	disabled []string
	root     string
	console  io.Writer
	logger   io.Writer
	loaders  map[string]modules.Loader

	fileOptions syntax.FileOptions

	modulesOnce sync.Once
	loaded      starlark.StringDict

	helpers      starlark.StringDict
	extension    starlark.StringDict
	capabilities starlark.StringDict
}

// NewRegistry builds a registry and loads the function extension, if any.
func NewRegistry(opts Options) (*Registry, error) {
	reg := &Registry{
		allowed:  opts.AllowedModules,
		disabled: opts.DisabledNames,
		root:     opts.UploadRoot,
		console:  opts.Console,
		logger:   opts.Logger,
		loaders:  opts.Loaders,
		fileOptions: syntax.FileOptions{
			Set:               true,
			While:             true,
			TopLevelControl:   true,
			GlobalReassign:    true,
			Recursion:         true,
			LoadBindsGlobally: true,
		},
	}
	if reg.console == nil {
		reg.console = io.Discard
	}
	if reg.logger == nil {
		reg.logger = io.Discard
	}
	if reg.loaders == nil {
		reg.loaders = modules.Builtin
	}

	reg.helpers = starlark.StringDict{}
	for _, group := range []starlark.StringDict{
		reg.outputHelpers(),
		requestHelpers(),
		reg.fileHelpers(),
	} {
		for name, fn := range group {
			reg.helpers[name] = reg.guard(fn)
		}
	}

	if opts.Extension != "" {
		ext, err := reg.LoadExtension(opts.Extension)
		if err != nil {
			return nil, err
		}
		reg.extension = ext
	}

	reg.capabilities = reg.layer()
	return reg, nil
}

// layer stacks modules, helpers, extension functions and disabled stubs,
// later layers winning.
func (reg *Registry) layer() starlark.StringDict {
	env := starlark.StringDict{}
	for _, layer := range []starlark.StringDict{reg.allowedModules(), reg.helpers, reg.extension} {
		for name, v := range layer {
			env[name] = v
		}
	}
	for _, name := range reg.disabled {
		env[name] = disabledStub(name)
	}
	return env
}

// allowedModules loads the allow-listed modules once.
func (reg *Registry) allowedModules() starlark.StringDict {
	reg.modulesOnce.Do(func() {
		reg.loaded = starlark.StringDict{}
		for _, name := range reg.allowed {
			v, err := reg.loadModule(name)
			if err != nil {
				continue
			}
			reg.loaded[name] = v
		}
	})
	return reg.loaded
}

func (reg *Registry) loadModule(name string) (starlark.Value, error) {
	load, ok := reg.loaders[name]
	if !ok {
		return nil, fmt.Errorf("no module named %s", name)
	}
	v, err := load()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	v = reg.guard(v)
	v.Freeze()
	return v, nil
}

// load implements the load() statement for allow-listed modules.
func (reg *Registry) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if reg.IsDisabled(module) {
		return nil, fmt.Errorf("%s: this function has been disabled", module)
	}
	v, ok := reg.allowedModules()[module]
	if !ok {
		return nil, fmt.Errorf("module %q is not available", module)
	}
	return modules.Members(v), nil
}

// Names returns the names bound into every script, sorted.
func (reg *Registry) Names() []string {
	names := make([]string, 0, len(reg.capabilities))
	for name := range reg.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsDisabled reports whether name is bound to a disabled stub.
func (reg *Registry) IsDisabled(name string) bool {
	for _, d := range reg.disabled {
		if d == name {
			return true
		}
	}
	return false
}

// Environment returns the globals for a run: scope overlaid with the
// registry's capabilities. The result is a fresh map.
func (reg *Registry) Environment(scope Scope) starlark.StringDict {
	env := make(starlark.StringDict, len(scope)+len(reg.capabilities))
	for name, v := range scope {
		env[name] = v
	}
	for name, v := range reg.capabilities {
		env[name] = v
	}
	return env
}

// scopeOf returns the bindings in env that a script made: capability
// bindings still holding their injected value are dropped.
func (reg *Registry) scopeOf(env starlark.StringDict) Scope {
	scope := make(Scope, len(env))
	for name, v := range env {
		if injected, ok := reg.capabilities[name]; ok && identical(v, injected) {
			continue
		}
		scope[name] = v
	}
	return scope
}

func identical(a, b starlark.Value) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	return ta == tb && ta.Comparable() && a == b
}

// guard wraps Go builtins, including the members of modules, so that a
// panic becomes a script error. The chunk then ends normally and keeps the
// bindings made before the call.
func (reg *Registry) guard(v starlark.Value) starlark.Value {
	switch v := v.(type) {
	case *starlark.Builtin:
		return starlark.NewBuiltin(v.Name(), func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (res starlark.Value, err error) {
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintf(reg.logger, "[ERROR] panic in %s: %v\n%s", thread.Name, r, debug.Stack())
					res, err = nil, fmt.Errorf("internal error: %v", r)
				}
			}()
			return v.CallInternal(thread, args, kwargs)
		})
	case *starlarkstruct.Module:
		members := make(starlark.StringDict, len(v.Members))
		for name, m := range v.Members {
			members[name] = reg.guard(m)
		}
		return &starlarkstruct.Module{Name: v.Name, Members: members}
	}
	return v
}

func disabledStub(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return nil, errorf(b, "this function has been disabled")
	})
}

// newThread returns a thread bound to req.
func (reg *Registry) newThread(name string, req *Request) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Load: reg.load,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(reg.console, msg)
		},
	}
	if req == nil {
		req = emptyRequest
	}
	thread.SetLocal(requestKey, req)
	return thread
}
