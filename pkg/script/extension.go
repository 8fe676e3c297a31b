package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// LoadExtension executes the Starlark file at path with the registry's
// modules and helpers predeclared and returns its public functions. A
// missing file yields no functions and no error.
//
// Extension functions are compiled once and shared by every request. They
// reach the current request through the calling thread, the same way the
// built-in helpers do.
func (reg *Registry) LoadExtension(path string) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading extension: %w", err)
	}

	thread := reg.newThread(path, nil)
	globals, err := starlark.ExecFileOptions(&reg.fileOptions, thread, path, src, reg.layer())
	if err != nil {
		return nil, fmt.Errorf("loading extension %s: %s", path, errorMessage(err))
	}
	if out := Output(thread); out != "" {
		fmt.Fprintf(reg.logger, "[WARN] extension %s wrote output at load time; discarded\n", path)
	}

	funcs := starlark.StringDict{}
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, ok := v.(*starlark.Function); ok {
			funcs[name] = v
		}
	}
	return funcs, nil
}

// ExtensionNames returns the names of the loaded extension functions, sorted.
func (reg *Registry) ExtensionNames() []string {
	names := make([]string, 0, len(reg.extension))
	for name := range reg.extension {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
