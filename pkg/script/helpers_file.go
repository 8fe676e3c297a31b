package script

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"go.starlark.net/starlark"
)

// maxReadSize bounds get_file so a script cannot pull a huge file into a page.
const maxReadSize = 32 << 20

// fileHelpers read and write files under the upload root.
func (reg *Registry) fileHelpers() starlark.StringDict {
	return starlark.StringDict{
		"save_file": starlark.NewBuiltin("save_file", reg.saveFile),
		"get_file":  starlark.NewBuiltin("get_file", reg.getFile),
	}
}

// resolve maps a script-supplied path to a file under the upload root.
func (reg *Registry) resolve(b *starlark.Builtin, name string) (string, error) {
	if reg.root == "" {
		return "", errorf(b, "file access is not configured")
	}
	if name == "" || strings.ContainsRune(name, 0) {
		return "", errorf(b, "invalid path %q", name)
	}
	// Cleaning a rooted path removes every leading "..".
	rel := filepath.Clean("/" + filepath.ToSlash(name))
	if rel == "/" {
		return "", errorf(b, "invalid path %q", name)
	}
	return filepath.Join(reg.root, filepath.FromSlash(rel)), nil
}

// save_file(key, path) writes the upload named key to path under the upload
// root, replacing any existing file atomically. It returns the number of
// bytes written.
func (reg *Registry) saveFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "path", &name); err != nil {
		return nil, err
	}
	up, ok := requestOf(thread).Files[key]
	if !ok {
		return nil, errorf(b, "no uploaded file named %q", key)
	}
	dest, err := reg.resolve(b, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errorf(b, "%v", err)
	}
	if err := atomic.WriteFile(dest, bytes.NewReader(up.Data)); err != nil {
		return nil, errorf(b, "%v", err)
	}
	return starlark.MakeInt(len(up.Data)), nil
}

// get_file(path) returns the contents of a file under the upload root.
func (reg *Registry) getFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 2 {
		return nil, errorf(b, "get_file(path) reads a stored file; use save_file(key, path) to store an upload")
	}
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &name); err != nil {
		return nil, err
	}
	src, err := reg.resolve(b, name)
	if err != nil {
		return nil, err
	}
	data, err := readLimited(src, maxReadSize)
	if err != nil {
		return nil, errorf(b, "%v", err)
	}
	return starlark.Bytes(data), nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s is larger than %d bytes", filepath.Base(path), limit)
	}
	return data, nil
}
