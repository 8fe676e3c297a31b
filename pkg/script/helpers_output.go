package script

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"golang.org/x/net/html"
)

// outputHelpers write to the page. They return None; their effect is the
// text appended to the run's output buffer.
func (reg *Registry) outputHelpers() starlark.StringDict {
	helpers := starlark.StringDict{
		"print": starlark.NewBuiltin("print", reg.print),
		"echo":  starlark.NewBuiltin("echo", echo),
		"p":     starlark.NewBuiltin("p", element("p")),
	}
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("h%d", i)
		helpers[name] = starlark.NewBuiltin(name, element(name))
	}
	return helpers
}

// print joins its arguments with sep and appends them to the page. With
// output=True the text, followed by end, is also written to the console.
func (reg *Registry) print(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep, end := " ", "\n"
	var mirror bool
	console := reg.console
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		v := kv[1]
		switch name {
		case "sep", "end":
			if v == starlark.None {
				continue
			}
			s, ok := starlark.AsString(v)
			if !ok {
				return nil, errorf(b, "%s must be None or a string, not %s", name, v.Type())
			}
			if name == "sep" {
				sep = s
			} else {
				end = s
			}
		case "output":
			mirror = bool(v.Truth())
		case "file":
			if s, ok := starlark.AsString(v); ok && s == "stderr" {
				console = reg.logger
			}
		case "flush":
			// Writes are unbuffered.
		default:
			return nil, errorf(b, "unexpected keyword argument %s", name)
		}
	}

	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = str(a)
	}
	text := strings.Join(parts, sep)
	outputOf(thread).WriteString(text)
	if mirror {
		io.WriteString(console, text+end)
	}
	return starlark.None, nil
}

func echo(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	outputOf(thread).WriteString(str(v))
	return starlark.None, nil
}

// element returns a helper that writes its argument, escaped, wrapped in
// the named HTML element.
func element(tag string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		fmt.Fprintf(outputOf(thread), "<%s>%s</%s>", tag, html.EscapeString(str(v)), tag)
		return starlark.None, nil
	}
}
