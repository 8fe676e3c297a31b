package modules

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.starlark.net/starlark"
)

var (
	markdownSafe   = goldmark.New(goldmark.WithExtensions(extension.GFM))
	markdownUnsafe = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
)

func newMarkdown() (starlark.Value, error) {
	return module("markdown", starlark.StringDict{
		"render": starlark.NewBuiltin("render", markdownRender),
	}), nil
}

// render(text, unsafe=False) converts GitHub-flavoured markdown to HTML.
// Raw HTML in the source is dropped unless unsafe is set.
func markdownRender(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	var unsafe bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "unsafe?", &unsafe); err != nil {
		return nil, err
	}
	md := markdownSafe
	if unsafe {
		md = markdownUnsafe
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(buf.String()), nil
}
