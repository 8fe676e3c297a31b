package modules

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"golang.org/x/net/html"
)

func newHTML() (starlark.Value, error) {
	return module("html", starlark.StringDict{
		"escape":   starlark.NewBuiltin("escape", stringFunc(html.EscapeString)),
		"unescape": starlark.NewBuiltin("unescape", stringFunc(html.UnescapeString)),
		"text":     starlark.NewBuiltin("text", htmlText),
	}), nil
}

func stringFunc(f func(string) string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		return starlark.String(f(s)), nil
	}
}

// text(markup) returns the text content of an HTML fragment with tags,
// comments, scripts and styles removed.
func htmlText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	return starlark.String(extractText(s)), nil
}

func extractText(s string) string {
	z := html.NewTokenizerFragment(strings.NewReader(s), "div")
	var out []byte
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return string(out)
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				out = append(out, html.UnescapeString(string(z.Raw()))...)
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}

func newBase64() (starlark.Value, error) {
	return module("base64", starlark.StringDict{
		"b64encode":         starlark.NewBuiltin("b64encode", encodeFunc(base64.StdEncoding)),
		"b64decode":         starlark.NewBuiltin("b64decode", decodeFunc(base64.StdEncoding)),
		"urlsafe_b64encode": starlark.NewBuiltin("urlsafe_b64encode", encodeFunc(base64.URLEncoding)),
		"urlsafe_b64decode": starlark.NewBuiltin("urlsafe_b64decode", decodeFunc(base64.URLEncoding)),
	}), nil
}

func encodeFunc(enc *base64.Encoding) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
			return nil, err
		}
		raw, err := bytesOf(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.String(enc.EncodeToString(raw)), nil
	}
}

func decodeFunc(enc *base64.Encoding) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		raw, err := enc.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.Bytes(raw), nil
	}
}

// Compiled patterns are shared by every script.
var patterns sync.Map

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Store(pattern, re)
	return re, nil
}

func newRegexp() (starlark.Value, error) {
	return module("re", starlark.StringDict{
		"match":   starlark.NewBuiltin("match", reMatch),
		"search":  starlark.NewBuiltin("search", reSearch),
		"findall": starlark.NewBuiltin("findall", reFindAll),
		"sub":     starlark.NewBuiltin("sub", reSub),
		"split":   starlark.NewBuiltin("split", reSplit),
	}), nil
}

func unpackPattern(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (*regexp.Regexp, string, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, "", err
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", b.Name(), err)
	}
	return re, s, nil
}

// groups returns the match and its submatches, None for groups that did
// not participate.
func groups(s string, loc []int) starlark.Value {
	if loc == nil {
		return starlark.None
	}
	out := make(starlark.Tuple, len(loc)/2)
	for i := range out {
		if loc[2*i] < 0 {
			out[i] = starlark.None
			continue
		}
		out[i] = starlark.String(s[loc[2*i]:loc[2*i+1]])
	}
	return out
}

// match(pattern, string) matches at the start of string and returns a
// tuple of the whole match and its groups, or None.
func reMatch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPattern(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 {
		return starlark.None, nil
	}
	return groups(s, loc), nil
}

func reSearch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPattern(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return groups(s, re.FindStringSubmatchIndex(s)), nil
}

func reFindAll(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPattern(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		if len(m) == 2 {
			out = append(out, starlark.String(m[1]))
			continue
		}
		if len(m) == 1 {
			out = append(out, starlark.String(m[0]))
			continue
		}
		t := make(starlark.Tuple, len(m)-1)
		for i, g := range m[1:] {
			t[i] = starlark.String(g)
		}
		out = append(out, t)
	}
	return starlark.NewList(out), nil
}

// sub(pattern, repl, string) replaces every match; repl may use $1 or ${name}.
func reSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, repl, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s); err != nil {
		return nil, err
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(re.ReplaceAllString(s, repl)), nil
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPattern(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return ToValue(re.Split(s, -1)), nil
}
