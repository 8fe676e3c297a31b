package script

import (
	"net/http"
	"strconv"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/pyserve/pyserve/pkg/script/modules"
)

// requestStrings are the zero-argument helpers that return one string
// property of the current request.
var requestStrings = map[string]func(*Request) string{
	"method":       func(r *Request) string { return r.Method },
	"host":         func(r *Request) string { return r.Host },
	"url":          (*Request).FullURL,
	"host_url":     (*Request).HostURL,
	"root_url":     (*Request).HostURL,
	"base_url":     (*Request).BaseURL,
	"path":         func(r *Request) string { return r.url().Path },
	"full_path":    (*Request).FullPath,
	"scheme":       (*Request).Scheme,
	"query_string": func(r *Request) string { return r.url().RawQuery },
	"user_agent":   func(r *Request) string { return r.header("User-Agent") },
	"referrer":     func(r *Request) string { return r.header("Referer") },
	"origin":       func(r *Request) string { return r.header("Origin") },
	"content_type": func(r *Request) string { return r.header("Content-Type") },
	"mimetype":     (*Request).MediaType,
	"remote_addr":  (*Request).ClientAddr,
}

func requestHelpers() starlark.StringDict {
	helpers := starlark.StringDict{
		"get":               starlark.NewBuiltin("get", lookup(func(r *Request) starlark.Value { return modules.ToValue(r.Query) })),
		"post":              starlark.NewBuiltin("post", lookup(func(r *Request) starlark.Value { return modules.ToValue(r.Form) })),
		"json":              starlark.NewBuiltin("json", lookup(func(r *Request) starlark.Value { return modules.ToValue(r.JSON) })),
		"headers":           starlark.NewBuiltin("headers", headers),
		"cookies":           starlark.NewBuiltin("cookies", lookup(cookieDict)),
		"files":             starlark.NewBuiltin("files", files),
		"content_length":    starlark.NewBuiltin("content_length", contentLength),
		"is_json":           starlark.NewBuiltin("is_json", predicate((*Request).IsJSON)),
		"is_secure":         starlark.NewBuiltin("is_secure", predicate(func(r *Request) bool { return r.Scheme() == "https" })),
		"get_data":          starlark.NewBuiltin("get_data", getData),
		"auth_basic":        starlark.NewBuiltin("auth_basic", authBasic),
		"auth_bearer":       starlark.NewBuiltin("auth_bearer", authBearer),
		"accept_languages":  starlark.NewBuiltin("accept_languages", stringList((*Request).AcceptLanguages)),
		"accept_mimetypes":  starlark.NewBuiltin("accept_mimetypes", stringList((*Request).AcceptMIMETypes)),
		"if_modified_since": starlark.NewBuiltin("if_modified_since", ifModifiedSince),
		"range_bytes":       starlark.NewBuiltin("range_bytes", rangeBytes),
	}
	for name, get := range requestStrings {
		get := get
		helpers[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.String(get(requestOf(thread))), nil
		})
	}
	return helpers
}

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// lookup returns a helper f(key=None, default=None): without a key it
// returns the whole collection, otherwise the entry or default.
func lookup(collection func(*Request) starlark.Value) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key, def starlark.Value = starlark.None, starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key?", &key, "default?", &def); err != nil {
			return nil, err
		}
		all := collection(requestOf(thread))
		if key == starlark.None {
			return all, nil
		}
		m, ok := all.(starlark.Mapping)
		if !ok {
			return def, nil
		}
		v, found, err := m.Get(key)
		if err != nil || !found {
			return def, nil
		}
		return v, nil
	}
}

// headers(key=None, default=None) returns all request headers as a dict,
// or the value of one header. Header names match case-insensitively.
func headers(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value = starlark.None
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key?", &key, "default?", &def); err != nil {
		return nil, err
	}
	r := requestOf(thread)
	if key == starlark.None {
		h := make(map[string]string, len(r.Header))
		for name := range r.Header {
			h[name] = r.Header.Get(name)
		}
		return modules.ToValue(h), nil
	}
	name, ok := starlark.AsString(key)
	if !ok {
		return nil, errorf(b, "key must be a string, not %s", key.Type())
	}
	if _, present := r.Header[http.CanonicalHeaderKey(name)]; !present {
		return def, nil
	}
	return starlark.String(r.header(name)), nil
}

func stringList(f func(*Request) []string) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		items := f(requestOf(thread))
		list := make([]starlark.Value, len(items))
		for i, s := range items {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	}
}

// if_modified_since returns the If-Modified-Since header as a time, or None.
func ifModifiedSince(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	t, ok := requestOf(thread).IfModifiedSince()
	if !ok {
		return starlark.None, nil
	}
	return startime.Time(t), nil
}

// range_bytes returns the Range header as a list of (start, end) tuples
// with end exclusive, or None. Open-ended ranges have end None.
func rangeBytes(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	ranges := requestOf(thread).Ranges()
	if ranges == nil {
		return starlark.None, nil
	}
	list := make([]starlark.Value, len(ranges))
	for i, rg := range ranges {
		var end starlark.Value = starlark.None
		if rg.End >= 0 {
			end = starlark.MakeInt64(rg.End)
		}
		list[i] = starlark.Tuple{starlark.MakeInt64(rg.Start), end}
	}
	return starlark.NewList(list), nil
}

func cookieDict(r *Request) starlark.Value {
	c := map[string]string{}
	for _, cookie := range r.Cookies() {
		if _, seen := c[cookie.Name]; !seen {
			c[cookie.Name] = cookie.Value
		}
	}
	return modules.ToValue(c)
}

func predicate(f func(*Request) bool) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		return starlark.Bool(f(requestOf(thread))), nil
	}
}

// files(key=None, default=None, max_size=0) returns the upload named key as
// a (data, filename) tuple. Uploads larger than max_size bytes are treated
// as missing. Without a key it returns a dict of field name to filename.
func files(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value = starlark.None
	def := starlark.Value(starlark.Tuple{starlark.None, starlark.None})
	var maxSize int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key?", &key, "default?", &def, "max_size?", &maxSize); err != nil {
		return nil, err
	}
	req := requestOf(thread)
	if key == starlark.None {
		names := make(map[string]string, len(req.Files))
		for field, up := range req.Files {
			names[field] = up.Filename
		}
		return modules.ToValue(names), nil
	}
	name, ok := starlark.AsString(key)
	if !ok {
		return nil, errorf(b, "key must be a string, not %s", key.Type())
	}
	up, ok := req.Files[name]
	if !ok || (maxSize > 0 && len(up.Data) > maxSize) {
		return def, nil
	}
	return starlark.Tuple{starlark.Bytes(up.Data), starlark.String(up.Filename)}, nil
}

// content_length returns the Content-Length header as an int, or None.
func contentLength(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(requestOf(thread).header("Content-Length"), 10, 64)
	if err != nil {
		return starlark.None, nil
	}
	return starlark.MakeInt64(n), nil
}

// get_data(as_text=False) returns the raw request body.
func getData(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var asText bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "as_text?", &asText); err != nil {
		return nil, err
	}
	body := requestOf(thread).Body
	if asText {
		return starlark.String(body), nil
	}
	return starlark.Bytes(body), nil
}

// auth_basic returns (user, password), or (None, None) without credentials.
func authBasic(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	user, password, ok := requestOf(thread).BasicAuth()
	if !ok {
		return starlark.Tuple{starlark.None, starlark.None}, nil
	}
	return starlark.Tuple{starlark.String(user), starlark.String(password)}, nil
}

// auth_bearer returns the bearer token, or None.
func authBearer(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	token, ok := requestOf(thread).BearerToken()
	if !ok {
		return starlark.None, nil
	}
	return starlark.String(token), nil
}
