package script

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Request is the per-request view that helper functions read from. The HTTP
// layer fills it in once per request; the renderer never mutates it.
type Request struct {
	Method     string
	URL        *url.URL
	Host       string
	Header     http.Header
	Query      url.Values
	Form       url.Values
	JSON       any // decoded JSON body, nil when absent or invalid
	Body       []byte
	Files      map[string]*Upload
	RemoteAddr string
	TLS        bool
}

// Upload is a file received in a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// emptyRequest is used when a document is rendered outside of HTTP.
var emptyRequest = &Request{
	Method: http.MethodGet,
	URL:    &url.URL{Path: "/"},
	Header: http.Header{},
}

func (r *Request) header(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

func (r *Request) url() *url.URL {
	if r.URL == nil {
		return &url.URL{Path: "/"}
	}
	return r.URL
}

// Scheme returns "https" for TLS requests and requests forwarded by a
// TLS-terminating proxy, otherwise "http".
func (r *Request) Scheme() string {
	if r.TLS || strings.EqualFold(r.header("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

// FullURL returns the absolute request URL.
func (r *Request) FullURL() string {
	u := *r.url()
	u.Scheme = r.Scheme()
	if u.Host == "" {
		u.Host = r.Host
	}
	return u.String()
}

// HostURL returns the scheme and host with a trailing slash.
func (r *Request) HostURL() string {
	return r.Scheme() + "://" + r.host() + "/"
}

// BaseURL returns the absolute request URL without the query string.
func (r *Request) BaseURL() string {
	return r.Scheme() + "://" + r.host() + r.url().EscapedPath()
}

func (r *Request) host() string {
	if r.Host != "" {
		return r.Host
	}
	return r.url().Host
}

// MediaType returns the lower-cased media type of the body without
// parameters.
func (r *Request) MediaType() string {
	mediaType, _, _ := strings.Cut(r.header("Content-Type"), ";")
	return strings.TrimSpace(strings.ToLower(mediaType))
}

// AcceptLanguages returns the Accept-Language tags, most preferred first.
func (r *Request) AcceptLanguages() []string {
	tags, _, err := language.ParseAcceptLanguage(r.header("Accept-Language"))
	if err != nil {
		return nil
	}
	langs := make([]string, len(tags))
	for i, tag := range tags {
		langs[i] = tag.String()
	}
	return langs
}

// AcceptMIMETypes returns the Accept media ranges, most preferred first.
// Ranges with q=0 are left out.
func (r *Request) AcceptMIMETypes() []string {
	type accepted struct {
		mediaType string
		q         float64
	}
	var list []accepted
	for _, part := range strings.Split(r.header("Accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if q, err = strconv.ParseFloat(v, 64); err != nil {
				continue
			}
		}
		if q > 0 {
			list = append(list, accepted{mediaType, q})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].q > list[j].q })
	types := make([]string, len(list))
	for i, a := range list {
		types[i] = a.mediaType
	}
	return types
}

// IfModifiedSince returns the If-Modified-Since time, if it parses.
func (r *Request) IfModifiedSince() (time.Time, bool) {
	t, err := http.ParseTime(r.header("If-Modified-Since"))
	return t, err == nil
}

// ByteRange is one range of a Range header. End is exclusive; it is -1
// when the range runs to the end of the resource. A suffix range has a
// negative Start and End -1.
type ByteRange struct {
	Start, End int64
}

// Ranges parses a "bytes=" Range header. It returns nil when the header
// is absent or malformed.
func (r *Request) Ranges() []ByteRange {
	spec, ok := strings.CutPrefix(r.header("Range"), "bytes=")
	if !ok {
		return nil
	}
	var ranges []ByteRange
	for _, part := range strings.Split(spec, ",") {
		first, last, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil
		}
		switch {
		case first == "":
			n, err := strconv.ParseInt(last, 10, 64)
			if err != nil || n <= 0 {
				return nil
			}
			ranges = append(ranges, ByteRange{Start: -n, End: -1})
		case last == "":
			start, err := strconv.ParseInt(first, 10, 64)
			if err != nil || start < 0 {
				return nil
			}
			ranges = append(ranges, ByteRange{Start: start, End: -1})
		default:
			start, err1 := strconv.ParseInt(first, 10, 64)
			end, err2 := strconv.ParseInt(last, 10, 64)
			if err1 != nil || err2 != nil || start < 0 || end < start {
				return nil
			}
			ranges = append(ranges, ByteRange{Start: start, End: end + 1})
		}
	}
	return ranges
}

// FullPath returns the path and query string. The "?" is present even when
// the query is empty.
func (r *Request) FullPath() string {
	u := r.url()
	return u.Path + "?" + u.RawQuery
}

// ClientAddr returns the best guess at the client address: a CDN-supplied
// header first, then the first X-Forwarded-For entry, then X-Real-IP, then
// the host part of the connection address.
func (r *Request) ClientAddr() string {
	if ip := strings.TrimSpace(r.header("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.header("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsJSON reports whether the body was sent as JSON.
func (r *Request) IsJSON() bool {
	mediaType := r.MediaType()
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Cookies parses the Cookie header.
func (r *Request) Cookies() []*http.Cookie {
	return (&http.Request{Header: r.Header}).Cookies()
}

// BasicAuth returns the credentials of an Authorization: Basic header.
func (r *Request) BasicAuth() (user, password string, ok bool) {
	return (&http.Request{Header: r.Header}).BasicAuth()
}

// BearerToken returns the token of an Authorization: Bearer header.
func (r *Request) BearerToken() (string, bool) {
	auth := r.header("Authorization")
	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
