package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/pyserve/pyserve/pkg/script"
)

// maxBodySize bounds the request body read for scripts and CGI programs.
var maxBodySize int64 = 32 << 20

// maxMemory is the multipart size kept in memory; the rest goes to temp files.
const maxMemory = 32 << 20

var errBodyTooLarge = errors.New("request body too large")

// bufferBody reads the whole body of r and replaces r.Body with a reader
// over the copy, so it can be read again. Bodies over maxBodySize are
// rejected rather than cut short.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return nil, err
	}
	if int64(len(body)) > maxBodySize {
		r.Body = http.NoBody
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// newRequestContext builds the script view of r. The body is buffered, so
// the request can still be handed to a CGI program afterwards.
func newRequestContext(r *http.Request) (*script.Request, error) {
	req := &script.Request{
		Method:     r.Method,
		URL:        r.URL,
		Host:       r.Host,
		Header:     r.Header,
		Query:      r.URL.Query(),
		Form:       url.Values{},
		RemoteAddr: r.RemoteAddr,
		TLS:        r.TLS != nil,
	}

	body, err := bufferBody(r)
	if errors.Is(err, errBodyTooLarge) {
		return nil, err
	}
	if err != nil || body == nil {
		return req, nil
	}
	req.Body = body
	defer func() { r.Body = io.NopCloser(bytes.NewReader(body)) }()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		parseMultipart(r, req)
	case mediaType == "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(body)); err == nil {
			req.Form = form
		}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		req.JSON = parseJSON(body)
	}
	return req, nil
}

// parseMultipart fills the form values and uploads of a multipart body.
// Only the first file of each field is kept.
func parseMultipart(r *http.Request, req *script.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil || r.MultipartForm == nil {
		return
	}
	defer r.MultipartForm.RemoveAll()

	for k, v := range r.MultipartForm.Value {
		req.Form[k] = v
	}
	for k, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		upload, err := readUpload(headers[0])
		if err != nil {
			continue
		}
		if req.Files == nil {
			req.Files = make(map[string]*script.Upload)
		}
		req.Files[k] = upload
	}
}

func readUpload(fh *multipart.FileHeader) (*script.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &script.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// parseJSON decodes body keeping numbers exact. Invalid JSON yields nil.
func parseJSON(body []byte) any {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
