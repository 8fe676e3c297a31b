package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequestContext(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		check       func(t *testing.T, r *http.Request)
	}{
		{
			name:        "urlencoded",
			contentType: "application/x-www-form-urlencoded",
			body:        "a=1&a=2&b=x",
			check: func(t *testing.T, r *http.Request) {
				req, _ := newRequestContext(r)
				if got := req.Form["a"]; len(got) != 2 || got[1] != "2" {
					t.Errorf("Form[a] = %v", got)
				}
			},
		},
		{
			name:        "json keeps numbers exact",
			contentType: "application/vnd.api+json",
			body:        `{"id": 12345678901234567890}`,
			check: func(t *testing.T, r *http.Request) {
				req, _ := newRequestContext(r)
				m, ok := req.JSON.(map[string]any)
				if !ok {
					t.Fatalf("JSON = %#v", req.JSON)
				}
				if n, ok := m["id"].(json.Number); !ok || n.String() != "12345678901234567890" {
					t.Errorf("id = %#v", m["id"])
				}
			},
		},
		{
			name:        "bad json",
			contentType: "application/json",
			body:        `{"id": `,
			check: func(t *testing.T, r *http.Request) {
				if req, _ := newRequestContext(r); req.JSON != nil || string(req.Body) != `{"id": ` {
					t.Errorf("JSON = %#v, Body = %q", req.JSON, req.Body)
				}
			},
		},
		{
			name:        "body is still readable",
			contentType: "text/plain",
			body:        "raw text",
			check: func(t *testing.T, r *http.Request) {
				newRequestContext(r)
				data, _ := io.ReadAll(r.Body)
				if string(data) != "raw text" {
					t.Errorf("r.Body after parsing = %q", data)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/p.pys?q=1", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			tt.check(t, r)
		})
	}
}

func TestNewRequestContextWithoutBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/p.pys?q=1&q=2", nil)
	req, _ := newRequestContext(r)
	if req.Method != "GET" || len(req.Query["q"]) != 2 || req.Body != nil {
		t.Errorf("request = %+v", req)
	}
}

func TestNewRequestContextBodyLimit(t *testing.T) {
	defer func(n int64) { maxBodySize = n }(maxBodySize)
	maxBodySize = 8

	r := httptest.NewRequest(http.MethodPost, "/p.pys", strings.NewReader("12345678"))
	if req, err := newRequestContext(r); err != nil || string(req.Body) != "12345678" {
		t.Errorf("body at the limit: req = %+v, err = %v", req, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/p.pys", strings.NewReader("123456789"))
	if _, err := newRequestContext(r); !errors.Is(err, errBodyTooLarge) {
		t.Errorf("err = %v, want errBodyTooLarge", err)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	defer func(n int64) { maxBodySize = n }(maxBodySize)
	maxBodySize = 8

	srv, _ := testSite(t, map[string]string{"p.pys": "<python>echo(len(get_data()))</python>"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/p.pys", strings.NewReader(strings.Repeat("x", 64)))
	if rec := do(t, srv, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/p.pys", strings.NewReader("xxxx"))
	if rec := do(t, srv, req); rec.Code != http.StatusOK || rec.Body.String() != "4" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
