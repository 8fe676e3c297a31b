package server

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const listingHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Index of %s</title>
    <style>
        body { font-family: sans-serif; line-height: 1.5; }
        ul { list-style-type: none; padding-left: 20px; }
        a { text-decoration: none; color: #0366d6; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1>Index of %s</h1>
    <ul>
`

// serveListing writes an HTML index of dir. Directories sort with files,
// by name, and carry a trailing slash.
func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.serveError(w, r, http.StatusForbidden)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	urlPath := r.URL.Path
	if !strings.HasSuffix(urlPath, "/") {
		urlPath += "/"
	}
	title := html.EscapeString(urlPath)

	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(listingHead, "%s", title))
	if urlPath != "/" {
		sb.WriteString("        <li><a href=\"../\">Parent Directory</a></li>\n")
	}
	for _, e := range entries {
		name := e.Name()
		href := path.Join(urlPath, (&url.URL{Path: name}).EscapedPath())
		if e.IsDir() {
			href += "/"
			name += "/"
		}
		sb.WriteString("        <li><a href=\"")
		sb.WriteString(html.EscapeString(href))
		sb.WriteString("\">")
		sb.WriteString(html.EscapeString(name))
		sb.WriteString("</a></li>\n")
	}
	sb.WriteString("    </ul>\n</body>\n</html>\n")

	writeHTML(w, r, http.StatusOK, sb.String())
}
