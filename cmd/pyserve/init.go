package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const initConfig = `# PyServe configuration. Paths are relative to this file.
server:
  host: ""
  port: ${PORT:-8000}

www_root: ./WWW
encoding: utf-8
error_dir: /error
dir_listing: false

script:
  extension: ./config/function.star
  upload_root: ./uploads
  disabled_functions: []

# databases:
#   main:
#     driver: sqlite
#     dsn: ./db/site.db

php:
  cgi_path: ./PHP/php-cgi
  timeout: 10s

logging:
  level: info
  format: text
  dir: ./log
`

const initIndex = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>PyServe</title></head>
<body>
<h1><python>echo(greeting(get("name", "world")))</python></h1>
<p>Served at <python>echo(datetime.format(datetime.now(), "15:04"))</python>.</p>
</body>
</html>
`

const initExtension = `# Functions defined here are available on every page.

def greeting(name):
    return "Hello, %s!" % html.escape(name)
`

const init404 = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Not Found</title></head>
<body><h1>404</h1><p>That page does not exist.</p></body>
</html>
`

const initGitignore = `log/
uploads/
db/
*.db
`

// runInitCommand lays out a new site in folder. It refuses to touch a
// folder that already has content.
func runInitCommand(folder string, stdout, stderr io.Writer) error {
	if entries, err := os.ReadDir(folder); err == nil && len(entries) > 0 {
		return fmt.Errorf("%s already exists and is not empty", folder)
	}

	files := []struct {
		path    string
		content string
	}{
		{"pyserve.yaml", initConfig},
		{".gitignore", initGitignore},
		{"WWW/index.pys", initIndex},
		{"WWW/error/404.html", init404},
		{"config/function.star", initExtension},
	}
	for _, dir := range []string{"log", "uploads", "PHP"} {
		if err := os.MkdirAll(filepath.Join(folder, dir), 0o755); err != nil {
			return err
		}
	}
	for _, f := range files {
		path := filepath.Join(folder, filepath.FromSlash(f.path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := atomic.WriteFile(path, strings.NewReader(f.content)); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
	}

	fmt.Fprintf(stdout, "Created PyServe site in %s\n\n", folder)
	fmt.Fprintf(stdout, "  cd %s\n  pyserve --dev\n", folder)
	return nil
}
