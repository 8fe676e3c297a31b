package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func noEnv(string) string { return "" }

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &stdout, &stderr, noEnv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "pyserve version ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestRunHelp(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), []string{arg}, &stdout, &stderr, noEnv); err != nil {
			t.Fatalf("%s: unexpected error: %v", arg, err)
		}
		out := stdout.String()
		for _, want := range []string{"pyserve - ", "--config", "--dev", "PYSERVE_CONFIG", "render"} {
			if !strings.Contains(out, want) {
				t.Errorf("%s: help missing %q", arg, want)
			}
		}
	}
}

func TestRunInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--invalid-flag"}, &stdout, &stderr, noEnv); err == nil {
		t.Error("expected error for invalid flag")
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Error("usage not printed on a bad flag")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"deploy"}, &stdout, &stderr, noEnv)
	if err == nil || !strings.Contains(err.Error(), "deploy") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunMissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, &stdout, &stderr, noEnv)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("err = %v, want a config loading error", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyserve.yaml")
	os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o644)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", path}, &stdout, &stderr, noEnv)
	if err == nil || !strings.Contains(err.Error(), "config validation") {
		t.Errorf("err = %v, want a validation error", err)
	}
}

func TestRunServerShutsDown(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "WWW"), 0o755)
	path := filepath.Join(dir, "pyserve.yaml")
	os.WriteFile(path, []byte("server:\n  host: 127.0.0.1\n  port: 0\nlogging:\n  dir: \"\"\n"), 0o644)

	// Port 0 fails validation, so override it from the flag.
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	var stdout, stderr bytes.Buffer
	go func() {
		errCh <- run(ctx, []string{"--config", path, "--port", "18931", "--quiet"}, &stdout, &stderr, noEnv)
	}()
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("run() error: %v", err)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.pys")
	os.WriteFile(page, []byte("<p><python>x = 6 * 7\necho(x)</python></p>"), 0o644)
	cfgPath := filepath.Join(dir, "pyserve.yaml")
	os.WriteFile(cfgPath, []byte("www_root: .\n"), 0o644)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"render", "--config", cfgPath, page}, &stdout, &stderr, noEnv); err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := stdout.String(); got != "<p>42</p>" {
		t.Errorf("render output = %q", got)
	}

	stdout.Reset()
	if err := run(context.Background(), []string{"render", "--config", cfgPath, "--segments", page}, &stdout, &stderr, noEnv); err != nil {
		t.Fatalf("render --segments: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(stdout.String()), "\n"); len(lines) < 3 {
		t.Errorf("segments output = %q", stdout.String())
	}

	if err := run(context.Background(), []string{"render"}, &stdout, &stderr, noEnv); err == nil {
		t.Error("render without a file should fail")
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	if err := runInitCommand(dir, &bytes.Buffer{}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"check", "--config", filepath.Join(dir, "pyserve.yaml")}, &stdout, &stderr, noEnv)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "[greeting]") || !strings.HasSuffix(out, "ok\n") {
		t.Errorf("check output = %q", out)
	}
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")
	var stdout bytes.Buffer
	if err := runInitCommand(dir, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("runInitCommand: %v", err)
	}
	for _, p := range []string{"pyserve.yaml", ".gitignore", "WWW/index.pys", "WWW/error/404.html", "config/function.star", "log", "uploads"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p))); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	if !strings.Contains(stdout.String(), "pyserve --dev") {
		t.Errorf("output = %q", stdout.String())
	}

	if err := runInitCommand(dir, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Error("init over an existing site should fail")
	}
}
