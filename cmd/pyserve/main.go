package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pyserve/pyserve/pkg/markup"
	"github.com/pyserve/pyserve/pkg/script"
	"github.com/pyserve/pyserve/pkg/script/repl"
	"github.com/pyserve/pyserve/server"
	"github.com/pyserve/pyserve/server/config"
)

// Version information, set at build time via -ldflags
var (
	Version = "dev"     // -X main.Version=$(git describe --tags --always)
	Commit  = "unknown" // -X main.Commit=$(git rev-parse --short HEAD)
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point, designed for testability (Mat Ryer pattern)
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	if len(args) > 0 {
		switch args[0] {
		case "render":
			return runRender(ctx, args[1:], stdout, stderr, getenv)
		case "check":
			return runCheck(args[1:], stdout, stderr, getenv)
		case "repl":
			return runREPL(ctx, args[1:], stdout, stderr, getenv)
		}
	}
	return runServer(ctx, args, stdout, stderr, getenv)
}

// runServer runs the PyServe web server
func runServer(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	flags := flag.NewFlagSet("pyserve", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var (
		configPath  = flags.String("config", "", "Path to config file")
		devMode     = flags.Bool("dev", false, "Development mode (localhost, live reload)")
		quietMode   = flags.Bool("quiet", false, "Suppress request logs")
		port        = flags.Int("port", 0, "Override listen port")
		initFolder  = flags.String("init", "", "Create a new PyServe site in the specified folder")
		showVersion = flags.Bool("version", false, "Show version")
		showHelp    = flags.Bool("help", false, "Show help")
	)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout)
			return nil
		}
		printUsage(stderr)
		return err
	}
	if flags.NArg() > 0 {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", flags.Arg(0))
	}

	if *showHelp {
		printUsage(stdout)
		return nil
	}
	if *showVersion {
		fmt.Fprintf(stdout, "pyserve version %s (%s)\n", Version, Commit)
		return nil
	}
	if *initFolder != "" {
		return runInitCommand(*initFolder, stdout, stderr)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configFile, err := config.LoadWithPath(*configPath, getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if *devMode {
		cfg.Server.Dev = true
	}
	if *quietMode {
		cfg.Logging.Quiet = true
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	for _, warning := range config.Warnings(cfg) {
		fmt.Fprintf(stderr, "warning: %s\n", warning)
	}

	srv, err := server.New(cfg, configFile, fmt.Sprintf("%s (%s)", Version, Commit), stdout, stderr)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// SIGHUP reloads the extension file and drops cached documents.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for range sighup {
			fmt.Fprintf(stdout, "Received SIGHUP - reloading extension functions...\n")
			if err := srv.Reload(); err != nil {
				fmt.Fprintf(stderr, "[ERROR] reload: %v\n", err)
			}
		}
	}()

	return srv.Run(ctx)
}

// runRender renders one document to stdout without a server, or lists its
// segments with --segments.
func runRender(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	flags := flag.NewFlagSet("render", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to config file")
	segments := flags.Bool("segments", false, "Print the extracted segments instead of rendering")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: pyserve render [--config PATH] [--segments] FILE")
	}

	cfg, _, err := config.LoadWithPath(*configPath, getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	text, err := server.ReadDocument(flags.Arg(0), cfg.Encoding)
	if err != nil {
		return err
	}

	if *segments {
		for _, seg := range markup.Extract(text) {
			fmt.Fprintln(stdout, seg)
		}
		return nil
	}

	reg, err := newRegistry(cfg, stdout, stderr)
	if err != nil {
		return err
	}
	segs := markup.Extract(text)
	fmt.Fprint(stdout, script.NewRenderer(reg).RenderSegments(ctx, flags.Arg(0), segs, nil))
	return nil
}

// runCheck validates the configuration and the extension file.
func runCheck(args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, configFile, err := config.LoadWithPath(*configPath, getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	for _, warning := range config.Warnings(cfg) {
		fmt.Fprintf(stderr, "warning: %s\n", warning)
	}
	reg, err := newRegistry(cfg, io.Discard, stderr)
	if err != nil {
		return err
	}

	if configFile == "" {
		configFile = "(defaults)"
	}
	fmt.Fprintf(stdout, "config:     %s\n", configFile)
	fmt.Fprintf(stdout, "www_root:   %s\n", cfg.WWWRoot)
	fmt.Fprintf(stdout, "extension:  %s %v\n", cfg.Script.Extension, reg.ExtensionNames())
	fmt.Fprintf(stdout, "ok\n")
	return nil
}

// runREPL starts an interactive session with the configured capabilities.
func runREPL(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	flags := flag.NewFlagSet("repl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to config file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, _, err := config.LoadWithPath(*configPath, getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	reg, err := newRegistry(cfg, stdout, stderr)
	if err != nil {
		return err
	}
	repl.Start(ctx, stdout, Version, reg)
	return nil
}

func newRegistry(cfg *config.Config, stdout, stderr io.Writer) (*script.Registry, error) {
	reg, err := script.NewRegistry(server.ScriptOptions(cfg, stdout, stderr))
	if err != nil {
		return nil, fmt.Errorf("loading scripts: %w", err)
	}
	return reg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `pyserve - a web server for pages with embedded <python> code

Usage:
  pyserve [options]
  pyserve render [--config PATH] [--segments] FILE
  pyserve check [--config PATH]
  pyserve repl [--config PATH]

Server Options:
  --config PATH      Path to config file (default: auto-detect)
  --dev              Development mode (localhost:8080, live reload, no caching)
  --quiet            Suppress request logs
  --port PORT        Override listen port
  --init FOLDER      Create a new PyServe site in the specified folder
  --version          Show version
  --help             Show this help

Commands:
  render             Render a document to stdout
  check              Validate the configuration and extension file
  repl               Interactive session with the page capabilities

Config Resolution:
  1. --config flag
  2. PYSERVE_CONFIG environment variable
  3. ./pyserve.yaml
  4. ~/.config/pyserve/pyserve.yaml

Signals:
  SIGHUP           Reload extension functions and drop cached documents
`)
}
