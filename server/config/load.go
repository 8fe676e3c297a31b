package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a file with ENV interpolation.
// If configPath is empty, it searches default locations and falls back to
// the built-in defaults when no file exists.
func Load(configPath string, getenv func(string) string) (*Config, error) {
	cfg, _, err := LoadWithPath(configPath, getenv)
	return cfg, err
}

// LoadWithPath reads configuration and returns both the config and the resolved path.
// The path is empty when the built-in defaults are used.
func LoadWithPath(configPath string, getenv func(string) string) (*Config, string, error) {
	path, err := resolveConfigPath(configPath, getenv)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		cfg := Defaults()
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
		resolvePaths(cfg, wd)
		if err := validateBasic(cfg); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	// Get absolute path and directory for resolving relative paths
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	// Interpolate environment variables
	data = interpolateEnv(data, getenv)

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validateBasic(cfg); err != nil {
		return nil, "", err
	}

	return cfg, absPath, nil
}

// Parse decodes YAML over the defaults without resolving paths or validating.
// mime_types entries are merged into the default table.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	mimeTypes := cfg.Files.MIMETypes
	cfg.Files.MIMETypes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for ext, t := range cfg.Files.MIMETypes {
		mimeTypes[strings.ToLower(strings.TrimPrefix(ext, "."))] = t
	}
	cfg.Files.MIMETypes = mimeTypes

	f := &cfg.Files
	normalizeExtensions(&f.HTML, &f.Image, &f.Video, &f.Audio, &f.Font, &f.Download)
	return cfg, nil
}

// resolvePaths makes relative paths absolute against baseDir.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.BaseDir = baseDir

	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	abs(&cfg.WWWRoot)
	abs(&cfg.Script.Extension)
	abs(&cfg.Script.UploadRoot)
	abs(&cfg.Logging.Dir)
	// A bare command name is looked up on PATH by the CGI bridge.
	if strings.ContainsRune(cfg.PHP.CGIPath, '/') || strings.ContainsRune(cfg.PHP.CGIPath, filepath.Separator) {
		abs(&cfg.PHP.CGIPath)
	}

	for name, db := range cfg.Databases {
		if !isSQLite(db.Driver) {
			continue
		}
		dsn := db.DSN.Value()
		if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
			continue
		}
		db.DSN = SecretString{value: filepath.Join(baseDir, dsn), isSecret: db.DSN.IsSecret()}
		cfg.Databases[name] = db
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return true
	}
	return false
}

// Validate performs full configuration validation.
// Call this after applying CLI overrides (like --port).
func Validate(cfg *Config) error {
	return validateBasic(cfg)
}

// Warnings returns non-fatal configuration issues that should be reported to the user.
// These are problems that won't prevent the server from starting but likely indicate
// a misconfiguration.
func Warnings(cfg *Config) []string {
	var warnings []string

	if info, err := os.Stat(cfg.WWWRoot); err != nil || !info.IsDir() {
		warnings = append(warnings, fmt.Sprintf("www_root %s is not a directory - every request will return 404", cfg.WWWRoot))
	}

	if cfg.Files.HTML.Contains("php") || cfg.Files.HTML.Contains("pp") {
		if _, err := os.Stat(cfg.PHP.CGIPath); err != nil && filepath.IsAbs(cfg.PHP.CGIPath) {
			warnings = append(warnings, fmt.Sprintf("php.cgi_path %s not found - .php and .pp pages will fail", cfg.PHP.CGIPath))
		}
	}

	if cfg.Script.UploadRoot == "" {
		warnings = append(warnings, "script.upload_root not set - save_file and get_file are unavailable")
	}

	for name, db := range cfg.Databases {
		if db.DSN.Value() != "" && !db.DSN.IsSecret() && !isSQLite(db.Driver) {
			warnings = append(warnings, fmt.Sprintf("databases.%s: dsn is not marked !secret", name))
		}
	}

	return warnings
}

// resolveConfigPath finds the config file to use.
// Search order: explicit path > PYSERVE_CONFIG env > ./pyserve.yaml > ~/.config/pyserve/pyserve.yaml.
// An empty result means no file was found.
func resolveConfigPath(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	// Try PYSERVE_CONFIG environment variable
	if envPath := getenv("PYSERVE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("PYSERVE_CONFIG file not found: %s", envPath)
		}
		return envPath, nil
	}

	// Try ./pyserve.yaml
	if _, err := os.Stat("pyserve.yaml"); err == nil {
		return "pyserve.yaml", nil
	}

	// Try ~/.config/pyserve/pyserve.yaml
	home, err := os.UserHomeDir()
	if err == nil {
		xdgPath := filepath.Join(home, ".config", "pyserve", "pyserve.yaml")
		if _, err := os.Stat(xdgPath); err == nil {
			return xdgPath, nil
		}
	}

	return "", nil
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := string(parts[1])
		value := getenv(varName)

		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}

		return []byte(value)
	})
}

// validateBasic checks the configuration for errors.
func validateBasic(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port: %d (must be 1-65535)", cfg.Server.Port))
	}

	if cfg.WWWRoot == "" {
		errs = append(errs, "www_root is required")
	}

	if _, err := htmlindex.Get(cfg.Encoding); err != nil {
		errs = append(errs, fmt.Sprintf("unknown encoding: %s", cfg.Encoding))
	}

	// Size validation
	threshold, err := ParseSize(cfg.Files.LargeFileThreshold)
	if err != nil {
		errs = append(errs, fmt.Sprintf("files.large_file_threshold: %v", err))
	} else if threshold <= 0 {
		errs = append(errs, "files.large_file_threshold must be greater than zero")
	}
	chunk, err := ParseSize(cfg.Files.ChunkSize)
	if err != nil {
		errs = append(errs, fmt.Sprintf("files.chunk_size: %v", err))
	} else if chunk <= 0 {
		errs = append(errs, "files.chunk_size must be greater than zero")
	}

	if len(cfg.Files.HTML) == 0 {
		errs = append(errs, "files.html must list at least one extension")
	}

	// Database validation
	for name, db := range cfg.Databases {
		switch strings.ToLower(db.Driver) {
		case "", "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("databases.%s: unknown driver %q (must be sqlite, postgres, or mysql)", name, db.Driver))
		}
		if db.DSN.Value() == "" {
			errs = append(errs, fmt.Sprintf("databases.%s: dsn is required", name))
		}
	}

	if cfg.PHP.Timeout < 0 {
		errs = append(errs, "php.timeout cannot be negative")
	}

	// Compression validation
	validCompression := map[string]bool{"": true, "none": true, "fastest": true, "default": true, "best": true}
	if !validCompression[cfg.Compression.Level] {
		errs = append(errs, fmt.Sprintf("invalid compression level: %s (must be none, fastest, default, or best)", cfg.Compression.Level))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be json or text)", cfg.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ParseSize parses a size string like "10MB", "1GB", "500KB" to bytes.
// Supports: B, KB, MB, GB (case insensitive).
// Returns 0 for empty string.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	s = strings.TrimSpace(strings.ToUpper(s))

	// Check suffixes in order of length (longest first) to avoid "B" matching before "MB"
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSuffix(s, sf.suffix)
			numStr = strings.TrimSpace(numStr)
			var num int64
			if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			return num * sf.mult, nil
		}
	}

	// Try parsing as plain number (bytes)
	var num int64
	if _, err := fmt.Sscanf(s, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid size format: %s (use B, KB, MB, or GB suffix)", s)
	}
	return num, nil
}
