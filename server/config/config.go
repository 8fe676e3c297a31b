package config

import (
	"slices"
	"strings"
	"time"
)

// Config represents the complete PyServe configuration
type Config struct {
	BaseDir     string                    `yaml:"-"` // Directory containing config file, for resolving relative paths
	Server      ServerConfig              `yaml:"server"`
	WWWRoot     string                    `yaml:"www_root"`    // Document root (default: "./WWW")
	Encoding    string                    `yaml:"encoding"`    // Encoding of .pys documents and error pages (default: "utf-8")
	ErrorDir    string                    `yaml:"error_dir"`   // Error pages directory under www_root (default: "/error")
	DirListing  bool                      `yaml:"dir_listing"` // List directories without an index file
	Files       FilesConfig               `yaml:"files"`
	Script      ScriptConfig              `yaml:"script"`
	Databases   map[string]DatabaseConfig `yaml:"databases"` // Connections scripts open with sql.open(name)
	PHP         PHPConfig                 `yaml:"php"`
	Security    SecurityConfig            `yaml:"security"`
	Compression CompressionConfig         `yaml:"compression"`
	Dev         DevConfig                 `yaml:"dev"`
	Logging     LoggingConfig             `yaml:"logging"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Dev  bool   `yaml:"-"` // Set via CLI flag, not config
}

// FilesConfig controls how files are classified and sent.
type FilesConfig struct {
	LargeFileThreshold string            `yaml:"large_file_threshold"` // Files at least this big are streamed (default: "50MB")
	ChunkSize          string            `yaml:"chunk_size"`           // Streaming chunk size (default: "64KB")
	HTML               StringOrSlice     `yaml:"html"`                 // Page extensions, in index lookup order
	Image              StringOrSlice     `yaml:"image"`
	Video              StringOrSlice     `yaml:"video"`
	Audio              StringOrSlice     `yaml:"audio"`
	Font               StringOrSlice     `yaml:"font"`
	Download           StringOrSlice     `yaml:"download"`   // Sent with Content-Disposition: attachment
	MIMETypes          map[string]string `yaml:"mime_types"` // Extension (without dot) to MIME type; merged over the defaults
}

// File kinds returned by FilesConfig.Kind.
const (
	KindPage     = "page"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindFont     = "font"
	KindDownload = "download"
	KindOther    = "other"
)

// Kind classifies a lower-case extension (without the dot).
func (f FilesConfig) Kind(ext string) string {
	switch {
	case f.HTML.Contains(ext):
		return KindPage
	case f.Image.Contains(ext):
		return KindImage
	case f.Video.Contains(ext):
		return KindVideo
	case f.Audio.Contains(ext):
		return KindAudio
	case f.Font.Contains(ext):
		return KindFont
	case f.Download.Contains(ext):
		return KindDownload
	}
	return KindOther
}

// MIMEType returns the configured type for ext, falling back to
// "<kind>/<ext>" for media kinds and application/octet-stream otherwise.
func (f FilesConfig) MIMEType(ext string) string {
	if t, ok := f.MIMETypes[ext]; ok {
		return t
	}
	switch kind := f.Kind(ext); kind {
	case KindImage, KindVideo, KindAudio:
		return kind + "/" + ext
	}
	return "application/octet-stream"
}

// Sizes returns the parsed streaming threshold and chunk size.
// Values are checked by validation, so errors are not expected here.
func (f FilesConfig) Sizes() (threshold, chunk int64) {
	threshold, _ = ParseSize(f.LargeFileThreshold)
	chunk, _ = ParseSize(f.ChunkSize)
	return threshold, chunk
}

// ScriptConfig holds settings for <python> execution.
type ScriptConfig struct {
	DisabledFunctions StringOrSlice `yaml:"disabled_functions"` // Names replaced by a stub that raises
	EnabledLibraries  StringOrSlice `yaml:"enabled_libraries"`  // Modules bound into every script
	Extension         string        `yaml:"extension"`          // Starlark file whose functions scripts can call (default: "./config/function.star")
	UploadRoot        string        `yaml:"upload_root"`        // Directory for save_file/get_file (empty disables them)
}

// DatabaseConfig names a database connection.
type DatabaseConfig struct {
	Driver string       `yaml:"driver"` // sqlite, postgres or mysql (default: sqlite)
	DSN    SecretString `yaml:"dsn"`    // Use !secret to keep the value out of logs
}

// PHPConfig holds CGI bridge settings
type PHPConfig struct {
	CGIPath string        `yaml:"cgi_path"` // php-cgi executable (default: "./PHP/php-cgi")
	Timeout time.Duration `yaml:"timeout"`  // Maximum run time of one CGI request (default: 10s)
}

// SecurityConfig holds security header settings
type SecurityConfig struct {
	ContentTypeOptions string `yaml:"content_type_options"` // X-Content-Type-Options (default: "nosniff")
	FrameOptions       string `yaml:"frame_options"`        // X-Frame-Options (default: "SAMEORIGIN")
	ReferrerPolicy     string `yaml:"referrer_policy"`      // Referrer-Policy (default: "strict-origin-when-cross-origin")
	CSP                string `yaml:"csp"`                  // Content-Security-Policy
}

// CompressionConfig holds HTTP response compression settings
type CompressionConfig struct {
	Enabled bool   `yaml:"enabled"`  // Enable gzip compression (default: true)
	Level   string `yaml:"level"`    // Compression level: "fastest", "default", "best", "none" (default: "default")
	MinSize int    `yaml:"min_size"` // Minimum response size to compress in bytes (default: 1024)
}

// StringOrSlice supports YAML fields that can be either a string or a slice of strings
type StringOrSlice []string

// UnmarshalYAML implements yaml.Unmarshaler to handle both string and []string
func (s *StringOrSlice) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}

	var slice []string
	if err := unmarshal(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

// Contains checks if the slice contains the given string
func (s StringOrSlice) Contains(str string) bool {
	return slices.Contains(s, str)
}

// DevConfig holds settings only used when the --dev flag is enabled
type DevConfig struct {
	Cache bool `yaml:"cache"` // Keep the document cache in dev mode (default: false)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Dir    string `yaml:"dir"`    // Directory for daily request logs (empty disables them, default: "./log")
	Quiet  bool   `yaml:"quiet"`  // suppress request logs
}

// Defaults returns a Config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "",
			Port: 80,
		},
		WWWRoot:  "./WWW",
		Encoding: "utf-8",
		ErrorDir: "/error",
		Files: FilesConfig{
			LargeFileThreshold: "50MB",
			ChunkSize:          "64KB",
			HTML:               StringOrSlice{"html", "htm", "pys", "php", "pp"},
			Image:              StringOrSlice{"bmp", "gif", "jpg", "png", "jpeg", "webp", "svg", "ico", "tif", "tiff"},
			Video:              StringOrSlice{"mp4", "webm", "avi", "mov", "wmv", "flv", "mkv"},
			Audio:              StringOrSlice{"mp3", "wav", "ogg", "aac", "flac", "m4a"},
			Font:               StringOrSlice{"ttf", "otf", "woff", "woff2"},
			Download: StringOrSlice{
				"exe", "com", "zip", "rar", "7z", "iso", "jar", "pdf", "doc", "docx",
				"xls", "xlsx", "ppt", "pptx", "msi", "dmg", "pkg", "deb", "rpm",
			},
			MIMETypes: DefaultMIMETypes(),
		},
		Script: ScriptConfig{
			EnabledLibraries: StringOrSlice{
				"math", "datetime", "time", "random", "json", "re", "sqlite3", "sql",
				"hashlib", "base64", "html", "markdown", "locale",
			},
			Extension: "./config/function.star",
		},
		PHP: PHPConfig{
			CGIPath: "./PHP/php-cgi",
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			ContentTypeOptions: "nosniff",
			FrameOptions:       "SAMEORIGIN",
			ReferrerPolicy:     "strict-origin-when-cross-origin",
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   "default",
			MinSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "./log",
		},
	}
}

// DefaultMIMETypes returns the built-in extension to MIME type table.
func DefaultMIMETypes() map[string]string {
	return map[string]string{
		// Images
		"bmp":  "image/bmp",
		"gif":  "image/gif",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"webp": "image/webp",
		"svg":  "image/svg+xml",
		"ico":  "image/x-icon",
		"tif":  "image/tiff",
		"tiff": "image/tiff",

		// Video
		"mp4":  "video/mp4",
		"webm": "video/webm",
		"avi":  "video/x-msvideo",
		"mov":  "video/quicktime",
		"wmv":  "video/x-ms-wmv",
		"flv":  "video/x-flv",
		"mkv":  "video/x-matroska",

		// Audio
		"mp3":  "audio/mpeg",
		"wav":  "audio/wav",
		"ogg":  "audio/ogg",
		"aac":  "audio/aac",
		"flac": "audio/flac",
		"m4a":  "audio/mp4",

		// Fonts
		"ttf":   "font/ttf",
		"otf":   "font/otf",
		"woff":  "font/woff",
		"woff2": "font/woff2",

		// Documents
		"pdf":  "application/pdf",
		"doc":  "application/msword",
		"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"xls":  "application/vnd.ms-excel",
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"ppt":  "application/vnd.ms-powerpoint",
		"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",

		// Archives
		"zip": "application/zip",
		"rar": "application/x-rar-compressed",
		"7z":  "application/x-7z-compressed",

		// Other
		"json": "application/json",
		"xml":  "application/xml",
		"js":   "application/javascript",
		"css":  "text/css",
		"txt":  "text/plain",
		"csv":  "text/csv",
	}
}

// normalizeExtensions lower-cases extension lists and strips leading dots.
func normalizeExtensions(lists ...*StringOrSlice) {
	for _, l := range lists {
		for i, ext := range *l {
			(*l)[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		}
	}
}
