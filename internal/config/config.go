// Package config provides file-based configuration for the upload client.
// The file format is chosen by extension: .yaml/.yml is YAML, anything else is XML.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/studylm/uploader/internal/upload"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"StudyLMUploader" yaml:"-"`

	// Local bridge server
	Server ServerConfig `xml:"Server" yaml:"server"`

	// StudyLM backend
	Backend BackendConfig `xml:"Backend" yaml:"backend"`

	// Client-side submission limits
	Upload UploadConfig `xml:"Upload" yaml:"upload"`

	// Readiness polling
	Polling PollingConfig `xml:"Polling" yaml:"polling"`

	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"body_limit"`
}

// BackendConfig points at the StudyLM API
type BackendConfig struct {
	BaseURL               string `xml:"BaseURL" yaml:"base_url"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds" yaml:"request_timeout_seconds"`
}

// UploadConfig mirrors the limits the backend enforces, so bad input fails before the network.
type UploadConfig struct {
	MaxUploadSize    string `xml:"MaxUploadSize" yaml:"max_upload_size"`
	MaxPDFPages      int    `xml:"MaxPDFPages" yaml:"max_pdf_pages"`
	MaxFilesPerBatch int    `xml:"MaxFilesPerBatch" yaml:"max_files_per_batch"`
	AllowedFileTypes string `xml:"AllowedFileTypes" yaml:"allowed_file_types"`
}

// PollingConfig controls the status polling loop
type PollingConfig struct {
	IntervalMs            int  `xml:"IntervalMs" yaml:"interval_ms"`
	MaxAttempts           int  `xml:"MaxAttempts" yaml:"max_attempts"`
	ReportExhausted       bool `xml:"ReportExhausted" yaml:"report_exhausted"`
	DisplayTimeoutSeconds int  `xml:"DisplayTimeoutSeconds" yaml:"display_timeout_seconds"`
}

type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel" yaml:"log_level"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging" yaml:"enable_request_logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "http://localhost:5173,http://127.0.0.1:5173",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "110M",
		},
		Backend: BackendConfig{
			BaseURL:               "http://localhost:8000",
			RequestTimeoutSeconds: 120,
		},
		Upload: UploadConfig{
			MaxUploadSize:    "20MiB",
			MaxPDFPages:      200,
			MaxFilesPerBatch: 5,
			AllowedFileTypes: ".pdf,.png,.jpg,.jpeg",
		},
		Polling: PollingConfig{
			IntervalMs:            2000,
			MaxAttempts:           60,
			ReportExhausted:       true,
			DisplayTimeoutSeconds: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from an XML or YAML file.
// A missing file is created with defaults. A .env file next to it is loaded
// into the environment before overrides are applied.
func LoadConfig(configPath string) (*AppConfig, error) {
	loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"))

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		if err := config.Validate(); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = xml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadDefaults returns the default configuration with a .env file from the
// working directory and environment overrides applied. Nothing is written to disk.
func LoadDefaults() (*AppConfig, error) {
	loadDotEnv(".env")

	config := DefaultConfig()
	config.applyEnvironmentOverrides()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration in the format implied by the file extension.
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# StudyLM uploader configuration\n# This file is auto-generated on first run\n\n"), out...)
	} else {
		out, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- StudyLM uploader configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, out...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Existing environment variables win over .env values.
	_ = godotenv.Load(path)
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if base := os.Getenv("STUDYLM_API_BASE"); base != "" {
		c.Backend.BaseURL = base
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Polling.IntervalMs = ms
		}
	}

	if v := os.Getenv("POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Polling.MaxAttempts = n
		}
	}

	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		c.Upload.MaxUploadSize = v
	}
}

// Validate rejects values the tracker cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend base URL %q must be an absolute http(s) URL", c.Backend.BaseURL))
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Upload.MaxFilesPerBatch <= 0 {
		errs = append(errs, errors.New("max files per batch must be positive"))
	}
	if len(c.AllowedExtensions()) == 0 {
		errs = append(errs, errors.New("at least one allowed file type is required"))
	}
	if c.Polling.IntervalMs <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Polling.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poll max attempts must be positive"))
	}
	if c.Polling.DisplayTimeoutSeconds < 0 {
		errs = append(errs, errors.New("display timeout cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// MaxUploadBytes parses the human-readable upload limit ("20MiB", "20 MB").
func (c *AppConfig) MaxUploadBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Upload.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max upload size %q: %w", c.Upload.MaxUploadSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("max upload size must be positive")
	}
	return int64(n), nil
}

// AllowedExtensions returns the normalized allow-list, e.g. [".pdf", ".png"].
func (c *AppConfig) AllowedExtensions() []string {
	var exts []string
	for _, ext := range strings.Split(c.Upload.AllowedFileTypes, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}

func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMs) * time.Millisecond
}

func (c *AppConfig) DisplayTimeout() time.Duration {
	return time.Duration(c.Polling.DisplayTimeoutSeconds) * time.Second
}

func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// TrackerOptions converts the upload and polling sections into tracker options.
// Scheduler and Logger are left for the caller.
func (c *AppConfig) TrackerOptions() (upload.Options, error) {
	maxBytes, err := c.MaxUploadBytes()
	if err != nil {
		return upload.Options{}, err
	}
	return upload.Options{
		PollInterval:    c.PollInterval(),
		MaxAttempts:     c.Polling.MaxAttempts,
		ReportExhausted: c.Polling.ReportExhausted,
		DisplayTimeout:  c.DisplayTimeout(),
		Limits: upload.Limits{
			MaxFileSize:       maxBytes,
			MaxPDFPages:       c.Upload.MaxPDFPages,
			MaxBatch:          c.Upload.MaxFilesPerBatch,
			AllowedExtensions: c.AllowedExtensions(),
		},
	}, nil
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}
