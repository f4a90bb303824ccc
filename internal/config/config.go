// Package config provides the configuration structure for the image-audio uploader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// EnvAPIBase overrides api.base_url when set.
const EnvAPIBase = "IMAGE_AUDIO_API_BASE"

// Default values.
const (
	DefaultDelaySeconds   = 5
	DefaultJobSubject     = "image.audio.requested"
	DefaultImageBucket    = "IMAGE_FILES"
	DefaultAudioBucket    = "AUDIO_FILES"
	DefaultListenAddr     = "127.0.0.1:8080"
	DefaultAudioOutputDir = "audio"
)

// ErrBaseURLEmpty indicates that neither a base URL nor both endpoint URLs are configured.
var ErrBaseURLEmpty = errors.New("api base_url cannot be empty")

// ErrDelayNegative indicates a negative poll delay.
var ErrDelayNegative = errors.New("poll delay_seconds must be non-negative")

// APIConfig holds the endpoints of the image-to-audio pipeline.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	UploadURL string `toml:"upload_url"`
	ResultURL string `toml:"result_url"`
}

// PollConfig holds the settings of the wait-then-fetch step.
type PollConfig struct {
	DelaySeconds int `toml:"delay_seconds"`
}

// ClientConfig holds HTTP client settings. A zero timeout means no timeout.
type ClientConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir    string `toml:"base_logs_dir"`
	AudioOutputDir string `toml:"audio_output_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL         string `toml:"url"`
	JobSubject  string `toml:"job_subject"`
	ImageBucket string `toml:"image_bucket"`
	AudioBucket string `toml:"audio_bucket"`
}

// WebConfig holds the configuration of the browser front end.
type WebConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Config is the root configuration structure.
type Config struct {
	API    APIConfig    `toml:"api"`
	Poll   PollConfig   `toml:"poll"`
	Client ClientConfig `toml:"client"`
	Paths  PathsConfig  `toml:"paths"`
	NATS   NATSConfig   `toml:"nats"`
	Web    WebConfig    `toml:"web"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a local TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data into a Config with defaults and env overrides applied.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	cfg.applyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if base := strings.TrimSpace(os.Getenv(EnvAPIBase)); base != "" {
		c.API.BaseURL = base
	}
}

func (c *Config) applyDefaults() {
	if c.Poll.DelaySeconds == 0 {
		c.Poll.DelaySeconds = DefaultDelaySeconds
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}

	if c.Paths.AudioOutputDir == "" {
		c.Paths.AudioOutputDir = DefaultAudioOutputDir
	}

	if c.NATS.JobSubject == "" {
		c.NATS.JobSubject = DefaultJobSubject
	}

	if c.NATS.ImageBucket == "" {
		c.NATS.ImageBucket = DefaultImageBucket
	}

	if c.NATS.AudioBucket == "" {
		c.NATS.AudioBucket = DefaultAudioBucket
	}

	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = DefaultListenAddr
	}
}

// Validate checks that the endpoints can be resolved and numeric values are sane.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" && (c.API.UploadURL == "" || c.API.ResultURL == "") {
		return ErrBaseURLEmpty
	}

	if c.Poll.DelaySeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrDelayNegative, c.Poll.DelaySeconds)
	}

	return nil
}

// UploadEndpoint returns the POST endpoint, falling back to the base URL.
func (c *Config) UploadEndpoint() string {
	if c.API.UploadURL != "" {
		return c.API.UploadURL
	}

	return c.API.BaseURL
}

// ResultEndpoint returns the GET endpoint, falling back to the base URL.
func (c *Config) ResultEndpoint() string {
	if c.API.ResultURL != "" {
		return c.API.ResultURL
	}

	return c.API.BaseURL
}

// PollDelay returns the fixed wait before the result lookup.
func (c *Config) PollDelay() time.Duration {
	return time.Duration(c.Poll.DelaySeconds) * time.Second
}

// ClientTimeout returns the HTTP timeout; zero disables it.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}
