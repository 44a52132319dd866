package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/crsm/internal/index"
	"github.com/schaermu/crsm/internal/objectstore"
	"github.com/schaermu/crsm/internal/thumbnail"
)

const (
	DefaultThumbnailOffset = 60 * time.Second
	DefaultConcurrency     = 4
)

// Config represents the complete crsm configuration
type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Index     IndexConfig     `yaml:"index"`
	S3        S3Config        `yaml:"s3"`
	Publish   PublishConfig   `yaml:"publish"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
}

// LibraryConfig locates the content repository
type LibraryConfig struct {
	Path string `yaml:"path"`
}

// IndexConfig configures the metadata index
type IndexConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// S3Config configures the publish target
type S3Config struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	PublicBaseURL string `yaml:"public_base_url"`
	UseSSL        *bool  `yaml:"use_ssl"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
}

// PublishConfig configures uploads
type PublishConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	GzipCatalog   bool          `yaml:"gzip_catalog"`
}

// ThumbnailConfig configures thumbnail extraction
type ThumbnailConfig struct {
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Offset     time.Duration `yaml:"offset"`
	Timeout    time.Duration `yaml:"timeout"`
	Format     string        `yaml:"format"`
}

// DefaultPath returns $XDG_CONFIG_HOME/crsm/config.yaml
func DefaultPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "crsm", "config.yaml")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// Load reads and parses the configuration file. When explicit is false a
// missing file yields the defaults.
func Load(path string, explicit bool) (*Config, error) {
	path = os.ExpandEnv(path)

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path and credential fields
func (c *Config) expandEnv() {
	c.Library.Path = os.ExpandEnv(c.Library.Path)
	c.Index.DSN = os.ExpandEnv(c.Index.DSN)
	c.S3.Endpoint = os.ExpandEnv(c.S3.Endpoint)
	c.S3.Bucket = os.ExpandEnv(c.S3.Bucket)
	c.S3.AccessKey = os.ExpandEnv(c.S3.AccessKey)
	c.S3.SecretKey = os.ExpandEnv(c.S3.SecretKey)
	c.Thumbnail.FFmpegPath = os.ExpandEnv(c.Thumbnail.FFmpegPath)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Library.Path == "" {
		c.Library.Path = filepath.Join(xdgDir("XDG_DATA_HOME", ".local/share"), "crsm")
	}
	if c.Index.Driver == "" {
		c.Index.Driver = index.DriverSQLite
	}
	if c.Index.DSN == "" && c.Index.Driver == index.DriverSQLite {
		c.Index.DSN = filepath.Join(xdgDir("XDG_STATE_HOME", ".local/state"), "crsm", "crsm.db")
	}
	if c.S3.Endpoint == "" {
		c.S3.Endpoint = objectstore.DefaultEndpoint
	}
	if c.S3.UseSSL == nil {
		ssl := true
		c.S3.UseSSL = &ssl
	}
	if c.Publish.Concurrency == 0 {
		c.Publish.Concurrency = DefaultConcurrency
	}
	if c.Thumbnail.FFmpegPath == "" {
		c.Thumbnail.FFmpegPath = "ffmpeg"
	}
	if c.Thumbnail.Offset == 0 {
		c.Thumbnail.Offset = DefaultThumbnailOffset
	}
	if c.Thumbnail.Format == "" {
		c.Thumbnail.Format = thumbnail.DefaultFormat
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.Library.Path) {
		return fmt.Errorf("library.path must be an absolute path: %s", c.Library.Path)
	}

	switch c.Index.Driver {
	case index.DriverSQLite:
		if !filepath.IsAbs(c.Index.DSN) {
			return fmt.Errorf("index.dsn must be an absolute path for the sqlite driver: %s", c.Index.DSN)
		}
	case index.DriverPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("index.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid index.driver: %s (must be sqlite or postgres)", c.Index.Driver)
	}

	if c.Publish.Concurrency < 1 {
		return fmt.Errorf("publish.concurrency must be at least 1")
	}
	if c.Publish.UploadTimeout < 0 {
		return fmt.Errorf("publish.upload_timeout must not be negative")
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("s3: access_key and secret_key must be set together")
	}

	if c.Thumbnail.Offset < 0 {
		return fmt.Errorf("thumbnail.offset must not be negative")
	}
	if c.Thumbnail.Timeout < 0 {
		return fmt.Errorf("thumbnail.timeout must not be negative")
	}
	switch c.Thumbnail.Format {
	case "png", "jpg":
	default:
		return fmt.Errorf("invalid thumbnail.format: %s (must be png or jpg)", c.Thumbnail.Format)
	}

	return nil
}

// ValidatePublish checks the settings a remote publish needs
func (c *Config) ValidatePublish() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.PublicBaseURL == "" {
		return fmt.Errorf("s3.public_base_url is required")
	}
	if !strings.HasPrefix(c.S3.PublicBaseURL, "http://") && !strings.HasPrefix(c.S3.PublicBaseURL, "https://") {
		return fmt.Errorf("s3.public_base_url must be an http(s) URL: %s", c.S3.PublicBaseURL)
	}
	return nil
}

// ObjectStore returns the S3 connection settings
func (c *Config) ObjectStore() objectstore.Config {
	return objectstore.Config{
		Endpoint:  c.S3.Endpoint,
		Region:    c.S3.Region,
		Bucket:    c.S3.Bucket,
		UseSSL:    c.S3.UseSSL == nil || *c.S3.UseSSL,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
	}
}

// Override keys understood by ApplyOverrides. Environment variables use the
// CRSM_ prefix with dots replaced by underscores (CRSM_S3_BUCKET).
const (
	KeyLibraryPath   = "library.path"
	KeyIndexDriver   = "index.driver"
	KeyIndexDSN      = "index.dsn"
	KeyS3Endpoint    = "s3.endpoint"
	KeyS3Region      = "s3.region"
	KeyS3Bucket      = "s3.bucket"
	KeyS3Prefix      = "s3.prefix"
	KeyPublicBaseURL = "s3.public_base_url"
	KeyS3UseSSL      = "s3.use_ssl"
	KeyS3AccessKey   = "s3.access_key"
	KeyS3SecretKey   = "s3.secret_key"
	KeyConcurrency   = "publish.concurrency"
	KeyUploadTimeout = "publish.upload_timeout"
	KeyGzipCatalog   = "publish.gzip_catalog"
	KeyFFmpegPath    = "thumbnail.ffmpeg_path"
	KeyThumbOffset   = "thumbnail.offset"
	KeyThumbTimeout  = "thumbnail.timeout"
	KeyThumbFormat   = "thumbnail.format"
)

// NewViper returns a viper instance reading CRSM_* environment variables
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("crsm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides layers values set in v (bound flags or environment) on top
// of the file configuration and validates the result. Overridden library and
// sqlite index paths are resolved against the working directory.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	strs := map[string]*string{
		KeyLibraryPath:   &c.Library.Path,
		KeyIndexDriver:   &c.Index.Driver,
		KeyIndexDSN:      &c.Index.DSN,
		KeyS3Endpoint:    &c.S3.Endpoint,
		KeyS3Region:      &c.S3.Region,
		KeyS3Bucket:      &c.S3.Bucket,
		KeyS3Prefix:      &c.S3.Prefix,
		KeyPublicBaseURL: &c.S3.PublicBaseURL,
		KeyS3AccessKey:   &c.S3.AccessKey,
		KeyS3SecretKey:   &c.S3.SecretKey,
		KeyFFmpegPath:    &c.Thumbnail.FFmpegPath,
		KeyThumbFormat:   &c.Thumbnail.Format,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	durations := map[string]*time.Duration{
		KeyUploadTimeout: &c.Publish.UploadTimeout,
		KeyThumbOffset:   &c.Thumbnail.Offset,
		KeyThumbTimeout:  &c.Thumbnail.Timeout,
	}
	for key, dst := range durations {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	if v.IsSet(KeyConcurrency) {
		c.Publish.Concurrency = v.GetInt(KeyConcurrency)
	}
	if v.IsSet(KeyGzipCatalog) {
		c.Publish.GzipCatalog = v.GetBool(KeyGzipCatalog)
	}
	if v.IsSet(KeyS3UseSSL) {
		ssl := v.GetBool(KeyS3UseSSL)
		c.S3.UseSSL = &ssl
	}

	if v.IsSet(KeyLibraryPath) {
		abs, err := filepath.Abs(c.Library.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve library path: %w", err)
		}
		c.Library.Path = abs
	}
	if v.IsSet(KeyIndexDSN) && c.Index.Driver == index.DriverSQLite {
		abs, err := filepath.Abs(c.Index.DSN)
		if err != nil {
			return fmt.Errorf("failed to resolve index path: %w", err)
		}
		c.Index.DSN = abs
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
