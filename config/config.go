// Package config loads wikiexport settings.
//
// Values are layered: built-in defaults, an optional YAML file, a .env file
// in the working directory, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL  = "http://127.0.0.1:8000"
	DefaultTimeout = 30 * time.Second
	DefaultSaveDir = "/tmp/wikiexports"
)

type Config struct {
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
	SaveDir string        `yaml:"save_dir"`
	// KeepExports prunes older exports after a run; 0 keeps everything.
	KeepExports int      `yaml:"keep_exports"`
	S3          S3Config `yaml:"s3"`
	LogFile     string   `yaml:"log_file"`
	Debug       bool     `yaml:"debug"`
	// OTLPEndpoint enables trace export over OTLP/HTTP when set.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	MinioEndpoint   string `yaml:"minio_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func Defaults() Config {
	return Config{
		APIURL:  DefaultAPIURL,
		Timeout: DefaultTimeout,
		SaveDir: DefaultSaveDir,
	}
}

// Load reads path (may be empty) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("unable to read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unable to parse config %q: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("unable to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("EXPORT_API_URL"); ok {
		cfg.APIURL = v
	}
	if v, ok := os.LookupEnv("EXPORT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EXPORT_TIMEOUT is not a valid duration: %w", err)
		}
		cfg.Timeout = d
	}
	if v, ok := os.LookupEnv("SAVE_DIR"); ok && v != "" {
		cfg.SaveDir = v
	}
	if v, ok := os.LookupEnv("KEEP_EXPORTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KEEP_EXPORTS is not a number: %w", err)
		}
		cfg.KeepExports = n
	}
	if v, ok := os.LookupEnv("UPLOAD_TO_S3"); ok {
		cfg.S3.Enabled = v == "true"
	}
	if v, ok := os.LookupEnv("S3_BUCKET_NAME"); ok {
		cfg.S3.Bucket = v
	}
	if v, ok := os.LookupEnv("AWS_REGION"); ok {
		cfg.S3.Region = v
	}
	if v, ok := os.LookupEnv("MINIO_ENDPOINT"); ok {
		cfg.S3.MinioEndpoint = v
	}
	if v, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
		cfg.S3.AccessKeyID = v
	}
	if v, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
		cfg.S3.SecretAccessKey = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.OTLPEndpoint = v
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Debug = v == "true" || v == "1"
	}
	return nil
}

func (c Config) Validate() error {
	u, err := url.ParseRequestURI(c.APIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api url %q is not a valid URL", c.APIURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.KeepExports < 0 {
		return fmt.Errorf("keep_exports must not be negative, got %d", c.KeepExports)
	}
	if c.OTLPEndpoint != "" {
		if u, err := url.ParseRequestURI(c.OTLPEndpoint); err != nil || u.Host == "" {
			return fmt.Errorf("otlp endpoint %q is not a valid URL", c.OTLPEndpoint)
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return errors.New("S3 upload is enabled but no bucket is set")
	}
	return nil
}

// MinioURL returns the MinIO endpoint with a scheme, defaulting to https.
func (s S3Config) MinioURL() string {
	endpoint := s.MinioEndpoint
	if endpoint == "" {
		return ""
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}
