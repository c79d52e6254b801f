// Package config loads service settings from the environment and an optional
// dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Generation struct {
	Provider       string
	GeminiKey      string
	GeminiKeyParam string
	GeminiModel    string
	GeminiBaseURL  string
	DezgoKey       string
	DezgoKeyParam  string
	DezgoModel     string
	Timeout        time.Duration
	Retries        int
}

type Storage struct {
	Provider         string
	Endpoint         string
	Bucket           string
	AccessKey        string
	SecretKey        string
	Region           string
	UseHTTPS         bool
	AutoCreateBucket bool
	PublicBaseURL    string
	LocalDir         string
	UploadTimeout    time.Duration
	Distribution     string
}

type Config struct {
	Port       string
	Debug      bool
	Generation Generation
	Storage    Storage
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"DEBUG":                 false,
	"GENERATION_PROVIDER":   "gemini",
	"GEMINI_MODEL":          "gemini-2.0-flash-preview-image-generation",
	"GEMINI_BASE_URL":       "https://generativelanguage.googleapis.com",
	"DEZGO_MODEL":           "",
	"GENERATE_TIMEOUT":      "0s",
	"GENERATE_RETRIES":      0,
	"STORAGE_PROVIDER":      "minio",
	"OBJECT_STORAGE_REGION": "us-east-1",
	"USE_HTTPS":             true,
	"AUTO_CREATE_BUCKET":    true,
	"LOCAL_STORAGE_DIR":     "./data",
	"UPLOAD_TIMEOUT":        "0s",
}

// keys without defaults still need binding so AutomaticEnv sees them.
var bound = []string{
	"GEMINI_API_KEY", "GEMINI_API_KEY_PARAM", "DEZGO_KEY", "DEZGO_KEY_PARAM",
	"OBJECT_STORAGE_ENDPOINT", "OBJECT_STORAGE_BUCKET", "OBJECT_STORAGE_ACCESS_KEY",
	"OBJECT_STORAGE_SECRET_KEY", "PUBLIC_BASE_URL", "DISTRIBUTION",
}

// Load reads the environment, layered over ENV_FILE (default ".env") when
// that file exists.
func Load() (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range bound {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:  v.GetString("PORT"),
		Debug: v.GetBool("DEBUG"),
		Generation: Generation{
			Provider:       strings.ToLower(v.GetString("GENERATION_PROVIDER")),
			GeminiKey:      v.GetString("GEMINI_API_KEY"),
			GeminiKeyParam: v.GetString("GEMINI_API_KEY_PARAM"),
			GeminiModel:    v.GetString("GEMINI_MODEL"),
			GeminiBaseURL:  v.GetString("GEMINI_BASE_URL"),
			DezgoKey:       v.GetString("DEZGO_KEY"),
			DezgoKeyParam:  v.GetString("DEZGO_KEY_PARAM"),
			DezgoModel:     v.GetString("DEZGO_MODEL"),
			Timeout:        v.GetDuration("GENERATE_TIMEOUT"),
			Retries:        v.GetInt("GENERATE_RETRIES"),
		},
		Storage: Storage{
			Provider:         strings.ToLower(v.GetString("STORAGE_PROVIDER")),
			Endpoint:         v.GetString("OBJECT_STORAGE_ENDPOINT"),
			Bucket:           v.GetString("OBJECT_STORAGE_BUCKET"),
			AccessKey:        v.GetString("OBJECT_STORAGE_ACCESS_KEY"),
			SecretKey:        v.GetString("OBJECT_STORAGE_SECRET_KEY"),
			Region:           v.GetString("OBJECT_STORAGE_REGION"),
			UseHTTPS:         v.GetBool("USE_HTTPS"),
			AutoCreateBucket: v.GetBool("AUTO_CREATE_BUCKET"),
			PublicBaseURL:    v.GetString("PUBLIC_BASE_URL"),
			LocalDir:         v.GetString("LOCAL_STORAGE_DIR"),
			UploadTimeout:    v.GetDuration("UPLOAD_TIMEOUT"),
			Distribution:     v.GetString("DISTRIBUTION"),
		},
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Generation.Provider {
	case "gemini":
		if c.Generation.GeminiKey == "" && c.Generation.GeminiKeyParam == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY or GEMINI_API_KEY_PARAM is required"))
		}
	case "dezgo":
		if c.Generation.DezgoKey == "" && c.Generation.DezgoKeyParam == "" {
			errs = append(errs, errors.New("DEZGO_KEY or DEZGO_KEY_PARAM is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported GENERATION_PROVIDER %q", c.Generation.Provider))
	}
	if c.Generation.Retries < 0 {
		errs = append(errs, errors.New("GENERATE_RETRIES must not be negative"))
	}

	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("OBJECT_STORAGE_BUCKET is required"))
	}
	switch c.Storage.Provider {
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			errs = append(errs, errors.New("OBJECT_STORAGE_ENDPOINT, OBJECT_STORAGE_ACCESS_KEY and OBJECT_STORAGE_SECRET_KEY are required for minio"))
		}
	case "s3":
	case "filesystem", "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR is required for filesystem storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_PROVIDER %q", c.Storage.Provider))
	}

	return errors.Join(errs...)
}

// StorageBaseURL is the prefix of direct object URLs.
func (s Storage) StorageBaseURL() string {
	if s.PublicBaseURL != "" {
		return strings.TrimRight(s.PublicBaseURL, "/")
	}
	if s.Endpoint == "" {
		return fmt.Sprintf("https://s3.%s.amazonaws.com", s.Region)
	}
	return s.EndpointURL()
}

// EndpointURL is the object store endpoint with a scheme, or "" for AWS.
func (s Storage) EndpointURL() string {
	if s.Endpoint == "" {
		return ""
	}
	if strings.Contains(s.Endpoint, "://") {
		return strings.TrimRight(s.Endpoint, "/")
	}
	scheme := "http"
	if s.UseHTTPS {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(s.Endpoint, "/")
}
