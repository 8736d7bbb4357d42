package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imagevariants/internal/genai"
	"imagevariants/internal/imagefile"
)

const (
	defaultPort                 = 8080
	defaultDataDir              = "data"
	defaultLogLevel             = "info"
	defaultStrategy             = "concurrent"
	defaultMaxConcurrentBatches = 2
	defaultMaxUploadBytes       = 10 << 20
	defaultMaxPrompts           = 20
	defaultMaxRetainedBatches   = 100
	defaultBatchTTL             = time.Hour
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                 int           `yaml:"port"`
	DataDir              string        `yaml:"data_dir"`
	LogLevel             string        `yaml:"log_level"`
	DispatchStrategy     string        `yaml:"dispatch_strategy"`
	MaxConcurrentBatches int           `yaml:"max_concurrent_batches"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	MaxPrompts           int           `yaml:"max_prompts"`
	MaxRetainedBatches   int           `yaml:"max_retained_batches"`
	BatchTTL             time.Duration `yaml:"batch_ttl"`
	AllowedMIMETypes     []string      `yaml:"allowed_mime_types"`
	Gemini               Gemini        `yaml:"gemini"`
}

type Gemini struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		DataDir:              defaultDataDir,
		LogLevel:             defaultLogLevel,
		DispatchStrategy:     defaultStrategy,
		MaxConcurrentBatches: defaultMaxConcurrentBatches,
		MaxUploadBytes:       defaultMaxUploadBytes,
		MaxPrompts:           defaultMaxPrompts,
		MaxRetainedBatches:   defaultMaxRetainedBatches,
		BatchTTL:             defaultBatchTTL,
		AllowedMIMETypes:     slices.Clone(imagefile.DefaultAllowedTypes),
		Gemini: Gemini{
			Model:   genai.DefaultModel,
			BaseURL: genai.DefaultBaseURL,
			Timeout: genai.DefaultTimeout,
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are used. GEMINI_API_KEY, GEMINI_MODEL and
// GEMINI_BASE_URL override the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, normalize(&cfg)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.Gemini.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")); v != "" {
		cfg.Gemini.BaseURL = v
	}
}

func normalize(cfg *Config) error {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MaxPrompts <= 0 {
		cfg.MaxPrompts = defaultMaxPrompts
	}
	if cfg.MaxRetainedBatches <= 0 {
		cfg.MaxRetainedBatches = defaultMaxRetainedBatches
	}
	if cfg.BatchTTL < 0 {
		return fmt.Errorf("invalid batch_ttl: %s (must be >= 0)", cfg.BatchTTL)
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = genai.DefaultModel
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = genai.DefaultBaseURL
	}
	if cfg.Gemini.Timeout <= 0 {
		cfg.Gemini.Timeout = genai.DefaultTimeout
	}

	cfg.DispatchStrategy = strings.ToLower(strings.TrimSpace(cfg.DispatchStrategy))
	switch cfg.DispatchStrategy {
	case "":
		cfg.DispatchStrategy = defaultStrategy
	case "concurrent", "sequential":
	default:
		return fmt.Errorf("invalid dispatch_strategy: %q (want concurrent or sequential)", cfg.DispatchStrategy)
	}
	// values < 1 are not allowed
	if cfg.MaxConcurrentBatches < 1 {
		return fmt.Errorf("invalid max_concurrent_batches: %d (must be >= 1)", cfg.MaxConcurrentBatches)
	}
	cfg.AllowedMIMETypes = normalizeMIMETypes(cfg.AllowedMIMETypes)
	return nil
}

func normalizeMIMETypes(in []string) []string {
	if len(in) == 0 {
		return slices.Clone(imagefile.DefaultAllowedTypes)
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.Contains(t, "/") {
			t = "image/" + strings.TrimPrefix(t, ".")
		}
		if t == "image/jpg" {
			t = "image/jpeg"
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		normalized = append(normalized, t)
	}
	return normalized
}
