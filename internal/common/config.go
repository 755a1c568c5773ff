package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Store     StoreConfig      `yaml:"store"`
	Images    ImageStoreConfig `yaml:"images"`
	Auth      AuthConfig       `yaml:"auth"`
	Providers ProvidersConfig  `yaml:"providers"`
	Queue     QueueConfig      `yaml:"queue"`
}

// ServerConfig holds HTTP/gRPC listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitEvery  time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StoreConfig selects and configures the EssayStore backend
type StoreConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite | memory
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ImageStoreConfig selects and configures where source images live
type ImageStoreConfig struct {
	Driver    string `yaml:"driver"` // minio | memory
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

// CallPolicy is the per-capability timeout/retry/throttle policy
type CallPolicy struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	MaxInFlight   int64         `yaml:"max_in_flight"`
}

type ProvidersConfig struct {
	Extract ExtractProviderConfig `yaml:"extract"`
	Analyze AnalyzeProviderConfig `yaml:"analyze"`
}

// ExtractProviderConfig configures image → text
type ExtractProviderConfig struct {
	Backend       string     `yaml:"backend"` // azure-vision | tesseract
	Endpoint      string     `yaml:"endpoint"`
	APIKey        string     `yaml:"api_key"`
	APIVersion    string     `yaml:"api_version"`
	Language      string     `yaml:"language"`
	MaxImageBytes int64      `yaml:"max_image_bytes"`
	Tesseract     string     `yaml:"tesseract"`
	TessdataDir   string     `yaml:"tessdata_dir"`
	Policy        CallPolicy `yaml:",inline"`
}

// AnalyzeProviderConfig configures text → corrections + rubric
type AnalyzeProviderConfig struct {
	Endpoint    string     `yaml:"endpoint"` // Azure resource origin; empty means api.openai.com
	APIKey      string     `yaml:"api_key"`
	Deployment  string     `yaml:"deployment"`
	APIVersion  string     `yaml:"api_version"`
	Temperature float32    `yaml:"temperature"`
	MaxTokens   int        `yaml:"max_tokens"`
	Policy      CallPolicy `yaml:",inline"`
}

type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	Size           int           `yaml:"size"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// DefaultConfig returns the configuration used when neither the file nor the
// environment set a value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    8 << 20,
			RateLimitEvery:  600 * time.Millisecond,
			RateLimitBurst:  20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Images: ImageStoreConfig{Driver: "minio", Bucket: "essays"},
		Providers: ProvidersConfig{
			Extract: ExtractProviderConfig{
				Backend:       "azure-vision",
				APIVersion:    "2024-05-01",
				Language:      "pt",
				MaxImageBytes: 5 << 20,
				Tesseract:     "tesseract",
				Policy: CallPolicy{
					Timeout:       30 * time.Second,
					MaxAttempts:   3,
					BaseDelay:     500 * time.Millisecond,
					MaxDelay:      8 * time.Second,
					RatePerSecond: 10,
					Burst:         5,
					MaxInFlight:   8,
				},
			},
			Analyze: AnalyzeProviderConfig{
				APIVersion:  "2024-08-01-preview",
				Temperature: 0.2,
				MaxTokens:   2048,
				Policy: CallPolicy{
					Timeout:       90 * time.Second,
					MaxAttempts:   3,
					BaseDelay:     1 * time.Second,
					MaxDelay:      15 * time.Second,
					RatePerSecond: 5,
					Burst:         5,
					MaxInFlight:   4,
				},
			},
		},
		Queue: QueueConfig{Workers: 4, Size: 256, ProcessTimeout: 5 * time.Minute},
	}
}

// LoadConfig reads the YAML file at path (optional) over the defaults, then
// applies environment overrides. It does not validate; call Validate once at startup.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Server.HTTPAddr, "HTTP_ADDR")
	overrideString(&c.Server.GRPCAddr, "GRPC_ADDR")
	overrideList(&c.Server.CORSOrigins, "CORS_ORIGINS")
	overrideString(&c.Log.Level, "LOG_LEVEL")
	overrideString(&c.Log.Format, "LOG_FORMAT")

	overrideString(&c.Store.Driver, "STORE_DRIVER")
	overrideString(&c.Store.DSN, "DB_URL")
	overrideInt32(&c.Store.MaxConns, "DB_MAX_CONNS")
	overrideInt32(&c.Store.MinConns, "DB_MIN_CONNS")
	overrideDuration(&c.Store.StatementTimeout, "DB_STATEMENT_TIMEOUT")

	overrideString(&c.Images.Driver, "IMAGES_DRIVER")
	overrideString(&c.Images.Endpoint, "MINIO_ENDPOINT")
	overrideString(&c.Images.Region, "MINIO_REGION")
	overrideString(&c.Images.Bucket, "MINIO_BUCKET")
	overrideString(&c.Images.AccessKey, "MINIO_ACCESS_KEY")
	overrideString(&c.Images.SecretKey, "MINIO_SECRET_KEY")
	overrideBool(&c.Images.UseSSL, "MINIO_USE_SSL")

	overrideList(&c.Auth.Tokens, "AUTH_TOKENS")

	overrideString(&c.Providers.Extract.Backend, "EXTRACT_BACKEND")
	overrideString(&c.Providers.Extract.Endpoint, "AZURE_CV_ENDPOINT")
	overrideString(&c.Providers.Extract.APIKey, "AZURE_CV_KEY")
	overrideString(&c.Providers.Extract.TessdataDir, "TESSDATA_PREFIX")
	overrideDuration(&c.Providers.Extract.Policy.Timeout, "EXTRACT_TIMEOUT")

	overrideString(&c.Providers.Analyze.Endpoint, "AZURE_OPENAI_ENDPOINT")
	overrideString(&c.Providers.Analyze.APIKey, "AZURE_OPENAI_API_KEY")
	overrideString(&c.Providers.Analyze.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	overrideString(&c.Providers.Analyze.APIVersion, "AZURE_OPENAI_API_VERSION")
	overrideFloat32(&c.Providers.Analyze.Temperature, "AZURE_OPENAI_TEMPERATURE")
	overrideDuration(&c.Providers.Analyze.Policy.Timeout, "ANALYZE_TIMEOUT")
}

// Helper functions for environment variable parsing
func overrideString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func overrideList(dst *[]string, key string) {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func overrideInt32(dst *int32, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			*dst = int32(intVal)
		}
	}
}

func overrideFloat32(dst *float32, key string) {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			*dst = float32(floatVal)
		}
	}
}

func overrideBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*dst = b
		}
	}
}

func overrideDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			*dst = duration
		}
	}
}

// ConfigError lists every problem found by Validate.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error { return ErrInvalidInput }

// Validate checks the whole configuration and reports all missing or invalid
// fields at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.HTTPAddr == "" {
		add("server.http_addr is required")
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			add("store.dsn (DB_URL) is required for driver %q", c.Store.Driver)
		}
	case "memory":
	default:
		add("store.driver must be one of postgres, sqlite, memory (got %q)", c.Store.Driver)
	}

	switch c.Images.Driver {
	case "minio":
		if c.Images.Endpoint == "" {
			add("images.endpoint (MINIO_ENDPOINT) is required")
		}
		if c.Images.Bucket == "" {
			add("images.bucket (MINIO_BUCKET) is required")
		}
		if c.Images.AccessKey == "" || c.Images.SecretKey == "" {
			add("images.access_key and images.secret_key are required")
		}
	case "memory":
	default:
		add("images.driver must be one of minio, memory (got %q)", c.Images.Driver)
	}

	if len(c.Auth.Tokens) == 0 {
		add("auth.tokens (AUTH_TOKENS) must list at least one bearer token")
	}

	ex := c.Providers.Extract
	switch ex.Backend {
	case "azure-vision":
		if ex.Endpoint == "" {
			add("providers.extract.endpoint (AZURE_CV_ENDPOINT) is required")
		}
		if ex.APIKey == "" {
			add("providers.extract.api_key (AZURE_CV_KEY) is required")
		}
	case "tesseract":
		if ex.Tesseract == "" {
			add("providers.extract.tesseract binary is required")
		}
	default:
		add("providers.extract.backend must be one of azure-vision, tesseract (got %q)", ex.Backend)
	}
	if ex.MaxImageBytes <= 0 {
		add("providers.extract.max_image_bytes must be positive")
	}
	validatePolicy("providers.extract", ex.Policy, add)

	an := c.Providers.Analyze
	if an.APIKey == "" {
		add("providers.analyze.api_key (AZURE_OPENAI_API_KEY) is required")
	}
	if an.Deployment == "" {
		add("providers.analyze.deployment (AZURE_OPENAI_DEPLOYMENT) is required")
	}
	validatePolicy("providers.analyze", an.Policy, add)
	if an.Policy.Timeout > 0 && ex.Policy.Timeout > 0 && an.Policy.Timeout < ex.Policy.Timeout {
		add("providers.analyze.timeout (%s) must not be shorter than providers.extract.timeout (%s)", an.Policy.Timeout, ex.Policy.Timeout)
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func validatePolicy(prefix string, p CallPolicy, add func(string, ...any)) {
	if p.Timeout <= 0 {
		add("%s.timeout must be positive", prefix)
	}
	if p.MaxAttempts < 1 {
		add("%s.max_attempts must be at least 1", prefix)
	}
	if p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay {
		add("%s.base_delay/max_delay must satisfy 0 <= base <= max", prefix)
	}
}
