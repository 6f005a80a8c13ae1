package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	PredictorModeLive   = "live"
	PredictorModeMock   = "mock"
	PredictorModeVision = "vision"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	HistoryBackendMemory = "memory"
	HistoryBackendSQLite = "sqlite"
)

type Config struct {
	Server    ServerConfig
	Predictor PredictorConfig
	Vision    VisionConfig
	Upload    UploadConfig
	Knowledge KnowledgeConfig
	Cache     CacheConfig
	Redis     RedisConfig
	History   HistoryConfig
	SQLite    SQLiteConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Environment    string
}

type PredictorConfig struct {
	Mode       string
	URL        string
	UseMock    bool
	TimeoutSec int
	Breaker    BreakerConfig
}

type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeoutSec   int
}

type VisionConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Detail     string
	MaxTokens  int
	TimeoutSec int
}

type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

type KnowledgeConfig struct {
	Path string
}

type CacheConfig struct {
	Enabled bool
	Backend string
	TTLSec  int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type HistoryConfig struct {
	Backend string
}

type SQLiteConfig struct {
	Path string
}

type RateLimitConfig struct {
	DetectPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (or the file at path when non-empty), environment
// variables prefixed with AGROBUDDY_ and the legacy ML_MODEL_API_URL,
// USE_MOCK_DATA and PORT variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/agrobuddy")
	}

	v.SetEnvPrefix("AGROBUDDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"predictor.url":     "ML_MODEL_API_URL",
		"predictor.useMock": "USE_MOCK_DATA",
		"server.port":       "PORT",
	} {
		if err := v.BindEnv(key, "AGROBUDDY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Predictor.UseMock {
		cfg.Predictor.Mode = PredictorModeMock
	}
	cfg.Predictor.Mode = strings.ToLower(cfg.Predictor.Mode)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Predictor.Mode {
	case PredictorModeLive:
		if c.Predictor.URL == "" {
			return errors.New("predictor.url is required in live mode")
		}
	case PredictorModeVision:
		if c.Vision.APIKey == "" {
			return errors.New("vision.apiKey is required in vision mode")
		}
	case PredictorModeMock:
	default:
		return fmt.Errorf("unknown predictor.mode %q", c.Predictor.Mode)
	}

	if c.Predictor.TimeoutSec <= 0 {
		return fmt.Errorf("predictor.timeoutSec must be positive, got %d", c.Predictor.TimeoutSec)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.maxBytes must be positive, got %d", c.Upload.MaxBytes)
	}

	if int64(c.Server.BodyLimit) < c.Upload.MaxBytes {
		return fmt.Errorf("server.bodyLimit (%d) must not be below upload.maxBytes (%d)", c.Server.BodyLimit, c.Upload.MaxBytes)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	switch c.History.Backend {
	case HistoryBackendMemory, HistoryBackendSQLite:
	default:
		return fmt.Errorf("unknown history.backend %q", c.History.Backend)
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 12*1024*1024)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.environment", "development")

	v.SetDefault("predictor.mode", PredictorModeLive)
	v.SetDefault("predictor.url", "http://localhost:5000/predict")
	v.SetDefault("predictor.useMock", false)
	v.SetDefault("predictor.timeoutSec", 30)
	v.SetDefault("predictor.breaker.failureThreshold", 5)
	v.SetDefault("predictor.breaker.successThreshold", 1)
	v.SetDefault("predictor.breaker.openTimeoutSec", 30)

	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.detail", "low")
	v.SetDefault("vision.maxTokens", 300)
	v.SetDefault("vision.timeoutSec", 30)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.maxBytes", 10*1024*1024)

	v.SetDefault("knowledge.path", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttlSec", 3600)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("history.backend", HistoryBackendMemory)
	v.SetDefault("sqlite.path", "./data/agrobuddy.db")

	v.SetDefault("rateLimit.detectPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
