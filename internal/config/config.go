// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects how the scheduler picks a backend instance
type Strategy string

const (
	StrategySingle         Strategy = "single"
	StrategyReadWriteSplit Strategy = "read_write_split"
	StrategyLoadBalance    Strategy = "load_balance"
)

// Role is the declared role of a backend instance
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleMixed Role = "mixed"
)

// ServiceRole limits which operations this gateway performs
type ServiceRole string

const (
	ServiceEncrypt ServiceRole = "encrypt"
	ServiceDecrypt ServiceRole = "decrypt"
	ServiceMixed   ServiceRole = "mixed"
)

// AllowsEncrypt reports whether encryption requests are served
func (r ServiceRole) AllowsEncrypt() bool {
	return r == ServiceEncrypt || r == ServiceMixed
}

// AllowsDecrypt reports whether decryption requests are served
func (r ServiceRole) AllowsDecrypt() bool {
	return r == ServiceDecrypt || r == ServiceMixed
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	JWT        JWTConfig        `yaml:"jwt"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Service    ServiceConfig    `yaml:"service"`
	CrudAPI    CrudAPIConfig    `yaml:"crud_api"`
	Cache      CacheConfig      `yaml:"cache"`
	Fallback   FallbackConfig   `yaml:"test_instance"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host  string `yaml:"host" default:"0.0.0.0"`
	Port  int    `yaml:"port" default:"8080"`
	HTTPS bool   `yaml:"https" default:"false"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiresIn   int64  `yaml:"expires_in" default:"3600"`
	RefreshIn   int64  `yaml:"refresh_in" default:"86400"`
	AuthEnabled bool   `yaml:"auth_enabled" default:"false"`
}

type EncryptionConfig struct {
	Algorithm  string `yaml:"algorithm" default:"aes-256-gcm"`
	KDF        string `yaml:"kdf" default:"hkdf"`
	KeyLength  int    `yaml:"key_length" default:"32"`
	Iterations int    `yaml:"iterations" default:"100000"`
	Salt       string `yaml:"salt" default:"default_salt"`
}

type ServiceConfig struct {
	Role ServiceRole `yaml:"role" default:"mixed"`
	ID   string      `yaml:"id" default:"encryption-01"`
}

// Instance is one configured CRUD API backend. Instances are never
// mutated after load.
type Instance struct {
	ID         string        `yaml:"id"`
	URL        string        `yaml:"url"`
	Role       Role          `yaml:"instance_type"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retries"`
}

type CrudAPIConfig struct {
	Instances           []Instance    `yaml:"instances"`
	Strategy            Strategy      `yaml:"strategy" default:"single"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" default:"30s"`
	Timeout             time.Duration `yaml:"timeout" default:"5s"`
	Retries             int           `yaml:"retries" default:"3"`
}

type CacheConfig struct {
	Dir            string        `yaml:"dir" default:"data/cache"`
	FilePrefix     string        `yaml:"file_prefix" default:"crud_api_cache"`
	BucketInterval time.Duration `yaml:"bucket_interval" default:"1h"`
	Retention      time.Duration `yaml:"retention" default:"24h"`
}

type FallbackConfig struct {
	URL           string        `yaml:"url" default:"http://localhost:8001"`
	DBPrefix      string        `yaml:"db_prefix" default:"test_"`
	TTL           time.Duration `yaml:"ttl" default:"48h"`
	CheckInterval time.Duration `yaml:"check_interval" default:"1h"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	WebhookURL    string        `yaml:"wechat_webhook_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"100"`
	Burst             int     `yaml:"burst" default:"200"`
}

// Default returns a configuration populated with the built-in defaults.
// The instance list is left empty; LoadFromEnv resolves it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    LogConfig{Level: "info", Format: "json"},
		JWT: JWTConfig{
			Secret:    "your_secret_key_change_me",
			ExpiresIn: 3600,
			RefreshIn: 86400,
		},
		Encryption: EncryptionConfig{
			Algorithm:  "aes-256-gcm",
			KDF:        "hkdf",
			KeyLength:  32,
			Iterations: 100000,
			Salt:       "default_salt",
		},
		Service: ServiceConfig{Role: ServiceMixed, ID: "encryption-01"},
		CrudAPI: CrudAPIConfig{
			Strategy:            StrategySingle,
			HealthCheckInterval: 30 * time.Second,
			Timeout:             5 * time.Second,
			Retries:             3,
		},
		Cache: CacheConfig{
			Dir:            "data/cache",
			FilePrefix:     "crud_api_cache",
			BucketInterval: time.Hour,
			Retention:      24 * time.Hour,
		},
		Fallback: FallbackConfig{
			URL:           "http://localhost:8001",
			DBPrefix:      "test_",
			TTL:           48 * time.Hour,
			CheckInterval: time.Hour,
			Timeout:       5 * time.Second,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 100, Burst: 200},
	}
}

// LoadFile overlays the YAML document at path onto cfg
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load builds the process configuration: defaults, then the optional
// CONFIG_FILE, then environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
