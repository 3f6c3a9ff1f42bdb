// internal/config/env.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv applies environment overrides to cfg and resolves the
// CRUD API instance list.
func LoadFromEnv(cfg *Config) error {
	cfg.Server.Host = GetEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	if err := envInt("SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := envBool("HTTPS", &cfg.Server.HTTPS); err != nil {
		return err
	}

	cfg.Log.Level = GetEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvOrDefault("LOG_FORMAT", cfg.Log.Format)

	cfg.JWT.Secret = GetEnvOrDefault("JWT_SECRET", cfg.JWT.Secret)
	if err := envInt64("JWT_EXPIRES_IN", &cfg.JWT.ExpiresIn); err != nil {
		return err
	}
	if err := envInt64("JWT_REFRESH_IN", &cfg.JWT.RefreshIn); err != nil {
		return err
	}
	if err := envBool("JWT_AUTH_ENABLED", &cfg.JWT.AuthEnabled); err != nil {
		return err
	}

	cfg.Encryption.Algorithm = GetEnvOrDefault("ENCRYPTION_ALGORITHM", cfg.Encryption.Algorithm)
	cfg.Encryption.KDF = GetEnvOrDefault("ENCRYPTION_KDF", cfg.Encryption.KDF)
	cfg.Encryption.Salt = GetEnvOrDefault("ENCRYPTION_SALT", cfg.Encryption.Salt)
	if err := envInt("ENCRYPTION_KEY_LENGTH", &cfg.Encryption.KeyLength); err != nil {
		return err
	}
	if err := envInt("ENCRYPTION_ITERATIONS", &cfg.Encryption.Iterations); err != nil {
		return err
	}

	cfg.Service.Role = ServiceRole(GetEnvOrDefault("SERVICE_ROLE", string(cfg.Service.Role)))
	cfg.Service.ID = GetEnvOrDefault("SERVICE_ID", cfg.Service.ID)

	if err := loadCrudAPIFromEnv(&cfg.CrudAPI); err != nil {
		return err
	}

	cfg.Cache.Dir = GetEnvOrDefault("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.FilePrefix = GetEnvOrDefault("CACHE_FILE_PREFIX", cfg.Cache.FilePrefix)
	if err := envSeconds("CACHE_BUCKET_INTERVAL", &cfg.Cache.BucketInterval); err != nil {
		return err
	}
	if err := envSeconds("CACHE_RETENTION", &cfg.Cache.Retention); err != nil {
		return err
	}

	cfg.Fallback.URL = GetEnvOrDefault("TEST_INSTANCE_URL", cfg.Fallback.URL)
	cfg.Fallback.DBPrefix = GetEnvOrDefault("TEST_INSTANCE_DB_PREFIX", cfg.Fallback.DBPrefix)
	cfg.Fallback.WebhookURL = GetEnvOrDefault("WECHAT_WEBHOOK_URL", cfg.Fallback.WebhookURL)
	if err := envSeconds("TEST_INSTANCE_TTL", &cfg.Fallback.TTL); err != nil {
		return err
	}
	if err := envSeconds("TEST_INSTANCE_CHECK_INTERVAL", &cfg.Fallback.CheckInterval); err != nil {
		return err
	}
	cfg.Fallback.Timeout = cfg.CrudAPI.Timeout

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}
	if err := envInt("RATE_LIMIT_BURST", &cfg.RateLimit.Burst); err != nil {
		return err
	}

	return nil
}

func loadCrudAPIFromEnv(c *CrudAPIConfig) error {
	if v := os.Getenv("CRUD_API_TIMEOUT"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CRUD_API_TIMEOUT: %w", err)
		}
		c.Timeout = time.Duration(ms) * time.Millisecond
	}
	if err := envInt("CRUD_API_RETRIES", &c.Retries); err != nil {
		return err
	}
	if err := envSeconds("CRUD_API_HEALTH_CHECK_INTERVAL", &c.HealthCheckInterval); err != nil {
		return err
	}

	// CRUD_API_BACKEND_TYPE is the older spelling of the strategy variable
	if v := GetEnvOrDefault("CRUD_API_STRATEGY", os.Getenv("CRUD_API_BACKEND_TYPE")); v != "" {
		c.Strategy = Strategy(v)
	}

	switch {
	case os.Getenv("CRUD_API_INSTANCES") != "":
		instances, err := ParseInstances(os.Getenv("CRUD_API_INSTANCES"))
		if err != nil {
			return err
		}
		c.Instances = instances
	case c.Strategy == StrategyReadWriteSplit &&
		(os.Getenv("CRUD_API_WRITE_INSTANCE_URL") != "" || os.Getenv("CRUD_API_READ_INSTANCE_URL") != ""):
		c.Instances = []Instance{
			{ID: "crud-write-01", URL: os.Getenv("CRUD_API_WRITE_INSTANCE_URL"), Role: RoleWrite},
			{ID: "crud-read-01", URL: os.Getenv("CRUD_API_READ_INSTANCE_URL"), Role: RoleRead},
		}
	case len(c.Instances) == 0 || os.Getenv("CRUD_API_URL") != "":
		c.Instances = []Instance{{
			ID:   "crud-01",
			URL:  GetEnvOrDefault("CRUD_API_URL", "http://localhost:8000"),
			Role: RoleMixed,
		}}
	}

	for i := range c.Instances {
		if c.Instances[i].Timeout <= 0 {
			c.Instances[i].Timeout = c.Timeout
		}
		if c.Instances[i].RetryCount <= 0 {
			c.Instances[i].RetryCount = c.Retries
		}
		c.Instances[i].URL = strings.TrimRight(c.Instances[i].URL, "/")
	}
	return nil
}

// ParseInstances parses "id|url|role" triples separated by commas
func ParseInstances(spec string) ([]Instance, error) {
	var instances []Instance
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("CRUD_API_INSTANCES: malformed entry %q, want id|url|role", item)
		}
		instances = append(instances, Instance{
			ID:   strings.TrimSpace(parts[0]),
			URL:  strings.TrimSpace(parts[1]),
			Role: Role(strings.TrimSpace(parts[2])),
		})
	}
	return instances, nil
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, dst *int) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func envInt64(key string, dst *int64) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func envBool(key string, dst *bool) error {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// envSeconds reads an integer number of seconds
func envSeconds(key string, dst *time.Duration) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = time.Duration(n) * time.Second
	}
	return nil
}
