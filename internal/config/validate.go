// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for any configuration the gateway refuses to start with
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration. It must pass before any component starts.
func (c *Config) Validate() error {
	switch c.Service.Role {
	case ServiceEncrypt, ServiceDecrypt, ServiceMixed:
	default:
		return invalid("service.role", "unknown role %q", c.Service.Role)
	}

	if len(c.JWT.Secret) < 16 {
		return invalid("jwt.secret", "must be at least 16 characters")
	}

	switch c.Encryption.Algorithm {
	case "aes-256-gcm", "chacha20-poly1305":
	default:
		return invalid("encryption.algorithm", "unsupported algorithm %q", c.Encryption.Algorithm)
	}
	switch c.Encryption.KDF {
	case "hkdf", "pbkdf2":
	default:
		return invalid("encryption.kdf", "unsupported key derivation %q", c.Encryption.KDF)
	}
	if c.Encryption.KeyLength != 32 {
		return invalid("encryption.key_length", "must be 32, got %d", c.Encryption.KeyLength)
	}
	if c.Encryption.KDF == "pbkdf2" && c.Encryption.Iterations <= 0 {
		return invalid("encryption.iterations", "must be positive for pbkdf2")
	}

	if err := c.CrudAPI.Validate(); err != nil {
		return err
	}

	if c.Cache.BucketInterval <= 0 {
		return invalid("cache.bucket_interval", "must be positive")
	}
	if c.Cache.Retention <= 0 {
		return invalid("cache.retention", "must be positive")
	}
	if c.Fallback.TTL <= 0 {
		return invalid("test_instance.ttl", "must be positive")
	}
	if c.Fallback.CheckInterval <= 0 {
		return invalid("test_instance.check_interval", "must be positive")
	}
	return nil
}

// Validate checks the instance list against the chosen strategy
func (c *CrudAPIConfig) Validate() error {
	if len(c.Instances) == 0 {
		return invalid("crud_api.instances", "at least one instance is required")
	}
	if c.HealthCheckInterval <= 0 {
		return invalid("crud_api.health_check_interval", "must be positive")
	}

	seen := make(map[string]bool, len(c.Instances))
	var hasWrite, hasRead bool
	for i, inst := range c.Instances {
		field := fmt.Sprintf("crud_api.instances[%d]", i)
		if inst.ID == "" {
			return invalid(field+".id", "must not be empty")
		}
		if seen[inst.ID] {
			return invalid(field+".id", "duplicate id %q", inst.ID)
		}
		seen[inst.ID] = true
		if inst.URL == "" {
			return invalid(field+".url", "must not be empty")
		}
		switch inst.Role {
		case RoleWrite:
			hasWrite = true
		case RoleRead:
			hasRead = true
		case RoleMixed:
			hasWrite, hasRead = true, true
		default:
			return invalid(field+".instance_type", "unknown role %q", inst.Role)
		}
	}

	switch c.Strategy {
	case StrategySingle:
		if len(c.Instances) != 1 {
			return invalid("crud_api.strategy", "single requires exactly one instance, got %d", len(c.Instances))
		}
	case StrategyReadWriteSplit:
		if !hasWrite {
			return invalid("crud_api.strategy", "read_write_split requires a write or mixed instance")
		}
		if !hasRead {
			return invalid("crud_api.strategy", "read_write_split requires a read or mixed instance")
		}
	case StrategyLoadBalance:
		// any non-empty list qualifies
	default:
		return invalid("crud_api.strategy", "unknown strategy %q", c.Strategy)
	}
	return nil
}
