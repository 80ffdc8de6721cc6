package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Load builds configuration from environment variables, an optional
// config file, and package defaults, in that order of precedence
// (env wins).
func Load() (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix("FERRIQA_WEBHOOKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, path := range []string{v.GetString("paths.config"), ".", "/etc/ferriqa-webhooks"} {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	resolvePaths(v)

	if v.GetString("security.secret_key") == "" {
		key, err := generateSecretKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		v.Set("security.secret_key", key)
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	if runtime.GOOS == "windows" {
		v.SetDefault("paths.data", expandPath("%PROGRAMDATA%\\ferriqa-webhooks"))
		v.SetDefault("paths.config", expandPath("%PROGRAMDATA%\\ferriqa-webhooks\\config"))
	} else {
		v.SetDefault("paths.data", "/var/lib/ferriqa-webhooks")
		v.SetDefault("paths.config", "/etc/ferriqa-webhooks")
	}

	// Database
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "{paths.data}/webhooks.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", 300)

	// Delivery defaults (§4.1, §4.5)
	v.SetDefault("webhooks.max_attempts", 5)
	v.SetDefault("webhooks.initial_delay_ms", 1000)
	v.SetDefault("webhooks.backoff_multiplier", 2.0)
	v.SetDefault("webhooks.timeout_ms", 30_000)
	v.SetDefault("webhooks.max_concurrent", 10)
	v.SetDefault("webhooks.tick_interval_ms", 1000)

	// Optional domain-stack layers, disabled unless turned on (§4.6-4.8)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.backend", "memory") // memory or redis
	v.SetDefault("cache.ttl_seconds", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("circuitbreaker.enabled", false)
	v.SetDefault("circuitbreaker.failure_threshold", 5)
	v.SetDefault("circuitbreaker.recovery_timeout_seconds", 30)
	v.SetDefault("circuitbreaker.success_threshold", 3)

	v.SetDefault("security.secret_key", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("server.listen_addr", ":8089")
}

func resolvePaths(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if !strings.Contains(value, "{") || !strings.Contains(value, "}") {
			continue
		}
		resolved := value
		for _, varKey := range v.AllKeys() {
			varPattern := fmt.Sprintf("{%s}", varKey)
			if strings.Contains(resolved, varPattern) {
				resolved = strings.ReplaceAll(resolved, varPattern, v.GetString(varKey))
			}
		}
		v.Set(key, expandPath(resolved))
	}
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(path)
}

func generateSecretKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ValidateConfig checks the minimum viable configuration.
func ValidateConfig(v *viper.Viper) error {
	dbType := v.GetString("database.type")
	switch dbType {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unsupported database type: %s", dbType)
	}
	if v.GetString("security.secret_key") == "" {
		return fmt.Errorf("security.secret_key is required")
	}
	return nil
}
