// Package config is the viper-backed configuration singleton for the
// mem CLI. Precedence: flags > environment > config file > defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Called once at
// application startup, before any command runs.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml: chain directory first, then the
	// user config directory.
	configFileSet := false
	if dir := chainDirFromEnv(); dir != "" {
		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "mem", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// MEM_CHAIN_DIR etc.; hyphens in keys map to underscores in env vars
	v.SetEnvPrefix("MEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The bare environment variables take precedence over the prefixed
	// forms for compatibility with existing deployments.
	_ = v.BindEnv("chain-dir", "CHAIN_DIR", "MEM_CHAIN_DIR")
	_ = v.BindEnv("writer-key-path", "WRITER_KEY_PATH", "MEM_WRITER_KEY_PATH")

	v.SetDefault("chain-dir", "")
	v.SetDefault("writer-key-path", "")
	v.SetDefault("json", false)
	v.SetDefault("max-tokens-default", 2048)
	v.SetDefault("recall-half-life-days", 7.0)
	v.SetDefault("decay-hot-days", 7.0)
	v.SetDefault("decay-warm-days", 30.0)
	v.SetDefault("lock-timeout", "30s")
	v.SetDefault("anchor-timeout", "30s")
	v.SetDefault("log-file", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func chainDirFromEnv() string {
	if dir := os.Getenv("CHAIN_DIR"); dir != "" {
		return dir
	}
	return os.Getenv("MEM_CHAIN_DIR")
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// GetString returns a string config value.
func GetString(key string) string { return ensure().GetString(key) }

// GetBool returns a bool config value.
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetInt returns an int config value.
func GetInt(key string) int { return ensure().GetInt(key) }

// GetFloat returns a float config value.
func GetFloat(key string) float64 { return ensure().GetFloat64(key) }

// GetDuration parses a duration config value, with a fallback when the
// stored value does not parse.
func GetDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(ensure().GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// Set overrides a value for the current process (flag binding).
func Set(key string, value any) { ensure().Set(key, value) }

// ChainDir resolves the chain directory: config/env value or ./.memchain.
func ChainDir() string {
	if dir := GetString("chain-dir"); dir != "" {
		return dir
	}
	return ".memchain"
}
