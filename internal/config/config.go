// Package config loads the node's configuration surface: a viper
// singleton populated from a discovered config file, environment
// variables layered on top, and hard defaults underneath it all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// CompactMode names the compact_mode enumeration as read from config;
// internal/chain.CompactMode is the typed runtime value this resolves
// to.
type CompactMode string

const (
	CompactNever       CompactMode = "never"
	CompactPeriodic    CompactMode = "periodic"
	CompactSize        CompactMode = "size"
	CompactFactor      CompactMode = "factor"
	CompactGrowth      CompactMode = "growth_factor"
)

// RecoveryMode names the recovery_mode enumeration.
type RecoveryMode string

const (
	RecoveryReadOnlyAsync RecoveryMode = "read_only_async"
	RecoveryReadOnlySync  RecoveryMode = "read_only_sync"
	RecoveryAsync         RecoveryMode = "async"
	RecoverySync          RecoveryMode = "sync"
)

// Initialize sets up the viper configuration singleton. Should be
// called once at process startup.
//
// Precedence (highest to lowest): env var > config file > default.
// Config file search order mirrors a project-local override taking
// priority over the user's own config directory:
//  1. walk up from CWD looking for .trustchain/config.toml
//  2. $XDG_CONFIG_HOME/trustchain/config.toml (or platform equivalent)
//  3. defaults and environment variables only
func Initialize() error {
	v = viper.New()
	v.SetConfigType("toml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".trustchain", "config.toml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "trustchain", "config.toml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file:
	// e.g. TRUSTCHAIN_COMPACT_MODE, TRUSTCHAIN_WIRE_FORMAT.
	v.SetEnvPrefix("TRUSTCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-path", "")
	v.SetDefault("compact-mode", string(CompactNever))
	v.SetDefault("compact-interval", "1h")
	v.SetDefault("compact-size-bytes", int64(64*1024*1024))
	v.SetDefault("compact-factor", 2.0)
	v.SetDefault("compact-bootstrap", false)

	v.SetDefault("sync-tolerance", "30s")
	v.SetDefault("ntp-pool", "pool.ntp.org")
	v.SetDefault("ntp-port", 123)
	v.SetDefault("ntp-sync", false)
	v.SetDefault("dns-sec", false)
	v.SetDefault("dns-server", "")

	v.SetDefault("wire-encryption", 0)
	v.SetDefault("buffer-size-client", 1000)
	v.SetDefault("buffer-size-server", 1000)

	v.SetDefault("load-cache-size", 4096)
	v.SetDefault("load-cache-ttl", "5m")

	v.SetDefault("log-format.meta", "json")
	v.SetDefault("log-format.data", "gob")
	v.SetDefault("wire-format", "json")

	v.SetDefault("connect-timeout", "30s")
	v.SetDefault("default-port", 5000)
	v.SetDefault("recovery-mode", string(RecoverySync))

	v.SetDefault("disable-new-roots", false)
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// ConfigOverride represents a detected configuration override.
type ConfigOverride struct {
	Key            string
	EffectiveValue interface{}
	OverriddenBy   ConfigSource
	OriginalSource ConfigSource
	OriginalValue  interface{}
}

// GetValueSource returns the source of a configuration value.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "TRUSTCHAIN_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// CheckOverrides detects configuration overrides so a verbose start-up
// log can tell an operator which flag or env var won over the config
// file. flagOverrides maps key to the flag's resolved value and
// whether it was explicitly set on the command line.
func CheckOverrides(flagOverrides map[string]struct {
	Value  interface{}
	WasSet bool
}) []ConfigOverride {
	var overrides []ConfigOverride

	for key, flagInfo := range flagOverrides {
		if !flagInfo.WasSet {
			continue
		}
		source := GetValueSource(key)
		if source == SourceConfigFile || source == SourceEnvVar {
			overrides = append(overrides, ConfigOverride{
				Key:            key,
				EffectiveValue: flagInfo.Value,
				OverriddenBy:   SourceFlag,
				OriginalSource: source,
				OriginalValue:  v.Get(key),
			})
		}
	}

	if v != nil {
		for _, key := range v.AllKeys() {
			if GetValueSource(key) == SourceEnvVar && v.InConfig(key) {
				overrides = append(overrides, ConfigOverride{
					Key:            key,
					EffectiveValue: v.Get(key),
					OverriddenBy:   SourceEnvVar,
					OriginalSource: SourceConfigFile,
				})
			}
		}
	}

	return overrides
}

// LogOverride writes a message about a configuration override; the
// caller guards this on its own verbose flag.
func LogOverride(override ConfigOverride) {
	var sourceDesc string
	switch override.OriginalSource {
	case SourceConfigFile:
		sourceDesc = "config file"
	case SourceEnvVar:
		sourceDesc = "environment variable"
	default:
		sourceDesc = string(override.OriginalSource)
	}
	var overrideDesc string
	switch override.OverriddenBy {
	case SourceFlag:
		overrideDesc = "command-line flag"
	case SourceEnvVar:
		overrideDesc = "environment variable"
	default:
		overrideDesc = string(override.OverriddenBy)
	}
	fmt.Fprintf(os.Stderr, "config: %s overridden by %s (was: %v from %s, now: %v)\n",
		override.Key, overrideDesc, override.OriginalValue, sourceDesc, override.EffectiveValue)
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// CompactModeValue resolves the compact-mode key, plus whatever
// numeric parameter that mode needs, into the arguments chain.Config
// expects (chain itself owns the typed CompactMode enum; this package
// only resolves strings out of viper).
func CompactModeValue() (mode string, interval time.Duration, sizeBytes int64, factor float64) {
	return GetString("compact-mode"), GetDuration("compact-interval"), GetInt64("compact-size-bytes"), GetFloat64("compact-factor")
}

// WireEncryptionBits returns the configured wire-encryption key size
// in bits (0, 128, 192, or 256), per the wire_encryption enumeration.
func WireEncryptionBits() int {
	return GetInt("wire-encryption")
}

// LogFormatMeta and LogFormatData resolve the log_format = {meta, data}
// pair independently, since a deployment may
// want compact binary data frames alongside human-readable metadata
// frames (or vice versa).
func LogFormatMeta() string { return GetString("log-format.meta") }
func LogFormatData() string { return GetString("log-format.data") }
