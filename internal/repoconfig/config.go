// Package repoconfig loads a repo's .bones/config.yaml the way the
// teacher's internal/config loads .beads/config.yaml: viper-backed,
// discovered by walking up from the working directory, overridable by
// BONES_-prefixed environment variables, defaults applied for every
// field (SPEC_FULL.md §4.8).
//
// Grounded on internal/config/config.go's discovery/precedence chain,
// narrowed to the settings the event-log/CRDT/cache core actually
// consumes (agent identity, shard lock timeout, fsync, default id
// prefix, log level) and stripped of the teacher's CLI/sync/devlog/
// multi-repo settings, which belong to the out-of-scope outer surface.
package repoconfig

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved repo configuration.
type Config struct {
	v *viper.Viper
}

// Load discovers and reads .bones/config.yaml, walking up from the
// current working directory first (so commands work from subdirectories),
// falling back to the user config directory and home directory, then
// applies BONES_-prefixed environment overrides and defaults. A missing
// config file is not an error: defaults and env vars alone are a valid
// configuration (spec.md's local-first posture — no required setup).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".bones", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "bones", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".bones", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("BONES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("agent", "")
	v.SetDefault("id-prefix", "bn")
	v.SetDefault("lock-timeout", "30s")
	v.SetDefault("fsync", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("repoconfig: reading config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func (c *Config) IDPrefix() string        { return c.v.GetString("id-prefix") }
func (c *Config) LockTimeout() time.Duration { return c.v.GetDuration("lock-timeout") }
func (c *Config) Fsync() bool              { return c.v.GetBool("fsync") }
func (c *Config) LogLevel() string         { return c.v.GetString("log-level") }
func (c *Config) LogFormat() string        { return c.v.GetString("log-format") }

// Agent resolves the writer identity used to tag every event this
// process appends, following the teacher's GetIdentity precedence chain:
// explicit flag, then config/env, then `git config user.name`, then
// hostname. Every event needs a non-empty agent (spec.md §3), so this
// always returns something usable.
func (c *Config) Agent(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if agent := c.v.GetString("agent"); agent != "" {
		return agent
	}
	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}
