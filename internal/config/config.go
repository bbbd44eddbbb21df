// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads keyless settings from defaults, config files,
// KEYLESS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full keyless configuration.
type Config struct {
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Remote struct {
		BaseURL string `mapstructure:"base_url" yaml:"base_url"`
		// Timeout is in seconds.
		Timeout int `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"remote" yaml:"remote"`
	Language string `mapstructure:"language" yaml:"language"`
	Log      struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"log" yaml:"log"`
	Session struct {
		Tenant string `mapstructure:"tenant" yaml:"tenant"`
		User   string `mapstructure:"user" yaml:"user"`
		Token  string `mapstructure:"token" yaml:"token,omitempty"`
	} `mapstructure:"session" yaml:"session"`
}

// Defaults returns the built-in values, keyed like the config file.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":   "sqlite",
		"database.dsn":    "./vehicles.db",
		"remote.base_url": "https://keyless.geotab.com/api",
		"remote.timeout":  30,
		"language":        "en",
		"log.level":       "info",
		"session.tenant":  "",
		"session.user":    "",
		"session.token":   "",
	}
}

// GetConfigPath returns the full path of the user or system config file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keyless")
		default: // Linux, macOS, etc.
			configDir = "/etc/keyless"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keyless")
	}

	return filepath.Join(configDir, "keyless.yaml"), nil
}

// LoadConfig resolves T from defaults, the first keyless.yaml found (or
// configFile when given), KEYLESS_ environment variables and the flags of cmd.
// A missing config file is not an error.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keyless")
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keyless")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// flagKeys maps flag names onto config keys where they differ.
var flagKeys = map[string]string{
	"db-type":   "database.type",
	"db-dsn":    "database.dsn",
	"base-url":  "remote.base_url",
	"timeout":   "remote.timeout",
	"lang":      "language",
	"log-level": "log.level",
	"tenant":    "session.tenant",
	"user":      "session.user",
	"token":     "session.token",
}

// bindFlags binds the known flags of cmd (local and inherited) to their
// config keys. Unset flags do not override lower layers.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.InheritedFlags().Lookup(name)
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigFile stores c as YAML in the user or system config location.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo stores c as YAML at path with owner-only permissions,
// since the file may hold a session token.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	return os.WriteFile(path, data, 0600)
}
