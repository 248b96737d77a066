package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Config holds the introspection daemon's settings. It is loaded from a
// TOML or YAML file (chosen by the file's extension) and then
// overridden field-by-field from BROKERD_-prefixed environment
// variables.
type Config struct {
	ListenAddr  string `toml:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogCapacity int    `toml:"log_capacity" yaml:"log_capacity" env:"LOG_CAPACITY"`
	Debug       bool   `toml:"debug" yaml:"debug" env:"DEBUG"`
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() Config {
	return Config{ListenAddr: ":8080", LogCapacity: 1000, Debug: false}
}

// LoadConfig reads path (TOML if it ends in .toml, YAML otherwise) into
// a Config seeded with DefaultConfig, then applies any BROKERD_*
// environment overrides on top. path may be empty, in which case only
// the environment overrides (and defaults) apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("brokerd: decode toml config: %w", err)
			}
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("brokerd: read config: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("brokerd: decode yaml config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg, "BROKERD"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides looks up, for every field with an `env` tag,
// PREFIX_TAG in the environment and, if set, coerces it into the
// field's type with golobby/cast.
func applyEnvOverrides(cfg *Config, prefix string) error {
	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := strings.ToUpper(prefix + "_" + tag)
		raw, set := os.LookupEnv(name)
		if !set || raw == "" {
			continue
		}
		converted, err := cast.FromType(raw, field.Type)
		if err != nil {
			return fmt.Errorf("brokerd: env %s: %w", name, err)
		}
		rv.Field(i).Set(reflect.ValueOf(converted))
	}
	return nil
}
