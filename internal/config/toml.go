// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Session SessionConfig `toml:"session"`
	Engine  EngineConfig  `toml:"engine"`
	Audio   AudioConfig   `toml:"audio"`
}

// SessionConfig maps assessment session settings.
type SessionConfig struct {
	Lang       *string  `toml:"lang"`
	Count      *int     `toml:"count"`
	Shuffle    *bool    `toml:"shuffle"`
	TextsFile  *string  `toml:"texts-file"`
	FocusWeak  *bool    `toml:"focus-weak"`
	WeakTop    *int     `toml:"weak-top"`
	WeakFactor *float64 `toml:"weak-factor"`
	WeakWindow *int     `toml:"weak-window"`
	Save       *bool    `toml:"save"`
}

// EngineConfig maps recognition engine settings.
type EngineConfig struct {
	Name   *string `toml:"name"`
	URL    *string `toml:"url"`
	KeyEnv *string `toml:"key-env"`
}

// AudioConfig maps audio source settings.
type AudioConfig struct {
	Source     *string `toml:"source"`
	CaptureCmd *string `toml:"capture-cmd"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
