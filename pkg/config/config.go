package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

type Config struct {
	App       AppConfig                `json:"app"`
	Surfaces  map[string]SurfaceConfig `json:"surfaces"`
	Store     StoreConfig              `json:"store"`
	Workflows WorkflowConfig           `json:"workflows"`
	Tools     ToolConfig               `json:"tools"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
}

type SurfaceConfig struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

type StoreConfig struct {
	StatePath     string `json:"state_path"`
	HistoryPath   string `json:"history_path"`
	SweepInterval string `json:"sweep_interval"`
}

type WorkflowConfig struct {
	Dir string `json:"dir"`
}

type ToolConfig struct {
	LogPath string `json:"log_path"`
}

func LoadConfig(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}

	return &cfg
}

// GetTelegramConfig returns telegram surface config if enabled
func (c *Config) GetTelegramConfig() (SurfaceConfig, bool) {
	tg, ok := c.Surfaces["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return SurfaceConfig{}, false
}

// GetDiscordConfig returns discord surface config if enabled
func (c *Config) GetDiscordConfig() (SurfaceConfig, bool) {
	dc, ok := c.Surfaces["discord"]
	if ok && dc.Enabled {
		return dc, true
	}
	return SurfaceConfig{}, false
}

// SweepEvery parses the configured sweep interval, defaulting to 5 minutes.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.Store.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
