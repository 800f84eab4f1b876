// Package config loads the downloader settings file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultFile        = "config.yaml"
	DefaultConcurrency = 6
	DefaultDownloadDir = "downloads"
	DefaultTempDir     = "temp"
	DefaultDataFile    = "data.json"
	DefaultFFmpeg      = "ffmpeg"
	DefaultAPIBase     = "https://fansone.co/api"
	DefaultTimeout     = 60 * time.Second
)

// Config is the on-disk configuration.
type Config struct {
	Fansone  Fansone  `yaml:"fansone"`
	Download Download `yaml:"download"`
	FFmpeg   FFmpeg   `yaml:"ffmpeg"`
	Cluster  Cluster  `yaml:"cluster"`
}

type Fansone struct {
	Cookies string `yaml:"cookies"`
	APIBase string `yaml:"apiBase"`
}

type Download struct {
	Concurrency int           `yaml:"concurrency"`
	Dir         string        `yaml:"dir"`
	TempDir     string        `yaml:"tempDir"`
	DataFile    string        `yaml:"dataFile"`
	Timeout     time.Duration `yaml:"timeout"`
}

type FFmpeg struct {
	Path string `yaml:"path"`
}

// Cluster enables replicated progress storage when Enabled is set.
type Cluster struct {
	Enabled  bool     `yaml:"enabled"`
	RaftID   string   `yaml:"raftId"`
	BindAddr string   `yaml:"bind"`
	Peers    []string `yaml:"peers"`
	DataDir  string   `yaml:"dataDir"`
}

// Load reads the YAML file at path. A missing file yields an empty Config;
// call Validate before use.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Download.Concurrency < 0 {
		return fmt.Errorf("download.concurrency must not be negative, got %d", c.Download.Concurrency)
	}
	if c.Download.Timeout < 0 {
		return fmt.Errorf("download.timeout must not be negative")
	}
	if c.Cluster.Enabled {
		if c.Cluster.BindAddr == "" {
			return fmt.Errorf("cluster.bind is required when cluster is enabled")
		}
		if c.Cluster.RaftID == "" {
			c.Cluster.RaftID = c.Cluster.BindAddr
		}
		if len(c.Cluster.Peers) == 0 {
			c.Cluster.Peers = []string{c.Cluster.BindAddr}
		}
	}

	// Set defaults
	if c.Download.Concurrency == 0 {
		c.Download.Concurrency = DefaultConcurrency
	}
	if c.Download.Dir == "" {
		c.Download.Dir = DefaultDownloadDir
	}
	if c.Download.TempDir == "" {
		c.Download.TempDir = DefaultTempDir
	}
	if c.Download.DataFile == "" {
		c.Download.DataFile = DefaultDataFile
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = DefaultTimeout
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = DefaultFFmpeg
	}
	if c.Fansone.APIBase == "" {
		c.Fansone.APIBase = DefaultAPIBase
	}
	if c.Cluster.Enabled && c.Cluster.DataDir == "" {
		c.Cluster.DataDir = "raft"
	}

	return nil
}
