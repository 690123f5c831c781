// Package config loads a node's runtime configuration from a YAML
// file, validating required fields and filling in the defaults named
// throughout the clock/buffer/session/cluster packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr   = ":7400"
	defaultNodeType     = "client"
	defaultProbeHz      = 1
	defaultMaxFuture    = 10 * time.Second
	defaultMaxQueue     = 512
	defaultElectTimeout = 3 * time.Second
	defaultElectGather  = 500 * time.Millisecond
)

// Config is the validated, default-filled runtime configuration for
// either a coordinator or an endpoint node.
type Config struct {
	NodeID       string
	NodeType     string // master|replica|client
	ListenAddr   string
	AuthToken    string
	ProbeHz      float64
	MaxFuture    time.Duration
	MaxQueue     int
	ElectTimeout time.Duration
	ElectGather  time.Duration
	Capabilities []string
}

type yamlConfig struct {
	Node struct {
		ID        string `yaml:"id"`
		Type      string `yaml:"type"`
		Listen    string `yaml:"listen"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"node"`
	Sync struct {
		ProbeHz float64 `yaml:"probe_hz"`
	} `yaml:"sync"`
	Buffer struct {
		MaxFuture string `yaml:"max_future"`
		MaxQueue  int    `yaml:"max_queue"`
	} `yaml:"buffer"`
	Election struct {
		Timeout string `yaml:"timeout"`
		Gather  string `yaml:"gather"`
	} `yaml:"election"`
	Capabilities []string `yaml:"capabilities"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (Config, error) {
	cfg := Config{
		NodeType:     defaultNodeType,
		ListenAddr:   defaultListenAddr,
		ProbeHz:      defaultProbeHz,
		MaxFuture:    defaultMaxFuture,
		MaxQueue:     defaultMaxQueue,
		ElectTimeout: defaultElectTimeout,
		ElectGather:  defaultElectGather,
		Capabilities: []string{"audio", "clock_sync"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.Node.ID == "" {
		return Config{}, errors.New("node.id is required")
	}
	cfg.NodeID = yc.Node.ID

	if yc.Node.Type != "" {
		cfg.NodeType = strings.ToLower(yc.Node.Type)
	}
	switch cfg.NodeType {
	case "master", "replica", "client":
	default:
		return Config{}, fmt.Errorf("node.type must be 'master', 'replica', or 'client', got %q", cfg.NodeType)
	}

	if yc.Node.Listen != "" {
		cfg.ListenAddr = yc.Node.Listen
	}
	cfg.AuthToken = yc.Node.AuthToken

	if yc.Sync.ProbeHz > 0 {
		cfg.ProbeHz = yc.Sync.ProbeHz
	}

	if yc.Buffer.MaxFuture != "" {
		d, err := time.ParseDuration(yc.Buffer.MaxFuture)
		if err != nil {
			return Config{}, fmt.Errorf("buffer.max_future: %w", err)
		}
		cfg.MaxFuture = d
	}
	if yc.Buffer.MaxQueue > 0 {
		cfg.MaxQueue = yc.Buffer.MaxQueue
	}

	if yc.Election.Timeout != "" {
		d, err := time.ParseDuration(yc.Election.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("election.timeout: %w", err)
		}
		cfg.ElectTimeout = d
	}
	if yc.Election.Gather != "" {
		d, err := time.ParseDuration(yc.Election.Gather)
		if err != nil {
			return Config{}, fmt.Errorf("election.gather: %w", err)
		}
		cfg.ElectGather = d
	}

	if len(yc.Capabilities) > 0 {
		cfg.Capabilities = yc.Capabilities
	}

	return cfg, nil
}

// ProbeInterval converts ProbeHz into the Duration the probe driver
// expects.
func (c Config) ProbeInterval() time.Duration {
	if c.ProbeHz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / c.ProbeHz)
}
