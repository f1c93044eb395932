// Package config loads this node's configuration from YAML, grounded on the
// teacher's pkg/config/config.go CONFIG-env-var-or-file loading pattern.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/flowmesh-io/sfu/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// HTTP configures the WHIP/WHEP/connect signaling listener (§6-EXPANSION).
type HTTP struct {
	// ListenAddr is the address cmd/sfu binds its HTTP API to.
	ListenAddr string `yaml:"listenAddr"`
}

// Cluster configures this node's identity and ticking within the cluster
// (§4.9, §5).
type Cluster struct {
	// NodeID uniquely identifies this node to the KV/pub-sub collaborator
	// and to the node-health console snapshot.
	NodeID string `yaml:"nodeId"`
	// TickIntervalMs is the clock.Ticker interval driving allocator/selector/
	// mixer on_tick across every hosted room (§5; defaults to
	// clock.DefaultTick when zero).
	TickIntervalMs int64 `yaml:"tickIntervalMs"`
	// MailboxSize bounds each endpoint's outbound event queue (§5 "no locks
	// on the hot path", bounded outbox).
	MailboxSize int `yaml:"mailboxSize"`
}

// Config is this SFU node's configuration.
type Config struct {
	Cluster   Cluster           `yaml:"cluster"`
	HTTP      HTTP              `yaml:"http"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
	// LogLevel is the logrus level name to log at ("debug", "info", "warn",
	// "error", "fatal", "panic").
	LogLevel string `yaml:"log"`
}

// ErrNoConfigEnvVar is returned by LoadConfigFromEnv when CONFIG is unset.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// LoadConfig tries the CONFIG environment variable first, falling back to
// the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}
		return LoadConfigFromPath(path)
	}
	return config, nil
}

// LoadConfigFromEnv loads a config from the CONFIG environment variable.
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}
	return LoadConfigFromString(configEnv)
}

// LoadConfigFromPath loads a config from a YAML file.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return LoadConfigFromString(string(file))
}

// LoadConfigFromString parses and validates a YAML config.
func LoadConfigFromString(configString string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
	}

	if config.Cluster.NodeID == "" {
		return nil, errors.New("invalid config: cluster.nodeId is required")
	}
	if config.HTTP.ListenAddr == "" {
		return nil, errors.New("invalid config: http.listenAddr is required")
	}
	if config.Cluster.MailboxSize <= 0 {
		config.Cluster.MailboxSize = 256
	}

	return &config, nil
}
