// Package config loads static Taskmaster defaults from a YAML file,
// grounded on orion-prototipe's internal/config package: a plain
// struct with yaml tags, a Load that reads+unmarshals+validates, and
// no further abstraction.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the static options spec §6 enumerates, loadable from a
// file and merged by the caller with any programmatic Taskmaster
// setters.
type Config struct {
	// Bootstrap is the init script path loaded in each spawned child.
	Bootstrap string `yaml:"bootstrap"`
	// Executable is the child interpreter path.
	Executable string `yaml:"executable"`
	// SocketWaitTimeUS is the bounded poll timeout, in microseconds
	// (spec §6 default 500-1000; Validate sets 1000 when left zero).
	SocketWaitTimeUS int `yaml:"socket_wait_time_us"`
	// Workers declares the static worker groups to stand up.
	Workers []WorkerGroup `yaml:"workers"`
}

// WorkerGroup declares how many workers of a given group to create.
type WorkerGroup struct {
	Group string `yaml:"group"`
	Count int    `yaml:"count"`
}

// SocketWaitTime returns SocketWaitTimeUS as a time.Duration.
func (c Config) SocketWaitTime() time.Duration {
	return time.Duration(c.SocketWaitTimeUS) * time.Microsecond
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, nil
}
