package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the stash server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotationPeriod  int    `hcl:"log_rotation_period,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Mounts    []MountBlock    `hcl:"mount,block"`
}

// StorageBlock selects the root driver
type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem", "file", or "sqlite"

	// File and sqlite driver config
	Path string `hcl:"path,optional"`

	// Inmem driver config
	MaxValueSize int `hcl:"max_value_size,optional"`

	// SQLite driver config
	Table       string `hcl:"table,optional"`
	BusyTimeout int    `hcl:"busy_timeout,optional"`
}

// Config returns the storage configuration as a map
func (s *StorageBlock) Config() map[string]string {
	config := make(map[string]string)

	if s.Path != "" {
		config["path"] = s.Path
	}
	if s.MaxValueSize != 0 {
		config["max_value_size"] = fmt.Sprintf("%d", s.MaxValueSize)
	}
	if s.Table != "" {
		config["table"] = s.Table
	}
	if s.BusyTimeout != 0 {
		config["busy_timeout"] = fmt.Sprintf("%d", s.BusyTimeout)
	}

	return config
}

// MountBlock attaches an extra driver at a base path
type MountBlock struct {
	Base string `hcl:"base,label"`
	Type string `hcl:"type"`

	Path        string `hcl:"path,optional"`
	Table       string `hcl:"table,optional"`
	BusyTimeout int    `hcl:"busy_timeout,optional"`
}

// Config returns the mount configuration as a map
func (m *MountBlock) Config() map[string]string {
	config := make(map[string]string)

	if m.Path != "" {
		config["path"] = m.Path
	}
	if m.Table != "" {
		config["table"] = m.Table
	}
	if m.BusyTimeout != 0 {
		config["busy_timeout"] = fmt.Sprintf("%d", m.BusyTimeout)
	}

	return config
}

type ListenerBlock struct {
	Name    string `hcl:"name,label"`
	Address string `hcl:"address"`
}

func LoadConfig(configFile string) (*Config, error) {
	var config Config

	if err := hclsimple.DecodeFile(configFile, nil, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}
