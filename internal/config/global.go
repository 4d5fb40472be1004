package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	// GlobalConfigDir is the configuration directory name
	GlobalConfigDir = "vmwire"
	// GlobalConfigFile is the global config filename
	GlobalConfigFile = "config.yaml"
)

// GetGlobalConfigPath returns the path to the global config file
func GetGlobalConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, GlobalConfigDir, GlobalConfigFile), nil
}

// LoadGlobalConfig loads the global configuration. An empty path means the
// default location; a missing default file yields the default config.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	explicit := path != ""
	if !explicit {
		p, err := GetGlobalConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return DefaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse global config: %w", err)
	}

	if config.Hosts == nil {
		config.Hosts = make(map[string]HostConfig)
	}

	return &config, nil
}

// SaveGlobalConfig saves the global configuration
func SaveGlobalConfig(config *GlobalConfig, path string) error {
	if path == "" {
		p, err := GetGlobalConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	dir := filepath.Dir(path)
	// SECURITY: Use 0700 to restrict directory access to owner only
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// SECURITY: Use 0600 to restrict file access to owner only (may reference credentials)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write global config: %w", err)
	}

	return nil
}

// GetHost retrieves a host configuration by name with its gateway chain
// fully materialized. Via references are replaced by nested gateways.
func (c *GlobalConfig) GetHost(name string) (*HostConfig, error) {
	return c.resolveHost(name, map[string]bool{})
}

func (c *GlobalConfig) resolveHost(name string, seen map[string]bool) (*HostConfig, error) {
	if seen[name] {
		return nil, fmt.Errorf("gateway cycle detected at host '%s'", name)
	}
	seen[name] = true

	host, ok := c.Hosts[name]
	if !ok {
		return nil, fmt.Errorf("host '%s' not found", name)
	}
	if host.Name == "" {
		host.Name = name
	}
	c.applyDefaults(&host)

	resolved, err := c.resolveGateway(&host, seen)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (c *GlobalConfig) resolveGateway(host *HostConfig, seen map[string]bool) (*HostConfig, error) {
	switch {
	case host.Via != "" && host.Gateway != nil:
		return nil, fmt.Errorf("host '%s' sets both via and gateway", host.DisplayName())
	case host.Via != "":
		gw, err := c.resolveHost(host.Via, seen)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve gateway for '%s': %w", host.DisplayName(), err)
		}
		host.Gateway = gw
		host.Via = ""
	case host.Gateway != nil:
		gw := *host.Gateway
		c.applyDefaults(&gw)
		resolved, err := c.resolveGateway(&gw, seen)
		if err != nil {
			return nil, err
		}
		host.Gateway = resolved
	}
	return host, nil
}

func (c *GlobalConfig) applyDefaults(host *HostConfig) {
	if host.User == "" {
		host.User = c.DefaultUser
	}
	if host.Port == 0 {
		host.Port = c.DefaultPort
	}
}

// AddHost adds a new host to the configuration
func (c *GlobalConfig) AddHost(name string, host HostConfig) error {
	if _, exists := c.Hosts[name]; exists {
		return fmt.Errorf("host '%s' already exists", name)
	}

	if host.Port == 0 {
		host.Port = c.DefaultPort
		if host.Port == 0 {
			host.Port = 22
		}
	}

	c.Hosts[name] = host
	return nil
}

// RemoveHost removes a host from the configuration
func (c *GlobalConfig) RemoveHost(name string) error {
	if _, exists := c.Hosts[name]; !exists {
		return fmt.Errorf("host '%s' not found", name)
	}

	for other, h := range c.Hosts {
		if h.Via == name {
			return fmt.Errorf("host '%s' is used as gateway by '%s'", name, other)
		}
	}

	delete(c.Hosts, name)
	return nil
}

// ListHosts returns all host names, sorted
func (c *GlobalConfig) ListHosts() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
