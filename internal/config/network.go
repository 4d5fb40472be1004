package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// NetworkConfigFile is the default network definition filename
	NetworkConfigFile = "network.yaml"
)

// LoadNetworkConfig loads a network definition. JSON files are accepted too
// since YAML is a superset of JSON.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	if path == "" {
		path = NetworkConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("network file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read network file: %w", err)
	}

	return ParseNetworkConfig(data)
}

// ParseNetworkConfig decodes and validates a network definition
func ParseNetworkConfig(data []byte) (*NetworkConfig, error) {
	var config NetworkConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse network file: %w", err)
	}

	var errs ValidationErrors
	seen := make(map[string]bool)
	for i := range config.Interfaces {
		iface := &config.Interfaces[i]
		iface.Kind = NormalizeKind(iface.Kind)
		for _, e := range ValidateInterfaceConfig(iface) {
			e.Field = fmt.Sprintf("interfaces[%d].%s", i, e.Field)
			errs = append(errs, e)
		}
		key := iface.Host + "/" + iface.Name
		if iface.Name != "" && seen[key] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("interfaces[%d].name", i),
				Message: fmt.Sprintf("duplicate interface '%s'", iface.Name),
			})
		}
		seen[key] = true
	}
	if errs.HasErrors() {
		return nil, errs
	}

	return &config, nil
}

// NormalizeKind maps accepted spellings to their canonical kind
func NormalizeKind(kind InterfaceKind) InterfaceKind {
	switch kind {
	case "br":
		return KindBridge
	case "mac_vtap":
		return KindMacVtap
	case "mac_vlan":
		return KindMacVlan
	case "slirp":
		return KindUser
	default:
		return kind
	}
}
