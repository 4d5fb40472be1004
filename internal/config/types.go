package config

// GlobalConfig represents the global ~/.config/vmwire/config.yaml
type GlobalConfig struct {
	Hosts       map[string]HostConfig `yaml:"hosts"`
	DefaultUser string                `yaml:"default_user,omitempty"`
	DefaultPort int                   `yaml:"default_port,omitempty"`
	// SSHTimeout is the dial timeout in seconds
	SSHTimeout int `yaml:"ssh_timeout,omitempty"`
	// Workers bounds the number of commands running at once
	Workers int    `yaml:"workers,omitempty"`
	TmpDir  string `yaml:"tmp_dir,omitempty"`
}

// HostConfig describes how to reach a host. A gateway is either nested
// inline or referenced by name through Via; both form an acyclic chain.
type HostConfig struct {
	Name    string      `yaml:"name,omitempty"`
	Host    string      `yaml:"host"`
	User    string      `yaml:"user,omitempty"`
	Port    int         `yaml:"local_port,omitempty"`
	KeyPath string      `yaml:"key_path,omitempty"`
	Gateway *HostConfig `yaml:"gateway,omitempty"`
	Via     string      `yaml:"via,omitempty"`
	// PersistentTunnel means the target port is already forwarded by a
	// long-lived tunnel, so the gateway must not be dialed again.
	PersistentTunnel bool   `yaml:"persistent_ssh_tunnel,omitempty"`
	SudoPasswordEnv  string `yaml:"sudo_password_env,omitempty"`
}

// DisplayName returns the connection identity used in logs and temp paths
func (h *HostConfig) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Host
}

// InterfaceKind tags the variant of an interface definition
type InterfaceKind string

const (
	KindBridge  InterfaceKind = "bridge"
	KindTap     InterfaceKind = "tap"
	KindMacVtap InterfaceKind = "macvtap"
	KindMacVlan InterfaceKind = "macvlan"
	KindUser    InterfaceKind = "user"
)

// InterfaceConfig is one entry of a network file. Which fields are
// mandatory depends on Kind.
type InterfaceConfig struct {
	Kind       InterfaceKind `yaml:"type"`
	Name       string        `yaml:"name"`
	Master     string        `yaml:"master,omitempty"`
	MACAddress string        `yaml:"mac_address,omitempty"`
	IPAddress  string        `yaml:"ip_address,omitempty"`
	QueueCount int           `yaml:"queue_count,omitempty"`
	VHost      bool          `yaml:"vhost,omitempty"`
	Children   []string      `yaml:"children,omitempty"`
	// Host names the configured host the interface lives on; empty means local
	Host string `yaml:"host,omitempty"`
}

// Queues returns the configured queue count, defaulting to a single queue
func (i *InterfaceConfig) Queues() int {
	if i.QueueCount < 1 {
		return 1
	}
	return i.QueueCount
}

// NetworkConfig represents a network definition file
type NetworkConfig struct {
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// DefaultGlobalConfig returns a default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Hosts:       make(map[string]HostConfig),
		DefaultPort: 22,
	}
}
