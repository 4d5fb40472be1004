// Package netif creates host network devices for virtual machines and
// renders the hypervisor arguments that attach a guest to them.
package netif

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/config"
	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/executor"
)

// Interface is a network device a guest attaches to
type Interface interface {
	Name() string
	Kind() config.InterfaceKind
	// Create makes the device exist on its host as configured. A device
	// with the same name is deleted first.
	Create(ctx context.Context) error
	// Delete removes the device from its host when present
	Delete(ctx context.Context) error
	// HypervisorArgs returns the tokens to append to the hypervisor
	// command line. fd is only used by variants that pass a descriptor.
	HypervisorArgs(ctx context.Context, fd int) ([]string, error)
	// PassesFD reports whether HypervisorArgs consumes fd
	PassesFD() bool
}

// Host is the machine an interface lives on and how commands reach it
type Host struct {
	Runner executor.Runner
	// Target is nil for the local machine
	Target conn.Conn
	// Out receives progress lines; nil discards them
	Out    io.Writer
	Logger *zap.Logger
}

func (h Host) name() string {
	if h.Target == nil {
		return constants.LocalhostName
	}
	return h.Target.Name()
}

func (h Host) printf(format string, args ...interface{}) {
	if h.Out != nil {
		fmt.Fprintf(h.Out, format+"\n", args...)
	}
}

func (h Host) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger.Named("netif").With(zap.String("host", h.name()))
}

// New builds the variant named by cfg.Kind. The definition is validated
// before anything is sent to the host.
func New(cfg config.InterfaceConfig, h Host) (Interface, error) {
	cfg.Kind = config.NormalizeKind(cfg.Kind)
	if err := config.ValidateInterfaceConfig(&cfg).Err(); err != nil {
		return nil, fmt.Errorf("interface %q: %w", cfg.Name, err)
	}

	switch cfg.Kind {
	case config.KindBridge:
		return &Bridge{cfg: cfg, host: h}, nil
	case config.KindTap:
		return &Tap{cfg: cfg, host: h}, nil
	case config.KindMacVtap:
		return &MacVtap{cfg: cfg, host: h}, nil
	case config.KindMacVlan:
		return &MacVlan{cfg: cfg, host: h}, nil
	case config.KindUser:
		return &User{cfg: cfg, host: h}, nil
	}
	return nil, fmt.Errorf("unsupported interface type %q", cfg.Kind)
}

// newChecked validates cfg as the given kind for the typed constructors
func newChecked(cfg config.InterfaceConfig, kind config.InterfaceKind) (config.InterfaceConfig, error) {
	cfg.Kind = kind
	if err := config.ValidateInterfaceConfig(&cfg).Err(); err != nil {
		return cfg, fmt.Errorf("interface %q: %w", cfg.Name, err)
	}
	return cfg, nil
}

// NewBridge returns a bridge device
func NewBridge(cfg config.InterfaceConfig, h Host) (*Bridge, error) {
	cfg, err := newChecked(cfg, config.KindBridge)
	if err != nil {
		return nil, err
	}
	return &Bridge{cfg: cfg, host: h}, nil
}

// NewTap returns a tap device
func NewTap(cfg config.InterfaceConfig, h Host) (*Tap, error) {
	cfg, err := newChecked(cfg, config.KindTap)
	if err != nil {
		return nil, err
	}
	return &Tap{cfg: cfg, host: h}, nil
}

// NewMacVtap returns a macvtap device
func NewMacVtap(cfg config.InterfaceConfig, h Host) (*MacVtap, error) {
	cfg, err := newChecked(cfg, config.KindMacVtap)
	if err != nil {
		return nil, err
	}
	return &MacVtap{cfg: cfg, host: h}, nil
}

// NewMacVlan returns a macvlan device
func NewMacVlan(cfg config.InterfaceConfig, h Host) (*MacVlan, error) {
	cfg, err := newChecked(cfg, config.KindMacVlan)
	if err != nil {
		return nil, err
	}
	return &MacVlan{cfg: cfg, host: h}, nil
}

// NewUser returns a user-mode network
func NewUser(cfg config.InterfaceConfig, h Host) (*User, error) {
	cfg, err := newChecked(cfg, config.KindUser)
	if err != nil {
		return nil, err
	}
	return &User{cfg: cfg, host: h}, nil
}

// virtioDevice renders the guest NIC argument shared by every variant
func virtioDevice(name, mac string, queues int) string {
	dev := fmt.Sprintf("virtio-net-pci,netdev=%s,mac=%s", name, mac)
	if queues > 1 {
		dev += fmt.Sprintf(",mq=on,vectors=%d", 2*queues+1)
	}
	return dev
}

// tapOptions renders the vhost and queue suffix of a tap netdev
func tapOptions(vhost bool, queues int) string {
	var opts string
	if vhost {
		opts += ",vhost=on"
	}
	if queues > 1 {
		opts += fmt.Sprintf(",queues=%d", queues)
	}
	return opts
}
