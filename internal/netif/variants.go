package netif

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/config"
)

// Bridge is a host-side software switch. It produces no hypervisor
// arguments.
type Bridge struct {
	cfg  config.InterfaceConfig
	host Host
}

func (b *Bridge) Name() string               { return b.cfg.Name }
func (b *Bridge) Kind() config.InterfaceKind { return config.KindBridge }
func (b *Bridge) PassesFD() bool             { return false }

func (b *Bridge) Create(ctx context.Context) error {
	h := b.host
	if err := replace(ctx, h, b.cfg.Name); err != nil {
		return err
	}

	h.printf("Creating bridge interface: %s", b.cfg.Name)
	h.log().Debug("creating bridge", zap.String("name", b.cfg.Name), zap.Strings("children", b.cfg.Children))
	if _, err := run(ctx, h, fmt.Sprintf("ip link add name %s type bridge", b.cfg.Name), true); err != nil {
		return err
	}

	if b.cfg.IPAddress != "" {
		if err := setIP(ctx, h, b.cfg.Name, b.cfg.IPAddress); err != nil {
			return err
		}
	}

	for _, child := range b.cfg.Children {
		if err := setDown(ctx, h, child); err != nil {
			return err
		}
		h.printf("Adding child interface '%s' to bridge '%s'.", child, b.cfg.Name)
		if err := setMaster(ctx, h, child, b.cfg.Name); err != nil {
			return err
		}
		if err := setUp(ctx, h, child); err != nil {
			return err
		}
	}

	return setUp(ctx, h, b.cfg.Name)
}

func (b *Bridge) Delete(ctx context.Context) error {
	return removeIfExists(ctx, b.host, b.cfg.Name)
}

func (b *Bridge) HypervisorArgs(ctx context.Context, fd int) ([]string, error) {
	return nil, nil
}

// Tap is a tap device owned by the login user, either addressed or
// enslaved to a bridge
type Tap struct {
	cfg  config.InterfaceConfig
	host Host
}

func (t *Tap) Name() string               { return t.cfg.Name }
func (t *Tap) Kind() config.InterfaceKind { return config.KindTap }
func (t *Tap) PassesFD() bool             { return false }

// Create leaves the host side with its own MAC; only the guest NIC gets
// the configured one.
func (t *Tap) Create(ctx context.Context) error {
	h := t.host
	if err := replace(ctx, h, t.cfg.Name); err != nil {
		return err
	}

	user, err := username(ctx, h)
	if err != nil {
		return err
	}

	multiQueue := ""
	if t.cfg.Queues() > 1 {
		multiQueue = " multi_queue"
	}

	h.printf("Creating tap interface: %s, with MAC %s", t.cfg.Name, t.cfg.MACAddress)
	h.log().Debug("creating tap", zap.String("name", t.cfg.Name), zap.Int("queues", t.cfg.Queues()))
	line := fmt.Sprintf("ip tuntap add dev %s mode tap%s user %s group %s", t.cfg.Name, multiQueue, user, user)
	if _, err := run(ctx, h, line, true); err != nil {
		return err
	}

	if t.cfg.IPAddress != "" {
		if err := setIP(ctx, h, t.cfg.Name, t.cfg.IPAddress); err != nil {
			return err
		}
	} else {
		if err := setMaster(ctx, h, t.cfg.Name, t.cfg.Master); err != nil {
			return err
		}
	}

	return setUp(ctx, h, t.cfg.Name)
}

func (t *Tap) Delete(ctx context.Context) error {
	return removeIfExists(ctx, t.host, t.cfg.Name)
}

func (t *Tap) HypervisorArgs(ctx context.Context, fd int) ([]string, error) {
	q := t.cfg.Queues()
	return []string{
		"-netdev",
		fmt.Sprintf("tap,id=%s,ifname=%s,script=no,downscript=no%s", t.cfg.Name, t.cfg.Name, tapOptions(t.cfg.VHost, q)),
		"-device",
		virtioDevice(t.cfg.Name, t.cfg.MACAddress, q),
	}, nil
}

// MacVtap is a macvtap device in bridge mode on a physical master. The
// hypervisor opens its character device and receives the descriptor.
type MacVtap struct {
	cfg  config.InterfaceConfig
	host Host
}

func (m *MacVtap) Name() string               { return m.cfg.Name }
func (m *MacVtap) Kind() config.InterfaceKind { return config.KindMacVtap }
func (m *MacVtap) PassesFD() bool             { return true }

// Create sets the host-side MAC to the guest's: the macvtap bridge only
// forwards frames, ARP included, to addresses it knows. The device node is
// chowned before the link goes up so the hypervisor can open it.
func (m *MacVtap) Create(ctx context.Context) error {
	h := m.host
	if err := replace(ctx, h, m.cfg.Name); err != nil {
		return err
	}

	h.printf("Creating macvtap interface: %s, on host %s.", m.cfg.Name, h.name())
	h.log().Debug("creating macvtap", zap.String("name", m.cfg.Name), zap.String("master", m.cfg.Master))
	line := fmt.Sprintf("ip link add link %s name %s type macvtap mode bridge", m.cfg.Master, m.cfg.Name)
	if _, err := run(ctx, h, line, true); err != nil {
		return err
	}

	if err := setMAC(ctx, h, m.cfg.Name, m.cfg.MACAddress); err != nil {
		return err
	}
	if err := m.checkMAC(ctx); err != nil {
		return err
	}

	user, err := username(ctx, h)
	if err != nil {
		return err
	}
	dev, err := deviceFile(ctx, h, m.cfg.Name)
	if err != nil {
		return err
	}
	h.printf("Changing ownership of %s to %s", dev, user)
	if _, err := run(ctx, h, fmt.Sprintf("chown %s:%s %s", user, user, dev), true); err != nil {
		return err
	}

	return setUp(ctx, h, m.cfg.Name)
}

// checkMAC verifies the host applied the configured MAC address
func (m *MacVtap) checkMAC(ctx context.Context) error {
	want, err := net.ParseMAC(m.cfg.MACAddress)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", m.cfg.MACAddress, err)
	}
	got, err := macAddress(ctx, m.host, m.cfg.Name)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("interface %s on %s reports MAC %s, want %s", m.cfg.Name, m.host.name(), got, want)
	}
	return nil
}

func (m *MacVtap) Delete(ctx context.Context) error {
	return removeIfExists(ctx, m.host, m.cfg.Name)
}

// HypervisorArgs includes the "fd<>device" redirection that opens the
// device node on descriptor fd for the hypervisor process
func (m *MacVtap) HypervisorArgs(ctx context.Context, fd int) ([]string, error) {
	dev, err := deviceFile(ctx, m.host, m.cfg.Name)
	if err != nil {
		return nil, err
	}
	q := m.cfg.Queues()
	return []string{
		"-netdev",
		fmt.Sprintf("tap,id=%s,fd=%d%s", m.cfg.Name, fd, tapOptions(m.cfg.VHost, q)),
		fmt.Sprintf("%d<>%s", fd, dev),
		"-device",
		virtioDevice(m.cfg.Name, m.cfg.MACAddress, q),
	}, nil
}

// MacVlan is a host-routed macvlan device. It produces no hypervisor
// arguments.
type MacVlan struct {
	cfg  config.InterfaceConfig
	host Host
}

func (m *MacVlan) Name() string               { return m.cfg.Name }
func (m *MacVlan) Kind() config.InterfaceKind { return config.KindMacVlan }
func (m *MacVlan) PassesFD() bool             { return false }

func (m *MacVlan) Create(ctx context.Context) error {
	h := m.host
	if err := replace(ctx, h, m.cfg.Name); err != nil {
		return err
	}

	h.printf("Creating macvlan interface: %s, on host %s.", m.cfg.Name, h.name())
	line := fmt.Sprintf("ip link add link %s name %s type macvlan mode bridge", m.cfg.Master, m.cfg.Name)
	if _, err := run(ctx, h, line, true); err != nil {
		return err
	}
	if err := setIP(ctx, h, m.cfg.Name, m.cfg.IPAddress); err != nil {
		return err
	}
	return setUp(ctx, h, m.cfg.Name)
}

func (m *MacVlan) Delete(ctx context.Context) error {
	return removeIfExists(ctx, m.host, m.cfg.Name)
}

func (m *MacVlan) HypervisorArgs(ctx context.Context, fd int) ([]string, error) {
	return nil, nil
}

// User is user-mode networking provided by the hypervisor itself. It
// never touches the host.
type User struct {
	cfg  config.InterfaceConfig
	host Host
}

func (u *User) Name() string               { return u.cfg.Name }
func (u *User) Kind() config.InterfaceKind { return config.KindUser }
func (u *User) PassesFD() bool             { return false }

func (u *User) Create(ctx context.Context) error {
	u.host.printf("Creating user interface with MAC address %s", u.cfg.MACAddress)
	return nil
}

func (u *User) Delete(ctx context.Context) error {
	return nil
}

func (u *User) HypervisorArgs(ctx context.Context, fd int) ([]string, error) {
	return []string{
		"-netdev",
		fmt.Sprintf("user,id=%s", u.cfg.Name),
		"-device",
		virtioDevice(u.cfg.Name, u.cfg.MACAddress, 1),
	}, nil
}
