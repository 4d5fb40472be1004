package netif

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/executor"
)

// run executes a quiet command on h
func run(ctx context.Context, h Host, line string, sudo bool) (*executor.Result, error) {
	return h.Runner.Run(ctx, executor.Request{
		Command:  line,
		Target:   h.Target,
		Sudo:     sudo,
		NoPipe:   true,
		NoOutput: true,
	})
}

// exists reports whether an interface named iface is present on h
func exists(ctx context.Context, h Host, iface string) (bool, error) {
	result, err := h.Runner.Run(ctx, executor.Request{
		Command:      "ip link show " + iface,
		Target:       h.Target,
		NoPipe:       true,
		NoOutput:     true,
		AllowFailure: true,
	})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func remove(ctx context.Context, h Host, iface string) error {
	h.printf("Deleting interface: %s on host %s", iface, h.name())
	_, err := run(ctx, h, "ip link delete "+iface, true)
	return err
}

// replace deletes iface when it already exists
func replace(ctx context.Context, h Host, iface string) error {
	ok, err := exists(ctx, h, iface)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	h.printf("Interface '%s' already exists. Deleting it.", iface)
	return remove(ctx, h, iface)
}

// removeIfExists is the delete path shared by every host-side variant
func removeIfExists(ctx context.Context, h Host, iface string) error {
	ok, err := exists(ctx, h, iface)
	if err != nil || !ok {
		return err
	}
	return remove(ctx, h, iface)
}

func setUp(ctx context.Context, h Host, iface string) error {
	h.printf("Setting interface '%s' up on host %s.", iface, h.name())
	_, err := run(ctx, h, fmt.Sprintf("ip link set %s up", iface), true)
	return err
}

func setDown(ctx context.Context, h Host, iface string) error {
	h.printf("Setting interface '%s' down on host %s.", iface, h.name())
	_, err := run(ctx, h, fmt.Sprintf("ip link set %s down", iface), true)
	return err
}

func setIP(ctx context.Context, h Host, iface, addr string) error {
	h.printf("Setting IP address '%s' on interface '%s', on host %s.", addr, iface, h.name())
	_, err := run(ctx, h, fmt.Sprintf("ip addr add %s dev %s", addr, iface), true)
	return err
}

func setMAC(ctx context.Context, h Host, iface, mac string) error {
	h.printf("Setting MAC address '%s' on interface '%s' on host %s.", mac, iface, h.name())
	_, err := run(ctx, h, fmt.Sprintf("ip link set %s address %s", iface, mac), true)
	return err
}

func setMaster(ctx context.Context, h Host, iface, master string) error {
	h.printf("Setting master for interface '%s' to '%s'.", iface, master)
	_, err := run(ctx, h, fmt.Sprintf("ip link set %s master %s", iface, master), true)
	return err
}

// username returns the login user of h
func username(ctx context.Context, h Host) (string, error) {
	result, err := run(ctx, h, "whoami", false)
	if err != nil {
		return "", err
	}
	user := strings.TrimSpace(result.Stdout)
	if user == "" {
		return "", fmt.Errorf("whoami returned nothing on %s", h.name())
	}
	return user, nil
}

// deviceFile returns the character device backing a macvtap interface
func deviceFile(ctx context.Context, h Host, iface string) (string, error) {
	result, err := run(ctx, h, "cat "+constants.IfindexPath(iface), false)
	if err != nil {
		return "", err
	}
	ifindex := strings.TrimSpace(result.Stdout)
	if _, err := strconv.Atoi(ifindex); err != nil {
		return "", fmt.Errorf("unexpected ifindex %q for %s on %s", ifindex, iface, h.name())
	}

	dev := constants.TapDevicePath(ifindex)
	result, err = h.Runner.Run(ctx, executor.Request{
		Command:      "ls -l " + dev,
		Target:       h.Target,
		NoPipe:       true,
		NoOutput:     true,
		AllowFailure: true,
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("interface '%s' does not exist or is not a tap interface on %s", iface, h.name())
	}
	return dev, nil
}

// macAddress returns the MAC address the host reports for iface
func macAddress(ctx context.Context, h Host, iface string) (net.HardwareAddr, error) {
	result, err := run(ctx, h, "cat "+constants.MACAddressPath(iface), false)
	if err != nil {
		return nil, err
	}
	mac, err := net.ParseMAC(strings.TrimSpace(result.Stdout))
	if err != nil {
		return nil, fmt.Errorf("unexpected MAC address for %s on %s: %w", iface, h.name(), err)
	}
	return mac, nil
}
