package netif

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/vmwire/vmwire/internal/executor"
)

// device is the fake host's view of one link
type device struct {
	Kind       string
	MAC        string
	Addrs      []string
	Master     string
	Up         bool
	MultiQueue bool
	TapOwner   string
	DevOwner   string
	Ifindex    int
}

// fakeHost is an executor.Runner that interprets the ip, sysfs and device
// node commands issued by this package against an in-memory link table
type fakeHost struct {
	user string
	// ignoreMAC drops "ip link set X address" to simulate a driver that
	// refuses the change
	ignoreMAC bool

	mu        sync.Mutex
	devices   map[string]*device
	nextIndex int
	commands  []string
}

func newFakeHost(physical ...string) *fakeHost {
	f := &fakeHost{user: "vmuser", devices: map[string]*device{}, nextIndex: 10}
	for _, name := range physical {
		f.add(name, &device{Kind: "physical", Up: true})
	}
	return f
}

func (f *fakeHost) add(name string, d *device) {
	f.nextIndex++
	d.Ifindex = f.nextIndex
	if d.MAC == "" {
		d.MAC = fmt.Sprintf("02:00:00:00:00:%02x", f.nextIndex)
	}
	f.devices[name] = d
}

func (f *fakeHost) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// snapshot returns a copy of the link table. Ifindexes and kernel
// assigned MACs change on every creation and are cleared.
func (f *fakeHost) snapshot() map[string]device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]device, len(f.devices))
	for name, d := range f.devices {
		c := *d
		c.Ifindex = 0
		if d.Kind != "macvtap" && d.Kind != "physical" {
			c.MAC = ""
		}
		c.Addrs = append([]string(nil), d.Addrs...)
		out[name] = c
	}
	return out
}

func (f *fakeHost) Run(ctx context.Context, req executor.Request) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := req.Line()
	if req.Sudo {
		f.commands = append(f.commands, "sudo "+line)
	} else {
		f.commands = append(f.commands, line)
	}

	code, stdout := f.exec(strings.Fields(line))
	result := &executor.Result{Host: "fake", Command: line, ExitCode: code, Stdout: stdout}
	if code != 0 && !req.AllowFailure {
		return result, &executor.CommandError{Result: result}
	}
	return result, nil
}

func (f *fakeHost) exec(args []string) (int, string) {
	join := strings.Join(args, " ")
	switch {
	case join == "whoami":
		return 0, f.user + "\n"

	case len(args) == 4 && join == "ip link show "+args[3]:
		if _, ok := f.devices[args[3]]; ok {
			return 0, ""
		}
		return 1, ""

	case len(args) == 4 && args[0] == "ip" && args[2] == "delete":
		gone, ok := f.devices[args[3]]
		if !ok {
			return 1, ""
		}
		delete(f.devices, args[3])
		if gone.Kind == "bridge" {
			for _, d := range f.devices {
				if d.Master == args[3] {
					d.Master = ""
				}
			}
		}
		return 0, ""

	case len(args) == 7 && strings.HasPrefix(join, "ip link add name ") && args[6] == "bridge":
		return f.create(args[4], &device{Kind: "bridge"})

	case strings.HasPrefix(join, "ip tuntap add dev "):
		d := &device{Kind: "tap", MultiQueue: strings.Contains(join, " multi_queue ")}
		d.TapOwner = args[len(args)-3] + ":" + args[len(args)-1]
		return f.create(args[4], d)

	case len(args) == 11 && strings.HasPrefix(join, "ip link add link "):
		if _, ok := f.devices[args[4]]; !ok {
			return 1, ""
		}
		return f.create(args[6], &device{Kind: args[8], Master: args[4]})

	case len(args) == 6 && strings.HasPrefix(join, "ip addr add ") && args[4] == "dev":
		d, ok := f.devices[args[5]]
		if !ok {
			return 1, ""
		}
		for _, a := range d.Addrs {
			if a == args[3] {
				return 2, ""
			}
		}
		d.Addrs = append(d.Addrs, args[3])
		return 0, ""

	case len(args) >= 5 && strings.HasPrefix(join, "ip link set "):
		d, ok := f.devices[args[3]]
		if !ok {
			return 1, ""
		}
		switch args[4] {
		case "up":
			d.Up = true
		case "down":
			d.Up = false
		case "address":
			if !f.ignoreMAC {
				d.MAC = args[5]
			}
		case "master":
			if _, ok := f.devices[args[5]]; !ok {
				return 1, ""
			}
			d.Master = args[5]
		default:
			return 2, ""
		}
		return 0, ""

	case len(args) == 2 && args[0] == "cat" && strings.HasPrefix(args[1], "/sys/class/net/"):
		parts := strings.Split(args[1], "/")
		d, ok := f.devices[parts[4]]
		if !ok {
			return 1, ""
		}
		switch parts[5] {
		case "ifindex":
			return 0, strconv.Itoa(d.Ifindex) + "\n"
		case "address":
			return 0, d.MAC + "\n"
		}
		return 1, ""

	case len(args) == 3 && args[0] == "ls" && strings.HasPrefix(args[2], "/dev/tap"):
		if f.tapDevice(args[2]) != nil {
			return 0, "crw------- 1 root root 241, 1 " + args[2] + "\n"
		}
		return 2, ""

	case len(args) == 3 && args[0] == "chown":
		d := f.tapDevice(args[2])
		if d == nil {
			return 1, ""
		}
		d.DevOwner = args[1]
		return 0, ""
	}
	return 127, ""
}

func (f *fakeHost) create(name string, d *device) (int, string) {
	if _, ok := f.devices[name]; ok {
		return 2, ""
	}
	f.add(name, d)
	return 0, ""
}

func (f *fakeHost) tapDevice(path string) *device {
	idx, err := strconv.Atoi(strings.TrimPrefix(path, "/dev/tap"))
	if err != nil {
		return nil
	}
	for _, d := range f.devices {
		if d.Kind == "macvtap" && d.Ifindex == idx {
			return d
		}
	}
	return nil
}
