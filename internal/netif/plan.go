package netif

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vmwire/vmwire/internal/config"
)

// Plan is an ordered set of interfaces provisioned together
type Plan struct {
	Interfaces []Interface
}

// HostResolver returns the Host an interface definition names. An empty
// name is the local machine.
type HostResolver func(name string) (Host, error)

// NewPlan builds every interface of cfg, failing before any host command
// when a definition is invalid
func NewPlan(cfg *config.NetworkConfig, resolve HostResolver) (*Plan, error) {
	p := &Plan{}
	for i, def := range cfg.Interfaces {
		h, err := resolve(def.Host)
		if err != nil {
			return nil, fmt.Errorf("interfaces[%d]: %w", i, err)
		}
		iface, err := New(def, h)
		if err != nil {
			return nil, fmt.Errorf("interfaces[%d]: %w", i, err)
		}
		p.Interfaces = append(p.Interfaces, iface)
	}
	return p, nil
}

// stage orders creation: bridges first since taps and children attach to
// them, then macvlans, then the devices guests open
func stage(kind config.InterfaceKind) int {
	switch kind {
	case config.KindBridge:
		return 0
	case config.KindMacVlan:
		return 1
	default:
		return 2
	}
}

const numStages = 3

func (p *Plan) stages() [numStages][]Interface {
	var out [numStages][]Interface
	for _, iface := range p.Interfaces {
		s := stage(iface.Kind())
		out[s] = append(out[s], iface)
	}
	return out
}

// Provision creates every interface. Stages run in order; interfaces
// within a stage are created concurrently.
func (p *Plan) Provision(ctx context.Context) error {
	for _, ifaces := range p.stages() {
		g, gctx := errgroup.WithContext(ctx)
		for _, iface := range ifaces {
			iface := iface
			g.Go(func() error {
				if err := iface.Create(gctx); err != nil {
					return fmt.Errorf("failed to create %s %s: %w", iface.Kind(), iface.Name(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Teardown deletes every interface in reverse stage order
func (p *Plan) Teardown(ctx context.Context) error {
	stages := p.stages()
	for i := numStages - 1; i >= 0; i-- {
		g, gctx := errgroup.WithContext(ctx)
		for _, iface := range stages[i] {
			iface := iface
			g.Go(func() error {
				if err := iface.Delete(gctx); err != nil {
					return fmt.Errorf("failed to delete %s %s: %w", iface.Kind(), iface.Name(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Args concatenates the hypervisor arguments of every interface in
// definition order. Descriptor-passing interfaces get consecutive fds
// starting at firstFD.
func (p *Plan) Args(ctx context.Context, firstFD int) ([]string, error) {
	var args []string
	fd := firstFD
	for _, iface := range p.Interfaces {
		n := 0
		if iface.PassesFD() {
			n = fd
			fd++
		}
		a, err := iface.HypervisorArgs(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("arguments for %s: %w", iface.Name(), err)
		}
		args = append(args, a...)
	}
	return args, nil
}
