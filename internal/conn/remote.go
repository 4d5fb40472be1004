package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmwire/vmwire/internal/config"
	"github.com/vmwire/vmwire/internal/ssh"
)

// Remote runs commands and transfers files over SSH. It owns its gateway
// chain: closing a Remote closes every hop behind it.
type Remote struct {
	client  *ssh.Client
	gateway *Remote
}

// Resolve builds the handle described by cfg, resolving its gateway chain
// first. No connection is attempted.
func Resolve(cfg *config.HostConfig, opts ...ssh.ClientOption) (*Remote, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, ErrNoHost
	}

	hostOpts := make([]ssh.ClientOption, 0, len(opts)+3)
	hostOpts = append(hostOpts, opts...)
	hostOpts = append(hostOpts, ssh.WithName(cfg.DisplayName()))
	if cfg.SudoPasswordEnv != "" {
		if pw := os.Getenv(cfg.SudoPasswordEnv); pw != "" {
			hostOpts = append(hostOpts, ssh.WithSudoPassword(pw))
		}
	}

	var gateway *Remote
	if cfg.Gateway != nil && !cfg.PersistentTunnel {
		gw, err := Resolve(cfg.Gateway, opts...)
		if err != nil {
			return nil, fmt.Errorf("gateway of %s: %w", cfg.DisplayName(), err)
		}
		gateway = gw
		hostOpts = append(hostOpts, ssh.WithGateway(gw.client))
	}

	client := ssh.NewClient(cfg.Host, cfg.User, cfg.Port, cfg.KeyPath, hostOpts...)
	return &Remote{client: client, gateway: gateway}, nil
}

func (r *Remote) Name() string         { return r.client.Name() }
func (r *Remote) IsLocal() bool        { return false }
func (r *Remote) SudoPassword() string { return r.client.SudoPassword() }

// Gateway returns the handle this one tunnels through, nil when direct
func (r *Remote) Gateway() *Remote {
	return r.gateway
}

// Client returns the underlying SSH client
func (r *Remote) Client() *ssh.Client {
	return r.client
}

func (r *Remote) Run(ctx context.Context, cmd Command) (int, error) {
	return r.client.Run(ctx, cmd.Line, ssh.RunOptions{
		Stdin:  cmd.Stdin,
		Stdout: cmd.Stdout,
		Stderr: cmd.Stderr,
		PTY:    cmd.PTY,
	})
}

func (r *Remote) Transfer(ctx context.Context) (Transfer, error) {
	if _, err := r.client.SFTP(); err != nil {
		return nil, err
	}
	return &sftpTransfer{client: r.client}, nil
}

// Close closes the connection and its gateway chain
func (r *Remote) Close() error {
	return r.client.Close()
}

type sftpTransfer struct {
	client *ssh.Client
}

func (t *sftpTransfer) Stat(ctx context.Context, path string) (Stat, error) {
	info, err := t.client.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Stat{}, nil
		}
		return Stat{}, fmt.Errorf("failed to stat %s on %s: %w", path, t.client.Name(), err)
	}
	return StatFromInfo(info), nil
}

func (t *sftpTransfer) Put(ctx context.Context, r io.Reader, path string, mode os.FileMode) error {
	return t.client.Upload(ctx, r, path, mode)
}

func (t *sftpTransfer) Get(ctx context.Context, path string, w io.Writer) (os.FileMode, error) {
	return t.client.Download(ctx, path, w)
}

func (t *sftpTransfer) Remove(ctx context.Context, path string) error {
	return t.client.Remove(ctx, path)
}
