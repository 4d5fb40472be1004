package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/vmwire/vmwire/internal/constants"
)

// Localhost runs commands through the local shell and transfers files on
// the local filesystem
type Localhost struct {
	fs           afero.Fs
	shell        string
	sudoPassword string
}

// LocalOption configures a Localhost
type LocalOption func(*Localhost)

// WithFs replaces the filesystem used for transfers
func WithFs(fs afero.Fs) LocalOption {
	return func(l *Localhost) {
		l.fs = fs
	}
}

// WithShell replaces the shell commands are run through
func WithShell(shell string) LocalOption {
	return func(l *Localhost) {
		l.shell = shell
	}
}

// WithLocalSudoPassword sets the password fed to sudo on this machine
func WithLocalSudoPassword(pw string) LocalOption {
	return func(l *Localhost) {
		l.sudoPassword = pw
	}
}

// Local returns the handle of the local machine
func Local(opts ...LocalOption) *Localhost {
	l := &Localhost{
		fs:    afero.NewOsFs(),
		shell: "/bin/sh",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Localhost) Name() string         { return constants.LocalhostName }
func (l *Localhost) IsLocal() bool        { return true }
func (l *Localhost) SudoPassword() string { return l.sudoPassword }
func (l *Localhost) Close() error         { return nil }

// Fs returns the filesystem backing this handle
func (l *Localhost) Fs() afero.Fs {
	return l.fs
}

func (l *Localhost) Run(ctx context.Context, cmd Command) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	c := exec.Command(l.shell, "-c", cmd.Line)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	if cmd.PTY {
		if c.Stdin == nil {
			c.Stdin = os.Stdin
		}
		if c.Stderr == nil {
			c.Stderr = c.Stdout
		}
	}

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run local command: %w", err)
}

func (l *Localhost) Transfer(ctx context.Context) (Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fsTransfer{fs: l.fs}, nil
}

// fsTransfer is a Transfer over an afero filesystem
type fsTransfer struct {
	fs afero.Fs
}

// NewFsTransfer returns a Transfer reading and writing fs
func NewFsTransfer(fs afero.Fs) Transfer {
	return &fsTransfer{fs: fs}
}

func (t *fsTransfer) Stat(ctx context.Context, path string) (Stat, error) {
	info, err := t.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Stat{}, nil
		}
		return Stat{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return StatFromInfo(info), nil
}

func (t *fsTransfer) Put(ctx context.Context, r io.Reader, path string, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	if err := t.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := t.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (t *fsTransfer) Get(ctx context.Context, path string, w io.Writer) (os.FileMode, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return info.Mode(), nil
}

func (t *fsTransfer) Remove(ctx context.Context, path string) error {
	if err := t.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
