// Package diskimage inspects guest disk images on a host before a VM is
// started from them.
package diskimage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/executor"
	"github.com/vmwire/vmwire/internal/security"
)

type options struct {
	out    io.Writer
	logger *zap.Logger
}

// Option configures an image check
type Option func(*options)

// WithOutput sets where progress lines are printed
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{out: io.Discard, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("diskimage")
	return o
}

// query runs a quiet command whose exit status is inspected by the caller
func query(ctx context.Context, runner executor.Runner, target conn.Conn, line string) (*executor.Result, error) {
	return runner.Run(ctx, executor.Request{
		Command:      line,
		Target:       target,
		NoPipe:       true,
		NoOutput:     true,
		AllowFailure: true,
	})
}

// FileExists reports whether path exists on target. A nil target is the
// local machine.
func FileExists(ctx context.Context, runner executor.Runner, target conn.Conn, path string) (bool, error) {
	result, err := query(ctx, runner, target, "test -e "+security.QuoteArg(path))
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// CheckInUse reports whether path is free for a new VM. Processes holding
// the file open are listed; a hypervisor holder is killed when kill is
// set, otherwise the image is reported busy. Other holders are ignored.
func CheckInUse(ctx context.Context, runner executor.Runner, target conn.Conn, path string, kill bool, opts ...Option) (bool, error) {
	o := newOptions(opts)
	fmt.Fprintf(o.out, "Checking for other vms using image: %s\n", path)

	result, err := query(ctx, runner, target, "lsof -t "+security.QuoteArg(path))
	if err != nil {
		return false, err
	}

	for _, field := range strings.Fields(result.Stdout) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			o.logger.Debug("skipping lsof output", zap.String("field", field))
			continue
		}

		comm, err := query(ctx, runner, target, fmt.Sprintf("ps -p %d -o comm=", pid))
		if err != nil {
			return false, err
		}
		if !strings.HasPrefix(strings.TrimSpace(comm.Stdout), "qemu") {
			continue
		}

		fmt.Fprintf(o.out, "Error: Image file '%s' is currently used by qemu process (PID %d).\n", path, pid)
		if !kill {
			fmt.Fprintln(o.out, "Use --kill to stop running VMs using this disk image.")
			return false, nil
		}

		fmt.Fprintf(o.out, "Killing qemu process with PID %d.\n", pid)
		o.logger.Info("killing hypervisor holding image", zap.Int("pid", pid), zap.String("path", path))
		if _, err := runner.Run(ctx, executor.Request{
			Command:  fmt.Sprintf("kill -9 %d", pid),
			Target:   target,
			Sudo:     true,
			NoPipe:   true,
			NoOutput: true,
		}); err != nil {
			return false, fmt.Errorf("failed to kill process %d: %w", pid, err)
		}
	}
	return true, nil
}
