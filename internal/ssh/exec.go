package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// RunOptions wires the streams of a remote command
type RunOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// PTY requests a pseudo terminal. The remote side then merges stderr
	// into stdout.
	PTY bool
}

// Run executes command in a new session and returns its exit status.
// A non-zero exit is reported through the status, not as an error; errors
// are reserved for transport failures.
func (c *Client) Run(ctx context.Context, command string, opts RunOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	session, err := c.session()
	if err != nil {
		return -1, fmt.Errorf("failed to create session on %s: %w", c.Name(), err)
	}
	defer session.Close()

	session.Stdin = opts.Stdin
	session.Stdout = opts.Stdout
	session.Stderr = opts.Stderr

	if opts.PTY {
		if err := requestPty(session); err != nil {
			return -1, err
		}
	}

	return exitStatus(session.Run(command))
}

// Shell opens an interactive shell wired to the local terminal
func (c *Client) Shell(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := c.session()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	if err := requestPty(session); err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set terminal raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	session.Stdin = os.Stdin
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	if err := session.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	_, err = exitStatus(session.Wait())
	return err
}

// requestPty asks for a terminal sized like the local one, 80x40 otherwise
func requestPty(session *ssh.Session) error {
	width, height := 80, 40
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h
		}
	}

	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm"
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(termType, height, width, modes); err != nil {
		return fmt.Errorf("failed to request pty: %w", err)
	}
	return nil
}

// exitStatus splits a session error into the command's exit status and a
// transport error
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, fmt.Errorf("remote command exited without status: %w", err)
	}

	return -1, fmt.Errorf("failed to execute command: %w", err)
}
