package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/security"
)

// ErrConflictingFlags is returned for a detached request that is not Sync.
// A detached command has no result worth waiting for on the pool.
var ErrConflictingFlags = errors.New("detach cannot be combined with pooled scheduling: set sync")

// ErrEmptyCommand is returned when a request carries no command
var ErrEmptyCommand = errors.New("empty command")

// Request describes one command invocation
type Request struct {
	// Command is a shell command line. Args, when set, takes precedence
	// and is joined with single spaces.
	Command string
	Args    []string
	// Target is where the command runs; nil means the local machine
	Target conn.Conn

	Sudo bool
	// PTY attaches the command to a terminal. Output is echoed live and
	// not captured.
	PTY bool
	// NoOutput suppresses the start and finish lines
	NoOutput bool
	// NoPipe suppresses echoing the captured streams
	NoPipe bool
	// AllowFailure accepts a non-zero exit instead of failing
	AllowFailure bool
	// Detach launches the command in the background and reports success
	// without waiting. Requires Sync.
	Detach bool
	// Sync runs on the caller's goroutine instead of the worker pool
	Sync bool
}

// Line returns the command line as requested, before any wrapping
func (r Request) Line() string {
	if len(r.Args) > 0 {
		return strings.Join(r.Args, " ")
	}
	return r.Command
}

// Validate checks the request without touching its target
func (r Request) Validate() error {
	if r.Detach && !r.Sync {
		return ErrConflictingFlags
	}
	if strings.TrimSpace(r.Line()) == "" {
		return ErrEmptyCommand
	}
	return nil
}

// Result is the outcome of one command. Stdout and Stderr are empty when
// output was not captured.
type Result struct {
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandError reports a command that exited non-zero when failure was not
// allowed
type CommandError struct {
	Result *Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command '%s' failed on host '%s' with exit code %d",
		security.SanitizeCommandForLog(e.Result.Command), e.Result.Host, e.Result.ExitCode)
}

// ExitCode returns the exit status of the failed command
func (e *CommandError) ExitCode() int {
	return e.Result.ExitCode
}

// DetachCommand wraps line so it survives the session that started it
func DetachCommand(line string) string {
	return fmt.Sprintf("nohup %s > /dev/null 2>&1 &", line)
}

// SudoCommand wraps line to run as root. With a known password sudo reads
// it from stdin and prints the prompt marker, which is later removed from
// the output.
func SudoCommand(line string, withPassword bool) string {
	if withPassword {
		return fmt.Sprintf("sudo -S -p %s sh -c %s",
			security.ShellEscape(constants.SudoPrompt), security.ShellEscape(line))
	}
	return "sudo sh -c " + security.ShellEscape(line)
}

// cleanStdout trims captured stdout and removes the sudo prompt marker
func cleanStdout(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, constants.SudoPrompt, ""))
}
