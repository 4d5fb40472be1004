// Package conn provides the handles commands run on and files move through:
// the local machine or a remote host reached over SSH.
package conn

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNoHost is returned when a remote handle is requested without a host
var ErrNoHost = errors.New("no host configured for connection")

// Command is a shell command line and the streams it is wired to
type Command struct {
	Line   string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// PTY attaches the command to a terminal; output is not separable
	PTY bool
}

// Conn is a place where commands run and files live
type Conn interface {
	// Name is the connection identity used in logs and temp file names
	Name() string
	IsLocal() bool
	// SudoPassword returns the password sudo should be fed, "" if unknown
	SudoPassword() string
	// Run executes cmd and returns its exit status. A non-zero exit is
	// not an error; errors mean the command could not be run at all.
	Run(ctx context.Context, cmd Command) (int, error)
	// Transfer opens the file-transfer session of this connection. The
	// session lives as long as the connection.
	Transfer(ctx context.Context) (Transfer, error)
	Close() error
}

// Transfer moves bytes to and from the filesystem of a connection
type Transfer interface {
	Stat(ctx context.Context, path string) (Stat, error)
	// Put writes r to path, creating parent directories
	Put(ctx context.Context, r io.Reader, path string, mode os.FileMode) error
	// Get copies path into w and returns the file mode
	Get(ctx context.Context, path string, w io.Writer) (os.FileMode, error)
	// Remove deletes a file; a missing file is not an error
	Remove(ctx context.Context, path string) error
}

var (
	_ Conn = (*Localhost)(nil)
	_ Conn = (*Remote)(nil)
)

// Stat describes a path. The zero value means the path does not exist.
type Stat struct {
	Exists    bool
	IsDir     bool
	IsRegular bool
}

// StatFromInfo converts file info into a Stat
func StatFromInfo(info os.FileInfo) Stat {
	return Stat{
		Exists:    true,
		IsDir:     info.IsDir(),
		IsRegular: info.Mode().IsRegular(),
	}
}

// IsLocalName reports whether name refers to the local machine
func IsLocalName(name string) bool {
	return name == "" || name == "local" || name == "localhost"
}
