package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmwire/vmwire/internal/transfer"
)

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy a file or directory to or from a host",
	Long: `Copies between the local machine and a host. Exactly one side names a
host using host:path. Directories are archived with tar and zstd, sent in
one stream and extracted on the other side.

A destination ending in "/" is a directory to copy into. Without the
trailing "/" the destination is the final path.

Example:
  vmwire cp ./disk.qcow2 hv1:/var/lib/vms/
  vmwire cp ./images hv1:/var/lib/vms/images
  vmwire cp hv1:/var/log/qemu ./logs/`,
	Args: cobra.ExactArgs(2),
	RunE: runCp,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <host:path>",
	Short: "Create a directory on a host",
	Long: `Creates a directory and its parents on a host. An existing directory is
left alone; an existing file at the path is an error.

Example:
  vmwire mkdir hv1:/var/lib/vms/web`,
	Args: cobra.ExactArgs(1),
	RunE: runMkdir,
}

var cpSilent bool

func init() {
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mkdirCmd)
	cpCmd.Flags().BoolVarP(&cpSilent, "silent", "s", false, "Do not print progress")
}

// location is one side of a copy
type location struct {
	Host string
	Path string
}

func (l location) remote() bool {
	return l.Host != ""
}

// parseLocation splits host:path. A colon after a "/" belongs to a local
// path, so ./a:b and /tmp/x:y stay local.
func parseLocation(arg string) (location, error) {
	i := strings.IndexByte(arg, ':')
	if i < 0 || strings.Contains(arg[:i], "/") {
		return location{Path: arg}, nil
	}
	host, p := arg[:i], arg[i+1:]
	if host == "" {
		return location{}, fmt.Errorf("missing host in %q", arg)
	}
	if p == "" {
		return location{}, fmt.Errorf("missing path in %q", arg)
	}
	return location{Host: host, Path: p}, nil
}

func parseCopyArgs(src, dst string) (location, location, error) {
	from, err := parseLocation(src)
	if err != nil {
		return location{}, location{}, err
	}
	to, err := parseLocation(dst)
	if err != nil {
		return location{}, location{}, err
	}
	if from.remote() == to.remote() {
		return location{}, location{}, fmt.Errorf("exactly one of source and destination must be host:path")
	}
	return from, to, nil
}

// newCopier builds a copier over the session executor
func newCopier(s *Session) *transfer.Copier {
	opts := []transfer.Option{
		transfer.WithLogger(logger),
		transfer.WithOutput(os.Stdout),
	}
	if dir := s.TempDir(); dir != "" {
		opts = append(opts, transfer.WithTempDir(dir))
	}
	return transfer.New(s.Executor, opts...)
}

// withDirective appends the corrective hint of a usage error
func withDirective(err error) error {
	var usage *transfer.UsageError
	if errors.As(err, &usage) && usage.Directive() != "" {
		return fmt.Errorf("%w (%s)", err, usage.Directive())
	}
	return err
}

func runMkdir(cmd *cobra.Command, args []string) error {
	loc, err := parseLocation(args[0])
	if err != nil {
		return err
	}
	if !loc.remote() {
		return fmt.Errorf("expected host:path, got %q", args[0])
	}

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	target, err := s.Connect(loc.Host)
	if err != nil {
		return err
	}
	return withDirective(newCopier(s).Mkdir(cmd.Context(), loc.Path, target))
}

func runCp(cmd *cobra.Command, args []string) error {
	from, to, err := parseCopyArgs(args[0], args[1])
	if err != nil {
		return err
	}

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	remote := from
	if to.remote() {
		remote = to
	}
	target, err := s.Connect(remote.Host)
	if err != nil {
		return err
	}

	copier := newCopier(s)

	ctx := cmd.Context()
	if to.remote() {
		err = copier.ToRemote(ctx, from.Path, to.Path, target, cpSilent)
	} else {
		err = copier.FromRemote(ctx, from.Path, to.Path, target, cpSilent)
	}
	if err != nil {
		return withDirective(err)
	}

	if !cpSilent {
		PrintSuccess("Copied %s to %s", args[0], args[1])
	}
	return nil
}
