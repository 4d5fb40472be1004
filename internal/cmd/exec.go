package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmwire/vmwire/internal/executor"
)

var execCmd = &cobra.Command{
	Use:   "exec [host[,host...]] -- <command...>",
	Short: "Run a command on one or more hosts",
	Long: `Runs a shell command on the given hosts concurrently. Output of each
host is printed once the command completes.

Without a host before "--", VMWIRE_HOST is used, then the local machine.

Example:
  vmwire exec hv1 -- uptime
  vmwire exec hv1,hv2 --sudo -- systemctl restart libvirtd
  vmwire exec hv1 --sync --detach -- qemu-system-x86_64 -daemonize ...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var execFlags executor.Request

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().BoolVar(&execFlags.Sudo, "sudo", false, "Run the command with sudo")
	execCmd.Flags().BoolVarP(&execFlags.PTY, "pty", "t", false, "Allocate a pseudo terminal and stream output")
	execCmd.Flags().BoolVar(&execFlags.Detach, "detach", false, "Start the command in the background and return immediately (requires --sync)")
	execCmd.Flags().BoolVar(&execFlags.Sync, "sync", false, "Run on the calling goroutine instead of the worker pool")
	execCmd.Flags().BoolVar(&execFlags.NoPipe, "no-pipe", false, "Do not print the command's output")
	execCmd.Flags().BoolVarP(&execFlags.NoOutput, "quiet", "q", false, "Do not echo the command line and exit status")
	execCmd.Flags().BoolVar(&execFlags.AllowFailure, "allow-failure", false, "Do not fail on a non-zero exit status")
}

// splitExecArgs separates the host list from the command words
func splitExecArgs(args []string, dash int) ([]string, []string, error) {
	var hostArg string
	var command []string

	switch {
	case dash == 0:
		command = args
	case dash == 1:
		hostArg, command = args[0], args[1:]
	case dash < 0 && len(args) >= 2:
		hostArg, command = args[0], args[1:]
	case dash < 0:
		command = args
	default:
		return nil, nil, fmt.Errorf("expected at most one host argument before --, got %d", dash)
	}

	if len(command) == 0 {
		return nil, nil, fmt.Errorf("no command given")
	}
	if hostArg == "" {
		hostArg = os.Getenv("VMWIRE_HOST")
	}
	if hostArg == "" {
		return []string{"localhost"}, command, nil
	}

	var hosts []string
	for _, h := range strings.Split(hostArg, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, command, nil
}

func runExec(cmd *cobra.Command, args []string) error {
	hosts, command, err := splitExecArgs(args, cmd.ArgsLenAtDash())
	if err != nil {
		return err
	}

	req := execFlags
	req.Args = command
	if err := req.Validate(); err != nil {
		return err
	}

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	tasks := make([]*executor.Task, 0, len(hosts))
	for _, name := range hosts {
		target, err := s.Connect(name)
		if err != nil {
			return err
		}
		r := req
		r.Target = target
		PrintVerboseCommand(r.Line())
		tasks = append(tasks, s.Executor.Submit(ctx, r))
	}

	_, err = executor.Wait(tasks...)
	return err
}
