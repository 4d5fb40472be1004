package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmwire/vmwire/internal/conn"
)

var shellCmd = &cobra.Command{
	Use:   "shell <host>",
	Short: "Open an interactive shell on a host",
	Long: `Opens an interactive login shell on a configured host, through its
gateway chain when one is configured.

Example:
  vmwire shell hv1`,
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	if conn.IsLocalName(args[0]) {
		return fmt.Errorf("shell needs a remote host")
	}

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	target, err := s.Connect(args[0])
	if err != nil {
		return err
	}
	remote, ok := target.(*conn.Remote)
	if !ok {
		return fmt.Errorf("shell needs a remote host")
	}

	PrintInfo("Connecting to %s...", remote.Name())
	return remote.Client().Shell(cmd.Context())
}
