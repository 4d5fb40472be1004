package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vmwire/vmwire/internal/diskimage"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Inspect guest disk images",
}

var imageCheckCmd = &cobra.Command{
	Use:   "check <host> <path>",
	Short: "Check that a disk image exists and no VM is using it",
	Long: `Checks that the image exists on the host and that no hypervisor process
holds it open. With --kill, hypervisor processes using the image are
killed instead of failing the check.

Example:
  vmwire image check hv1 /var/lib/vms/web.qcow2
  vmwire image check local ./disk.qcow2 --kill`,
	Args: cobra.ExactArgs(2),
	RunE: runImageCheck,
}

var imageKill bool

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.AddCommand(imageCheckCmd)
	imageCheckCmd.Flags().BoolVar(&imageKill, "kill", false, "Kill hypervisor processes using the image")
}

func runImageCheck(cmd *cobra.Command, args []string) error {
	hostName, path := args[0], args[1]

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	target, err := s.Connect(hostName)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ok, err := diskimage.FileExists(ctx, s.Executor, target, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("image %s not found on %s", path, target.Name())
	}

	free, err := diskimage.CheckInUse(ctx, s.Executor, target, path, imageKill,
		diskimage.WithOutput(os.Stdout), diskimage.WithLogger(logger))
	if err != nil {
		return err
	}
	if !free {
		return fmt.Errorf("image %s is in use on %s", path, target.Name())
	}

	PrintSuccess("Image %s is available on %s", path, target.Name())
	return nil
}
