package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vmwire/vmwire/internal/security"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	verbose     bool
	hostsFile   string
	workers     int
	askSudoPass bool
	yesFlag     bool // CI/CD: skip prompts

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "vmwire",
	Short: "Run commands, copy files and wire VM networking on local and remote hosts",
	Long: `vmwire drives a fleet of hypervisor hosts over SSH. It runs shell
commands on many hosts at once, copies files and directories between the
local machine and a host, and creates the bridge, tap, macvtap and macvlan
devices virtual machines attach to.

Quick start:
  vmwire host add hv1 admin@10.0.0.11       # Register a host
  vmwire exec hv1 -- uname -a               # Run a command
  vmwire cp ./images hv1:/var/lib/vms/      # Copy a directory
  vmwire net up -f network.yaml             # Create VM interfaces

Commands:
  host          Manage configured hosts
  exec          Run a command on a host
  cp            Copy files to or from a host
  mkdir         Create a directory on a host
  shell         Open an interactive shell on a host
  net           Create, delete and render VM network interfaces
  image         Inspect guest disk images

Hosts named "local" or "localhost" are the local machine.

CI/CD Environment Variables:
  VMWIRE_HOST                 Default host for exec
  VMWIRE_SSH_KEY              SSH private key content
  VMWIRE_KNOWN_HOSTS          SSH known_hosts content
  VMWIRE_SKIP_HOST_KEY_CHECK  Skip host key verification (true/false)`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		zap.ReplaceGlobals(l)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		PrintError("%v", err)
	}
	return err
}

// GetRootCmd returns the root command for documentation generation
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed logs")
	rootCmd.PersistentFlags().StringVar(&hostsFile, "hosts", "", "Hosts file (default: $XDG_CONFIG_HOME/vmwire/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Maximum number of commands running at once (default: min(32, CPUs+4))")
	rootCmd.PersistentFlags().BoolVarP(&askSudoPass, "ask-sudo-pass", "K", false, "Prompt for the sudo password")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip prompts (CI/CD mode)")

	rootCmd.SetVersionTemplate(`vmwire {{.Version}}
`)
}

// newLogger builds the diagnostic logger. Operator output does not go
// through it.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// GetHostsFile returns the hosts file path
func GetHostsFile() string {
	return hostsFile
}

// IsYesMode returns true if --yes flag is set (CI/CD mode)
func IsYesMode() bool {
	return yesFlag
}

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	fmt.Printf("✅ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	fmt.Printf("ℹ️  "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	fmt.Printf("⚠️  "+msg+"\n", args...)
}

// PrintVerbose prints a message only in verbose mode
func PrintVerbose(msg string, args ...interface{}) {
	if verbose {
		fmt.Printf("   "+msg+"\n", args...)
	}
}

// PrintVerboseCommand prints a command in verbose mode with sensitive values masked
func PrintVerboseCommand(command string) {
	if verbose {
		fmt.Printf("   Running: %s\n", security.SanitizeCommandForLog(command))
	}
}
