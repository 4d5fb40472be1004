package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmwire/vmwire/internal/config"
	"github.com/vmwire/vmwire/internal/netif"
	"github.com/vmwire/vmwire/internal/security"
)

var netCmd = &cobra.Command{
	Use:   "net",
	Short: "Create, delete and render VM network interfaces",
	Long: `Manages the host devices described by a network file.

Example network.yaml:
  interfaces:
    - type: bridge
      name: br0
      ip_address: 10.0.0.1/24
    - type: tap
      name: tap0
      master: br0
      mac_address: 52:54:00:00:00:01
      queue_count: 4
      vhost: true
    - type: macvtap
      name: mvt0
      master: eth0
      mac_address: 52:54:00:00:00:02
      host: hv1`,
}

var netUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create every interface of the network file",
	Long: `Creates the interfaces of the network file. Bridges are created first,
then macvlans, then the devices guests attach to. An existing device with
the same name is deleted and recreated.`,
	Args: cobra.NoArgs,
	RunE: runNetUp,
}

var netDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Delete every interface of the network file",
	Args:  cobra.NoArgs,
	RunE:  runNetDown,
}

var netArgsCmd = &cobra.Command{
	Use:   "args",
	Short: "Print the hypervisor arguments for the network file",
	Long: `Prints the -netdev and -device arguments for every interface, quoted
for a POSIX shell. Macvtap interfaces are passed as file descriptors
numbered from --first-fd.`,
	Args: cobra.NoArgs,
	RunE: runNetArgs,
}

var (
	netFile    string
	netFirstFD int
)

func init() {
	rootCmd.AddCommand(netCmd)
	netCmd.AddCommand(netUpCmd)
	netCmd.AddCommand(netDownCmd)
	netCmd.AddCommand(netArgsCmd)

	netCmd.PersistentFlags().StringVarP(&netFile, "file", "f", config.NetworkConfigFile, "Network definition file (YAML or JSON)")
	netArgsCmd.Flags().IntVar(&netFirstFD, "first-fd", 3, "First file descriptor handed to macvtap interfaces")
}

// loadPlan reads the network file and builds its plan. Definitions are
// validated before any host is contacted.
func loadPlan(s *Session) (*netif.Plan, error) {
	netCfg, err := config.LoadNetworkConfig(netFile)
	if err != nil {
		return nil, err
	}

	return netif.NewPlan(netCfg, func(name string) (netif.Host, error) {
		target, err := s.Connect(name)
		if err != nil {
			return netif.Host{}, err
		}
		return netif.Host{
			Runner: s.Executor,
			Target: target,
			Out:    os.Stdout,
			Logger: logger,
		}, nil
	})
}

func runNetUp(cmd *cobra.Command, args []string) error {
	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := loadPlan(s)
	if err != nil {
		return err
	}

	if err := plan.Provision(cmd.Context()); err != nil {
		return err
	}
	PrintSuccess("Created %d interface(s)", len(plan.Interfaces))
	return nil
}

func runNetDown(cmd *cobra.Command, args []string) error {
	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := loadPlan(s)
	if err != nil {
		return err
	}

	if err := plan.Teardown(cmd.Context()); err != nil {
		return err
	}
	PrintSuccess("Deleted %d interface(s)", len(plan.Interfaces))
	return nil
}

func runNetArgs(cmd *cobra.Command, args []string) error {
	if netFirstFD < 3 {
		return fmt.Errorf("--first-fd must be at least 3")
	}

	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := loadPlan(s)
	if err != nil {
		return err
	}

	hvArgs, err := plan.Args(cmd.Context(), netFirstFD)
	if err != nil {
		return err
	}
	fmt.Println(quoteArgs(hvArgs))
	return nil
}

// quoteArgs renders tokens for a shell. Descriptor redirections such as
// 3<>/dev/tap7 are left bare for the shell to perform.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if isRedirection(a) {
			quoted[i] = a
			continue
		}
		quoted[i] = security.QuoteArg(a)
	}
	return strings.Join(quoted, " ")
}

func isRedirection(arg string) bool {
	i := strings.Index(arg, "<>")
	if i <= 0 {
		return false
	}
	for _, r := range arg[:i] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
