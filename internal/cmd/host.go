package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/config"
	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/executor"
	"github.com/vmwire/vmwire/internal/security"
	"github.com/vmwire/vmwire/internal/ssh"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage configured hosts",
	Long:  `Commands to add, list, check and remove the hosts vmwire connects to.`,
}

var hostAddCmd = &cobra.Command{
	Use:   "add <name> <user@host>",
	Short: "Add a new host",
	Long: `Adds a new host to the global configuration.

Example:
  vmwire host add bastion admin@bastion.example.com
  vmwire host add hv1 root@10.0.0.11 --via bastion
  vmwire host add hv2 root@10.0.0.12 --port 2222 --key ~/.ssh/hv_ed25519`,
	Args: cobra.ExactArgs(2),
	RunE: runHostAdd,
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE:  runHostList,
}

var hostStatusCmd = &cobra.Command{
	Use:   "status <name>[,name...]",
	Short: "Check that hosts are reachable",
	Long: `Connects to each host, through its gateway chain, and prints its
kernel and network links.`,
	Args: cobra.ExactArgs(1),
	RunE: runHostStatus,
}

var hostRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostRemove,
}

var (
	hostPort       int
	hostKeyPath    string
	hostVia        string
	hostSudoEnv    string
	hostPersistent bool
	skipSSHTest    bool
)

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostAddCmd)
	hostCmd.AddCommand(hostListCmd)
	hostCmd.AddCommand(hostStatusCmd)
	hostCmd.AddCommand(hostRemoveCmd)

	hostAddCmd.Flags().IntVarP(&hostPort, "port", "p", 22, "SSH port")
	hostAddCmd.Flags().StringVarP(&hostKeyPath, "key", "k", "", "SSH private key path")
	hostAddCmd.Flags().StringVar(&hostVia, "via", "", "Configured host to use as SSH gateway")
	hostAddCmd.Flags().StringVar(&hostSudoEnv, "sudo-password-env", "", "Environment variable holding the sudo password")
	hostAddCmd.Flags().BoolVar(&hostPersistent, "persistent-tunnel", false, "The port is forwarded by a long-lived tunnel; do not dial the gateway")
	hostAddCmd.Flags().BoolVar(&skipSSHTest, "skip-test", false, "Skip SSH connection test")
}

// parseUserHost splits user@host. The user is optional.
func parseUserHost(arg string) (string, string, error) {
	user, host := "", arg
	if i := strings.LastIndex(arg, "@"); i >= 0 {
		user, host = arg[:i], arg[i+1:]
		if user == "" {
			return "", "", fmt.Errorf("invalid host format %q, use user@host", arg)
		}
	}
	if host == "" {
		return "", "", fmt.Errorf("invalid host format %q, use user@host", arg)
	}
	return user, host, nil
}

func runHostAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := security.ValidateHostName(name); err != nil {
		return fmt.Errorf("invalid host name: %w", err)
	}
	if conn.IsLocalName(name) {
		return fmt.Errorf("'%s' is reserved for the local machine", name)
	}

	user, host, err := parseUserHost(args[1])
	if err != nil {
		return err
	}

	globalCfg, err := config.LoadGlobalConfig(GetHostsFile())
	if err != nil {
		return fmt.Errorf("failed to load global config: %w", err)
	}

	hostCfg := config.HostConfig{
		Host:             host,
		User:             user,
		Port:             hostPort,
		KeyPath:          hostKeyPath,
		Via:              hostVia,
		PersistentTunnel: hostPersistent,
		SudoPasswordEnv:  hostSudoEnv,
	}

	if errors := config.ValidateHostConfig(&hostCfg); errors.HasErrors() {
		return fmt.Errorf("invalid host configuration: %w", errors)
	}
	if hostVia != "" {
		if _, err := globalCfg.GetHost(hostVia); err != nil {
			return fmt.Errorf("invalid gateway: %w", err)
		}
	}

	if err := globalCfg.AddHost(name, hostCfg); err != nil {
		return err
	}

	if err := config.SaveGlobalConfig(globalCfg, GetHostsFile()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Added host '%s' (%s)", name, args[1])

	if skipSSHTest {
		PrintInfo("Skipping SSH connection test (--skip-test)")
		return nil
	}

	if err := testAndConfigureSSH(name, globalCfg); err != nil {
		PrintWarning("SSH connection could not be established: %v", err)
		PrintInfo("You can test the connection manually with: ssh %s -p %d", args[1], hostCfg.Port)
	}
	return nil
}

// tryConnect dials a host through its gateway chain and hangs up
func tryConnect(hostCfg *config.HostConfig) error {
	remote, err := conn.Resolve(hostCfg)
	if err != nil {
		return err
	}
	defer remote.Close()
	return remote.Client().Connect()
}

// testAndConfigureSSH tests the SSH connection and tries alternative keys if needed
func testAndConfigureSSH(name string, globalCfg *config.GlobalConfig) error {
	PrintInfo("Testing SSH connection...")

	hostCfg, err := globalCfg.GetHost(name)
	if err != nil {
		return err
	}

	err = tryConnect(hostCfg)
	if err == nil {
		PrintSuccess("SSH connection successful")
		return nil
	}
	logger.Debug("connection with default key failed", zap.String("host", name), zap.Error(err))

	PrintWarning("Connection failed with default key")

	keys, err := ssh.DiscoverKeys(hostCfg.Host)
	if err != nil {
		return fmt.Errorf("failed to discover SSH keys: %w", err)
	}

	// Filter out encrypted keys and already tried key
	var availableKeys []ssh.Key
	for _, key := range keys {
		if key.Encrypted {
			PrintVerbose("Skipping encrypted key: %s", key.Name())
			continue
		}
		if hostCfg.KeyPath != "" && key.Path == hostCfg.KeyPath {
			continue
		}
		availableKeys = append(availableKeys, key)
	}

	if len(availableKeys) == 0 {
		return fmt.Errorf("no SSH keys available to try")
	}

	var workingKey *ssh.Key
	if IsInteractive() {
		workingKey = interactiveKeySelection(hostCfg, availableKeys)
	} else {
		workingKey = autoTryKeys(hostCfg, availableKeys)
	}

	if workingKey == nil {
		return fmt.Errorf("no working SSH key found")
	}

	stored := globalCfg.Hosts[name]
	stored.KeyPath = workingKey.Path
	globalCfg.Hosts[name] = stored

	if err := config.SaveGlobalConfig(globalCfg, GetHostsFile()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Updated host config with key: %s", workingKey.Path)
	return nil
}

func withKey(hostCfg *config.HostConfig, keyPath string) *config.HostConfig {
	c := *hostCfg
	c.KeyPath = keyPath
	return &c
}

// interactiveKeySelection prompts the user to select an SSH key
func interactiveKeySelection(hostCfg *config.HostConfig, keys []ssh.Key) *ssh.Key {
	options := make([]string, len(keys))
	for i, key := range keys {
		options[i] = keyLabel(key)
	}

	fmt.Println()
	PrintInfo("Available SSH keys:")
	choice := PromptSelect("Select SSH key to use:", options)
	if choice < 0 {
		return nil
	}

	selectedKey := &keys[choice]
	PrintInfo("Testing with %s...", selectedKey.Path)

	if err := tryConnect(withKey(hostCfg, selectedKey.Path)); err != nil {
		PrintError("Connection failed: %v", err)
		return nil
	}

	PrintSuccess("Connection successful!")
	return selectedKey
}

// keyLabel describes a key in the selection prompt
func keyLabel(key ssh.Key) string {
	if key.Configured {
		return fmt.Sprintf("%s (%s, from ~/.ssh/config)", key.Name(), key.Type)
	}
	return fmt.Sprintf("%s (%s)", key.Name(), key.Type)
}

// autoTryKeys automatically tries available keys in order
func autoTryKeys(hostCfg *config.HostConfig, keys []ssh.Key) *ssh.Key {
	PrintInfo("Trying available SSH keys automatically...")

	for i := range keys {
		key := &keys[i]
		PrintVerbose("Trying %s...", key.Name())
		if err := tryConnect(withKey(hostCfg, key.Path)); err == nil {
			PrintSuccess("SSH connection successful with %s", key.Name())
			return key
		}
	}

	return nil
}

func runHostList(cmd *cobra.Command, args []string) error {
	globalCfg, err := config.LoadGlobalConfig(GetHostsFile())
	if err != nil {
		return err
	}

	hosts := globalCfg.ListHosts()
	if len(hosts) == 0 {
		PrintInfo("No hosts configured")
		fmt.Println()
		fmt.Println("Add a host with:")
		fmt.Println("  vmwire host add <name> <user@host>")
		return nil
	}

	fmt.Println("Configured hosts:")
	fmt.Println()
	for _, name := range hosts {
		h := globalCfg.Hosts[name]
		fmt.Printf("  %s\n", name)
		fmt.Printf("    Host: %s\n", formatAddress(&h))
		if h.KeyPath != "" {
			fmt.Printf("    Key:  %s\n", h.KeyPath)
		}
		if chain := gatewayChain(globalCfg, name); chain != "" {
			fmt.Printf("    Via:  %s\n", chain)
		}
		if h.PersistentTunnel {
			fmt.Printf("    Persistent tunnel: true\n")
		}
		fmt.Println()
	}

	return nil
}

func formatAddress(h *config.HostConfig) string {
	addr := h.Host
	if h.User != "" {
		addr = h.User + "@" + addr
	}
	if h.Port != 0 {
		addr = fmt.Sprintf("%s:%d", addr, h.Port)
	}
	return addr
}

// gatewayChain renders the hops in front of a host, nearest first
func gatewayChain(globalCfg *config.GlobalConfig, name string) string {
	resolved, err := globalCfg.GetHost(name)
	if err != nil {
		return "error: " + err.Error()
	}
	var hops []string
	for gw := resolved.Gateway; gw != nil; gw = gw.Gateway {
		hops = append(hops, gw.DisplayName())
	}
	return strings.Join(hops, " -> ")
}

func runHostStatus(cmd *cobra.Command, args []string) error {
	s, err := NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var tasks []*executor.Task
	for _, name := range strings.Split(args[0], ",") {
		target, err := s.Connect(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		tasks = append(tasks,
			s.Executor.Submit(ctx, executor.Request{Command: "uname -sr", Target: target}),
			s.Executor.Submit(ctx, executor.Request{Command: "ip -br link", Target: target}),
		)
	}

	if _, err := executor.Wait(tasks...); err != nil {
		return err
	}
	PrintSuccess("All hosts reachable")
	return nil
}

func runHostRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := security.ValidateHostName(name); err != nil {
		return fmt.Errorf("invalid host name: %w", err)
	}

	globalCfg, err := config.LoadGlobalConfig(GetHostsFile())
	if err != nil {
		return err
	}

	if err := globalCfg.RemoveHost(name); err != nil {
		return err
	}

	if err := config.SaveGlobalConfig(globalCfg, GetHostsFile()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Removed host '%s'", name)
	return nil
}
