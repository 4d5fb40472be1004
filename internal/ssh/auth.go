package ssh

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods selects how this hop authenticates.
//
// A host-specific identity (key_path, or IdentityFile in ~/.ssh/config)
// pins authentication to that single key so that hosts with a low
// MaxAuthTries do not reject us after the agent offered unrelated keys.
func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	// CI/CD: Check for SSH key in environment variable first
	if envKey := os.Getenv("VMWIRE_SSH_KEY"); envKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(envKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse VMWIRE_SSH_KEY: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var ag agent.Agent
	if a := c.connectAgent(); a != nil {
		ag = a
	}

	identity := c.KeyPath
	if identity == "" {
		identity = IdentityFileFor(c.Host)
	}
	if identity != "" {
		signer, err := pinnedSigner(ag, expandHome(identity))
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	var signers []ssh.Signer
	if ag != nil {
		if agentSigners, err := ag.Signers(); err == nil {
			signers = append(signers, agentSigners...)
		}
	}
	keys, err := DiscoverKeys(c.Host)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.Encrypted {
			continue
		}
		signer, err := loadPrivateKey(k.Path)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("no SSH key found (start ssh-agent, set key_path, or set VMWIRE_SSH_KEY for CI/CD)")
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// pinnedSigner returns the agent key matching identity's public half when
// the agent holds it, else the private key read from disk
func pinnedSigner(ag agent.Agent, identity string) (ssh.Signer, error) {
	if ag != nil {
		if signer, err := matchAgentSigner(ag, identity+".pub"); err == nil && signer != nil {
			return signer, nil
		}
	}
	return loadPrivateKey(identity)
}

// matchAgentSigner finds the agent signer whose public key equals the one
// stored in pubKeyPath. It returns nil without error when none matches.
func matchAgentSigner(ag agent.Agent, pubKeyPath string) (ssh.Signer, error) {
	data, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, err
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", pubKeyPath, err)
	}

	signers, err := ag.Signers()
	if err != nil {
		return nil, fmt.Errorf("failed to list agent keys: %w", err)
	}
	want := pub.Marshal()
	for _, s := range signers {
		if bytes.Equal(s.PublicKey().Marshal(), want) {
			return s, nil
		}
	}
	return nil, nil
}

// connectAgent returns an agent client when SSH_AUTH_SOCK is usable. The
// socket stays open on c for as long as the cached client config may sign
// with agent keys, and is closed by Close.
func (c *Client) connectAgent() agent.ExtendedAgent {
	c.closeAgent()
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	c.agentConn = conn
	return agent.NewClient(conn)
}

func (c *Client) closeAgent() {
	if c.agentConn != nil {
		c.agentConn.Close()
		c.agentConn = nil
	}
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}

	return signer, nil
}

// IdentityFileFor returns the first IdentityFile configured for alias in
// ~/.ssh/config, or "" when none is set or the file is unreadable
func IdentityFileFor(alias string) string {
	if files := IdentityFilesFor(alias); len(files) > 0 {
		return files[0]
	}
	return ""
}

// IdentityFilesFor returns every IdentityFile configured for alias in
// ~/.ssh/config, in file order
func IdentityFilesFor(alias string) []string {
	path, err := userSSHPath("config")
	if err != nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	files, err := identityFilesFrom(f, alias)
	if err != nil {
		return nil
	}
	return files
}

func identityFilesFrom(r io.Reader, alias string) ([]string, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh config: %w", err)
	}
	values, err := cfg.GetAll(alias, "IdentityFile")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, v := range values {
		if v != "" {
			files = append(files, expandHome(v))
		}
	}
	return files, nil
}

func userSSHPath(name string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ssh", name), nil
}

// expandHome expands a leading ~/ in path
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
