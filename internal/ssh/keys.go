package ssh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key is a private key file that may authenticate a host
type Key struct {
	Path string
	// Type is ed25519, rsa, ecdsa, dsa or unknown
	Type      string
	Encrypted bool
	// Configured marks keys named by IdentityFile in ~/.ssh/config
	Configured bool
}

// Name returns the key's file name
func (k Key) Name() string {
	return filepath.Base(k.Path)
}

// keyTypeOrder ranks discovered keys; types not listed sort last
var keyTypeOrder = []string{"ed25519", "rsa", "ecdsa"}

// DiscoverKeys lists the keys worth offering to alias. IdentityFile entries
// ~/.ssh/config gives for alias come first, in file order, followed by the
// id_* and *.pem files under ~/.ssh ranked by type.
func DiscoverKeys(alias string) ([]Key, error) {
	sshDir, err := userSSHPath("")
	if err != nil {
		return nil, err
	}
	return discoverKeys(sshDir, IdentityFilesFor(alias))
}

func discoverKeys(sshDir string, configured []string) ([]Key, error) {
	seen := make(map[string]bool)
	var keys []Key

	for _, p := range configured {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		k, err := ReadKey(p)
		if err != nil {
			continue
		}
		k.Configured = true
		keys = append(keys, *k)
	}

	entries, err := os.ReadDir(sshDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", sshDir, err)
	}

	var found []Key
	for _, entry := range entries {
		p := filepath.Join(sshDir, entry.Name())
		if entry.IsDir() || !isKeyFileName(entry.Name()) || seen[p] {
			continue
		}
		seen[p] = true
		k, err := ReadKey(p)
		if err != nil {
			continue
		}
		found = append(found, *k)
	}
	sort.SliceStable(found, func(i, j int) bool {
		return keyTypeRank(found[i].Type) < keyTypeRank(found[j].Type)
	})

	return append(keys, found...), nil
}

func isKeyFileName(name string) bool {
	if strings.HasSuffix(name, ".pub") {
		return false
	}
	return strings.HasPrefix(name, "id_") || strings.HasSuffix(name, ".pem")
}

func keyTypeRank(keyType string) int {
	for i, t := range keyTypeOrder {
		if t == keyType {
			return i
		}
	}
	return len(keyTypeOrder)
}

// ReadKey parses the private key at path. A passphrase-protected key is
// reported as Encrypted rather than as an error; its type comes from the
// public half stored in the key or, failing that, in path.pub.
func ReadKey(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return &Key{Path: path, Type: keyTypeOf(signer.PublicKey().Type())}, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("invalid SSH key %s: %w", path, err)
	}

	k := &Key{Path: path, Type: "unknown", Encrypted: true}
	pub := missing.PublicKey
	if pub == nil {
		pub = readPublicKey(path + ".pub")
	}
	if pub != nil {
		k.Type = keyTypeOf(pub.Type())
	}
	return k, nil
}

func readPublicKey(path string) ssh.PublicKey {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil
	}
	return pub
}

// keyTypeOf maps an SSH wire algorithm name to the short type name
func keyTypeOf(algo string) string {
	switch {
	case algo == ssh.KeyAlgoED25519:
		return "ed25519"
	case algo == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(algo, "ecdsa-"):
		return "ecdsa"
	case algo == "ssh-dss":
		return "dsa"
	}
	return "unknown"
}
