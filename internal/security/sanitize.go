package security

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"
)

var (
	// hostNameRegex validates host configuration names
	// Allows: letters, numbers, underscores, hyphens, dots
	// Length: 1-64 characters
	hostNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,62}[a-zA-Z0-9])?$`)

	// unixUserRegex validates Unix usernames
	// Standard POSIX username rules
	// Length: 1-32 characters
	unixUserRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	// ifaceNameRegex validates Linux interface names (IFNAMSIZ-1 = 15 bytes)
	ifaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// sensitiveLogPatterns used by SanitizeCommandForLog to mask secrets
	sensitiveLogPatterns = []string{
		"PASSWORD=",
		"SUDO_PASS=",
		"TOKEN=",
	}
)

// ValidateHostName validates a host configuration name
func ValidateHostName(name string) error {
	if name == "" {
		return fmt.Errorf("host name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("host name too long (max 64 characters)")
	}
	if !hostNameRegex.MatchString(name) {
		return fmt.Errorf("host name must contain only letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}

// ValidateUnixUser validates a Unix username
func ValidateUnixUser(user string) error {
	if user == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(user) > 32 {
		return fmt.Errorf("username too long (max 32 characters)")
	}
	if !unixUserRegex.MatchString(user) {
		return fmt.Errorf("username must start with a lowercase letter or underscore, followed by lowercase letters, numbers, underscores, or hyphens")
	}
	return nil
}

// ValidateInterfaceName validates a network interface name as accepted by
// the kernel. "." and ".." are rejected since they alias sysfs entries.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters)")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("interface name cannot be %q", name)
	}
	if !ifaceNameRegex.MatchString(name) {
		return fmt.Errorf("interface name must contain only letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}

// ValidateMACAddress validates an Ethernet (EUI-48) MAC address
func ValidateMACAddress(mac string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q", mac)
	}
	if len(hw) != 6 {
		return fmt.Errorf("MAC address %q is not a 48-bit Ethernet address", mac)
	}
	return nil
}

// ValidateIPAddress validates an address as accepted by `ip addr add`:
// either a bare address or an address with prefix length.
func ValidateIPAddress(addr string) error {
	if strings.Contains(addr, "/") {
		if _, err := netip.ParsePrefix(addr); err != nil {
			return fmt.Errorf("invalid IP prefix %q", addr)
		}
		return nil
	}
	if _, err := netip.ParseAddr(addr); err != nil {
		return fmt.Errorf("invalid IP address %q", addr)
	}
	return nil
}

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	// Replace single quotes with the POSIX escape sequence: end quote, escaped quote, start quote
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// QuoteArg quotes a single command argument only when the shell would
// otherwise split or expand it, keeping logged command lines readable.
func QuoteArg(s string) string {
	return shellescape.Quote(s)
}

// SanitizeCommandForLog masks sensitive values in commands before logging.
// This prevents secrets from leaking into verbose output or log files.
func SanitizeCommandForLog(cmd string) string {
	result := cmd

	// Mask sensitive environment variable values
	for _, pattern := range sensitiveLogPatterns {
		searchFrom := 0
		for {
			idx := strings.Index(result[searchFrom:], pattern)
			if idx == -1 {
				break
			}
			absIdx := searchFrom + idx
			// Find the end of the value (next space or end of string)
			valueStart := absIdx + len(pattern)
			valueEnd := findValueEnd(result, valueStart)
			masked := "****"
			result = result[:valueStart] + masked + result[valueEnd:]
			// Advance past the replacement to avoid infinite loop
			searchFrom = valueStart + len(masked)
		}
	}

	return result
}

// findValueEnd finds where a shell value ends (handles quoted and unquoted values)
func findValueEnd(s string, start int) int {
	if start >= len(s) {
		return start
	}

	// Handle single-quoted value
	if s[start] == '\'' {
		end := strings.Index(s[start+1:], "'")
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	// Handle double-quoted value
	if s[start] == '"' {
		end := strings.Index(s[start+1:], "\"")
		if end == -1 {
			return len(s)
		}
		return start + end + 2
	}

	// Unquoted: find next whitespace
	for i := start; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' {
			return i
		}
	}
	return len(s)
}
