package constants

import (
	"path"
	"strings"
	"time"
)

// Connection identity of the local handle
const LocalhostName = "localhost"

// Host paths queried while provisioning interfaces
const (
	SysClassNet     = "/sys/class/net"
	TapDevicePrefix = "/dev/tap"
	RemoteTmpDir    = "/tmp"
)

// Archive settings used by directory transfers
const (
	DirArchiveExt  = ".tar.zst"
	FileArchiveExt = ".zst"
	// ZstdProgram is passed to tar -I; the quotes keep it a single word
	ZstdProgram = "'zstd --ultra --long -T0'"
	// ArchiveSource and ArchiveDest mark which end of a transfer an
	// archive is staged on
	ArchiveSource = "src"
	ArchiveDest   = "dst"
)

// SSH defaults
const (
	DefaultSSHPort      = 22
	DefaultSSHTimeout   = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
)

// Worker pool bounds
const (
	MaxDefaultWorkers = 32
	ExtraWorkers      = 4
)

// SudoPrompt is the prompt given to sudo -p; it is stripped from captured stdout.
const SudoPrompt = "[sudo] password:"

// IfindexPath returns the sysfs file holding an interface's index.
func IfindexPath(iface string) string {
	return path.Join(SysClassNet, iface, "ifindex")
}

// MACAddressPath returns the sysfs file holding an interface's MAC address.
func MACAddressPath(iface string) string {
	return path.Join(SysClassNet, iface, "address")
}

// TapDevicePath returns the character device created for a macvtap interface.
func TapDevicePath(ifindex string) string {
	return TapDevicePrefix + ifindex
}

// ArchivePath returns the temporary archive path for one end of a
// transfer. The connection name keeps concurrent transfers to different
// hosts apart; side keeps both ends apart when they share a filesystem.
func ArchivePath(tmpDir, base, connName, side string) string {
	return path.Join(tmpDir, base+"_"+sanitizeSegment(connName)+"_"+side+DirArchiveExt)
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ' ', ':', '@':
			return '_'
		}
		return r
	}, s)
}
