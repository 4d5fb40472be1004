package cmd

import "testing"

func TestQuoteArgs(t *testing.T) {
	args := []string{
		"-netdev", "tap,id=mvt0,fd=3,vhost=on",
		"3<>/dev/tap11",
		"-device", "virtio-net-pci,netdev=mvt0,mac=52:54:00:00:00:01",
		"-netdev", "user,id=net 0",
	}
	want := "-netdev tap,id=mvt0,fd=3,vhost=on 3<>/dev/tap11 -device virtio-net-pci,netdev=mvt0,mac=52:54:00:00:00:01 -netdev 'user,id=net 0'"
	if got := quoteArgs(args); got != want {
		t.Errorf("quoteArgs() =\n%s\nwant\n%s", got, want)
	}
}

func TestIsRedirection(t *testing.T) {
	tests := []struct {
		arg  string
		want bool
	}{
		{"3<>/dev/tap11", true},
		{"12<>/dev/tap4", true},
		{"<>/dev/tap4", false},
		{"a<>b", false},
		{"-netdev", false},
	}
	for _, tt := range tests {
		if got := isRedirection(tt.arg); got != tt.want {
			t.Errorf("isRedirection(%q) = %v, want %v", tt.arg, got, tt.want)
		}
	}
}
