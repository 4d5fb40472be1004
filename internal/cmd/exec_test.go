package cmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitExecArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		dash      int
		env       string
		wantHosts []string
		wantCmd   []string
		wantErr   bool
	}{
		{"host before dash", []string{"hv1", "uname", "-a"}, 1, "", []string{"hv1"}, []string{"uname", "-a"}, false},
		{"host list", []string{"hv1, hv2,", "uptime"}, 1, "", []string{"hv1", "hv2"}, []string{"uptime"}, false},
		{"no dash", []string{"hv1", "uptime"}, -1, "", []string{"hv1"}, []string{"uptime"}, false},
		{"env host", []string{"uptime"}, 0, "hv9", []string{"hv9"}, []string{"uptime"}, false},
		{"local fallback", []string{"uptime"}, 0, "", []string{"localhost"}, []string{"uptime"}, false},
		{"single word without dash", []string{"uptime"}, -1, "", []string{"localhost"}, []string{"uptime"}, false},
		{"no command", []string{"hv1"}, 1, "", nil, nil, true},
		{"two hosts before dash", []string{"hv1", "hv2", "uptime"}, 2, "", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VMWIRE_HOST", tt.env)

			hosts, command, err := splitExecArgs(tt.args, tt.dash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitExecArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.wantHosts, hosts); diff != "" {
				t.Errorf("hosts mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCmd, command); diff != "" {
				t.Errorf("command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
