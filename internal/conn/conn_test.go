package conn

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/vmwire/vmwire/internal/config"
)

func TestLocal_Run(t *testing.T) {
	l := Local()

	tests := []struct {
		name       string
		line       string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"stdout", "echo hello", 0, "hello\n", ""},
		{"stderr", "echo oops >&2", 0, "", "oops\n"},
		{"exit code", "exit 3", 3, "", ""},
		{"pipeline", "printf 'a b' | wc -w | tr -d ' '", 0, "2\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code, err := l.Run(context.Background(), Command{Line: tt.line, Stdout: &stdout, Stderr: &stderr})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("Run() code = %d, want %d", code, tt.wantCode)
			}
			if stdout.String() != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantStdout)
			}
			if stderr.String() != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestLocal_RunStdin(t *testing.T) {
	var stdout bytes.Buffer
	code, err := Local().Run(context.Background(), Command{
		Line:   "cat",
		Stdin:  strings.NewReader("piped"),
		Stdout: &stdout,
	})
	if err != nil || code != 0 {
		t.Fatalf("Run() = %d, %v", code, err)
	}
	if stdout.String() != "piped" {
		t.Errorf("stdout = %q, want piped", stdout.String())
	}
}

func TestLocal_RunMissingShell(t *testing.T) {
	l := Local(WithShell("/nonexistent/shell"))
	if _, err := l.Run(context.Background(), Command{Line: "true"}); err == nil {
		t.Error("Run() error = nil, want error for missing shell")
	}
}

func TestLocal_RunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Local().Run(ctx, Command{Line: "true"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestLocal_Identity(t *testing.T) {
	l := Local(WithLocalSudoPassword("pw"))
	if l.Name() != "localhost" {
		t.Errorf("Name() = %s, want localhost", l.Name())
	}
	if !l.IsLocal() {
		t.Error("IsLocal() = false")
	}
	if l.SudoPassword() != "pw" {
		t.Errorf("SudoPassword() = %q, want pw", l.SudoPassword())
	}
}

func TestFsTransfer(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := Local(WithFs(fs))
	ctx := context.Background()

	tr, err := l.Transfer(ctx)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	st, err := tr.Stat(ctx, "/data/disk.img")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Exists {
		t.Error("Stat() reports a missing path as existing")
	}

	if err := tr.Put(ctx, strings.NewReader("contents"), "/data/disk.img", 0600); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	st, err = tr.Stat(ctx, "/data/disk.img")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if want := (Stat{Exists: true, IsRegular: true}); st != want {
		t.Errorf("Stat(file) = %+v, want %+v", st, want)
	}

	st, err = tr.Stat(ctx, "/data")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if want := (Stat{Exists: true, IsDir: true}); st != want {
		t.Errorf("Stat(dir) = %+v, want %+v", st, want)
	}

	var buf bytes.Buffer
	mode, err := tr.Get(ctx, "/data/disk.img", &buf)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "contents" {
		t.Errorf("Get() = %q, want contents", buf.String())
	}
	if mode.Perm() != 0600 {
		t.Errorf("Get() mode = %v, want 0600", mode.Perm())
	}

	if err := tr.Remove(ctx, "/data/disk.img"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := tr.Remove(ctx, "/data/disk.img"); err != nil {
		t.Errorf("Remove() of a missing file error = %v, want nil", err)
	}
	if _, err := fs.Stat("/data/disk.img"); !os.IsNotExist(err) {
		t.Error("file still present after Remove()")
	}
}

func TestResolve_NoHost(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.HostConfig
	}{
		{"nil config", nil},
		{"empty host", &config.HostConfig{Name: "hv1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.cfg)
			if !errors.Is(err, ErrNoHost) {
				t.Errorf("Resolve() error = %v, want ErrNoHost", err)
			}
		})
	}
}

func TestResolve_GatewayChain(t *testing.T) {
	cfg := &config.HostConfig{
		Name: "hv1",
		Host: "10.0.0.5",
		User: "root",
		Gateway: &config.HostConfig{
			Name: "inner",
			Host: "10.0.0.1",
			Gateway: &config.HostConfig{
				Host: "bastion.example.com",
			},
		},
	}

	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Name() != "hv1" {
		t.Errorf("Name() = %s, want hv1", r.Name())
	}
	if r.IsLocal() {
		t.Error("IsLocal() = true for a remote handle")
	}

	var names []string
	for hop := r; hop != nil; hop = hop.Gateway() {
		names = append(names, hop.Name())
	}
	want := []string{"hv1", "inner", "bastion.example.com"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("chain = %v, want %v", names, want)
	}

	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestResolve_BadGateway(t *testing.T) {
	cfg := &config.HostConfig{Host: "10.0.0.5", Gateway: &config.HostConfig{}}
	if _, err := Resolve(cfg); !errors.Is(err, ErrNoHost) {
		t.Errorf("Resolve() error = %v, want wrapped ErrNoHost", err)
	}
}

func TestResolve_PersistentTunnel(t *testing.T) {
	cfg := &config.HostConfig{
		Host:             "127.0.0.1",
		Port:             2222,
		PersistentTunnel: true,
		Gateway:          &config.HostConfig{Host: "bastion"},
	}
	r, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Gateway() != nil {
		t.Error("gateway dialed despite a persistent tunnel")
	}
	if r.Client().Addr() != "127.0.0.1:2222" {
		t.Errorf("Addr() = %s, want 127.0.0.1:2222", r.Client().Addr())
	}
}

func TestResolve_SudoPasswordEnv(t *testing.T) {
	t.Setenv("VMWIRE_TEST_SUDO", "hunter2")
	r, err := Resolve(&config.HostConfig{Host: "hv", SudoPasswordEnv: "VMWIRE_TEST_SUDO"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.SudoPassword() != "hunter2" {
		t.Errorf("SudoPassword() = %q, want hunter2", r.SudoPassword())
	}
}

func TestIsLocalName(t *testing.T) {
	for name, want := range map[string]bool{
		"":          true,
		"local":     true,
		"localhost": true,
		"hv1":       false,
		"127.0.0.1": false,
	} {
		if got := IsLocalName(name); got != want {
			t.Errorf("IsLocalName(%q) = %v, want %v", name, got, want)
		}
	}
}
