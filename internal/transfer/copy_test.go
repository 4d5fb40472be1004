package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/zap/zaptest"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/executor"
)

// memConn is a connection whose filesystem is an in-memory afero.Fs
type memConn struct {
	name string
	fs   afero.Fs
}

func (m *memConn) Name() string         { return m.name }
func (m *memConn) IsLocal() bool        { return false }
func (m *memConn) SudoPassword() string { return "" }
func (m *memConn) Close() error         { return nil }

func (m *memConn) Run(ctx context.Context, cmd conn.Command) (int, error) {
	return 0, errors.New("memConn runs no commands")
}

func (m *memConn) Transfer(ctx context.Context) (conn.Transfer, error) {
	return conn.NewFsTransfer(m.fs), nil
}

type fixture struct {
	local  afero.Fs
	remote *memConn
	runner *executor.MockRunner
	copier *Copier
	out    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		local:  afero.NewMemMapFs(),
		remote: &memConn{name: "hv1", fs: afero.NewMemMapFs()},
		runner: &executor.MockRunner{},
		out:    &bytes.Buffer{},
	}
	f.copier = New(f.runner,
		WithFs(f.local),
		WithTempDir("/tmp"),
		WithRemoteTempDir("/var/tmp"),
		WithLogger(zaptest.NewLogger(t)),
		WithOutput(f.out),
	)
	return f
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestToRemote_File(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(fs afero.Fs)
		dst      string
		wantPath string
	}{
		{
			name:     "new path",
			dst:      "/srv/disk.img",
			wantPath: "/srv/disk.img",
		},
		{
			name:     "into directory",
			setup:    func(fs afero.Fs) { fs.MkdirAll("/srv", 0755) },
			dst:      "/srv/",
			wantPath: "/srv/disk.img",
		},
		{
			name:     "overwrite regular file",
			setup:    func(fs afero.Fs) { afero.WriteFile(fs, "/srv/disk.img", []byte("old"), 0644) },
			dst:      "/srv/disk.img",
			wantPath: "/srv/disk.img",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.local, "/images/disk.img", "qcow2 bytes")
			if tt.setup != nil {
				tt.setup(f.remote.fs)
			}

			if err := f.copier.ToRemote(context.Background(), "/images/disk.img", tt.dst, f.remote, true); err != nil {
				t.Fatalf("ToRemote() error = %v", err)
			}
			if got := readFile(t, f.remote.fs, tt.wantPath); got != "qcow2 bytes" {
				t.Errorf("remote content = %q, want qcow2 bytes", got)
			}
			if cmds := f.runner.Commands(); len(cmds) != 0 {
				t.Errorf("single-file copy ran commands %v, want none", cmds)
			}
		})
	}
}

func TestToRemote_FileIntoDirectoryWithoutSeparator(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.local, "/images/disk.img", "qcow2 bytes")
	if err := f.remote.fs.MkdirAll("/srv", 0755); err != nil {
		t.Fatal(err)
	}

	err := f.copier.ToRemote(context.Background(), "/images/disk.img", "/srv", f.remote, true)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("ToRemote() error = %v, want *UsageError", err)
	}
	if !strings.Contains(usage.Directive(), "append /") {
		t.Errorf("Directive() = %q, want a hint to append /", usage.Directive())
	}

	entries, _ := afero.ReadDir(f.remote.fs, "/srv")
	if len(entries) != 0 {
		t.Errorf("destination mutated: %v", entries)
	}
	if cmds := f.runner.Commands(); len(cmds) != 0 {
		t.Errorf("ran commands %v, want none", cmds)
	}
}

func TestToRemote_MissingSource(t *testing.T) {
	f := newFixture(t)
	err := f.copier.ToRemote(context.Background(), "/nope", "/srv/x", f.remote, true)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("ToRemote() error = %v, want missing source", err)
	}
}

// seedArchive makes the mocked tar -c produce an archive file locally
func seedArchive(f *fixture, archive string) {
	f.runner.RunFunc = func(ctx context.Context, req executor.Request) (*executor.Result, error) {
		if strings.HasPrefix(req.Line(), "tar -c") && req.Target == nil {
			afero.WriteFile(f.local, archive, []byte("archive"), 0600)
		}
		return &executor.Result{Command: req.Line()}, nil
	}
}

func TestToRemote_Directory(t *testing.T) {
	tests := []struct {
		name      string
		dst       string
		setup     func(fs afero.Fs)
		wantFinal string
		remoteArc string
	}{
		{"new path", "/srv/vm1", nil, "/srv/vm1", "/var/tmp/vm1_hv1_dst.tar.zst"},
		{"into directory", "/srv/", func(fs afero.Fs) { fs.MkdirAll("/srv", 0755) }, "/srv/data", "/var/tmp/data_hv1_dst.tar.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.local, "/src/data/a.txt", "a")
			if tt.setup != nil {
				tt.setup(f.remote.fs)
			}
			seedArchive(f, "/tmp/data_hv1_src.tar.zst")

			if err := f.copier.ToRemote(context.Background(), "/src/data", tt.dst, f.remote, true); err != nil {
				t.Fatalf("ToRemote() error = %v", err)
			}

			want := []string{
				"tar -c -I 'zstd --ultra --long -T0' -f /tmp/data_hv1_src.tar.zst -C /src data",
				"mkdir -p " + tt.wantFinal + " && tar -x -I 'zstd --ultra --long -T0' -f " + tt.remoteArc + " -C " + tt.wantFinal + " --strip-components=1",
				"rm -f " + tt.remoteArc,
			}
			if diff := cmp.Diff(want, f.runner.Commands()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}

			reqs := f.runner.Requests()
			if reqs[0].Target != nil {
				t.Error("compression did not run locally")
			}
			if reqs[1].Target != f.remote || reqs[2].Target != f.remote {
				t.Error("extraction and cleanup did not run on the target")
			}
			if got := readFile(t, f.remote.fs, tt.remoteArc); got != "archive" {
				t.Errorf("remote archive = %q, want archive", got)
			}
			if ok, _ := afero.Exists(f.local, "/tmp/data_hv1_src.tar.zst"); ok {
				t.Error("local archive not removed")
			}
		})
	}
}

func TestToRemote_DirectoryOntoExisting(t *testing.T) {
	for name, setup := range map[string]func(fs afero.Fs){
		"directory": func(fs afero.Fs) { fs.MkdirAll("/srv/vm1", 0755) },
		"file":      func(fs afero.Fs) { afero.WriteFile(fs, "/srv/vm1", nil, 0644) },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, f.local, "/src/data/a.txt", "a")
			setup(f.remote.fs)

			err := f.copier.ToRemote(context.Background(), "/src/data", "/srv/vm1", f.remote, true)
			var usage *UsageError
			if !errors.As(err, &usage) {
				t.Fatalf("ToRemote() error = %v, want *UsageError", err)
			}
			if cmds := f.runner.Commands(); len(cmds) != 0 {
				t.Errorf("ran commands %v, want none", cmds)
			}
		})
	}
}

func TestToRemote_DirectoryIntoOccupied(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.local, "/src/data/a.txt", "a")
	writeFile(t, f.remote.fs, "/srv/data/old.txt", "old")

	err := f.copier.ToRemote(context.Background(), "/src/data", "/srv/", f.remote, true)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("ToRemote() error = %v, want *UsageError", err)
	}
	if usage.Path != "/srv/data" {
		t.Errorf("UsageError.Path = %q, want /srv/data", usage.Path)
	}
	if cmds := f.runner.Commands(); len(cmds) != 0 {
		t.Errorf("ran commands %v, want none", cmds)
	}
}

func TestFromRemote_DirectoryIntoOccupied(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.remote.fs, "/srv/vm1/disk.img", "img")
	writeFile(t, f.local, "/backup/vm1", "not a tree")

	err := f.copier.FromRemote(context.Background(), "/srv/vm1", "/backup/", f.remote, true)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("FromRemote() error = %v, want *UsageError", err)
	}
	if cmds := f.runner.Commands(); len(cmds) != 0 {
		t.Errorf("ran commands %v, want none", cmds)
	}
}

func TestToRemote_CleanupAfterFailure(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.local, "/src/data/a.txt", "a")
	extractErr := errors.New("tar: short read")
	f.runner.RunFunc = func(ctx context.Context, req executor.Request) (*executor.Result, error) {
		line := req.Line()
		switch {
		case strings.HasPrefix(line, "tar -c"):
			afero.WriteFile(f.local, "/tmp/data_hv1_src.tar.zst", []byte("archive"), 0600)
		case strings.Contains(line, "tar -x"):
			return nil, extractErr
		}
		return &executor.Result{}, nil
	}

	err := f.copier.ToRemote(context.Background(), "/src/data", "/srv/data", f.remote, true)
	if !errors.Is(err, extractErr) {
		t.Fatalf("ToRemote() error = %v, want extraction failure", err)
	}

	cmds := f.runner.Commands()
	if last := cmds[len(cmds)-1]; last != "rm -f /var/tmp/data_hv1_dst.tar.zst" {
		t.Errorf("last command = %q, want remote archive removal", last)
	}
	if ok, _ := afero.Exists(f.local, "/tmp/data_hv1_src.tar.zst"); ok {
		t.Error("local archive not removed after failure")
	}
}

func TestToRemote_CleanupErrorsCombined(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.local, "/src/data/a.txt", "a")
	extractErr := errors.New("extract failed")
	rmErr := errors.New("rm failed")
	f.runner.RunFunc = func(ctx context.Context, req executor.Request) (*executor.Result, error) {
		line := req.Line()
		switch {
		case strings.HasPrefix(line, "tar -c"):
			afero.WriteFile(f.local, "/tmp/data_hv1_src.tar.zst", []byte("archive"), 0600)
		case strings.Contains(line, "tar -x"):
			return nil, extractErr
		case strings.HasPrefix(line, "rm -f"):
			return nil, rmErr
		}
		return &executor.Result{}, nil
	}

	err := f.copier.ToRemote(context.Background(), "/src/data", "/srv/data", f.remote, true)
	if !errors.Is(err, extractErr) || !errors.Is(err, rmErr) {
		t.Errorf("ToRemote() error = %v, want both failures", err)
	}
}

func TestFromRemote_File(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.remote.fs, "/var/log/vm.log", "boot ok")
	if err := f.local.MkdirAll("/logs", 0755); err != nil {
		t.Fatal(err)
	}

	if err := f.copier.FromRemote(context.Background(), "/var/log/vm.log", "/logs/", f.remote, false); err != nil {
		t.Fatalf("FromRemote() error = %v", err)
	}
	if got := readFile(t, f.local, "/logs/vm.log"); got != "boot ok" {
		t.Errorf("local content = %q, want boot ok", got)
	}
	if !strings.Contains(f.out.String(), "Finished copying hv1:/var/log/vm.log to /logs/") {
		t.Errorf("progress output = %q", f.out.String())
	}
}

func TestFromRemote_FileOntoDirectory(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.remote.fs, "/var/log/vm.log", "boot ok")
	if err := f.local.MkdirAll("/logs", 0755); err != nil {
		t.Fatal(err)
	}

	err := f.copier.FromRemote(context.Background(), "/var/log/vm.log", "/logs", f.remote, true)
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("FromRemote() error = %v, want *UsageError", err)
	}
}

func TestFromRemote_MissingSource(t *testing.T) {
	f := newFixture(t)
	err := f.copier.FromRemote(context.Background(), "/nope", "/x", f.remote, true)
	if err == nil || !strings.Contains(err.Error(), "does not exist on hv1") {
		t.Errorf("FromRemote() error = %v, want missing source", err)
	}
}

func TestFromRemote_Directory(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.remote.fs, "/srv/vm1/disk.img", "img")
	writeFile(t, f.remote.fs, "/var/tmp/vm1_hv1_src.tar.zst", "archive")

	if err := f.copier.FromRemote(context.Background(), "/srv/vm1", "/backup/vm1", f.remote, true); err != nil {
		t.Fatalf("FromRemote() error = %v", err)
	}

	want := []string{
		"tar -c -I 'zstd --ultra --long -T0' -f /var/tmp/vm1_hv1_src.tar.zst -C /srv vm1",
		"mkdir -p /backup/vm1 && tar -x -I 'zstd --ultra --long -T0' -f /tmp/vm1_hv1_dst.tar.zst -C /backup/vm1 --strip-components=1",
		"rm -f /var/tmp/vm1_hv1_src.tar.zst",
	}
	if diff := cmp.Diff(want, f.runner.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	reqs := f.runner.Requests()
	if reqs[0].Target != f.remote || reqs[1].Target != nil {
		t.Error("compression must run remotely and extraction locally")
	}
	if ok, _ := afero.Exists(f.local, "/tmp/vm1_hv1_dst.tar.zst"); ok {
		t.Error("local archive not removed")
	}
}

func TestMkdir(t *testing.T) {
	f := newFixture(t)
	f.remote.fs.MkdirAll("/srv/images", 0755)
	afero.WriteFile(f.remote.fs, "/srv/file", nil, 0644)
	ctx := context.Background()

	if err := f.copier.Mkdir(ctx, "/srv/images", f.remote); err != nil {
		t.Errorf("Mkdir(existing dir) error = %v", err)
	}
	var usage *UsageError
	if err := f.copier.Mkdir(ctx, "/srv/file", f.remote); !errors.As(err, &usage) {
		t.Errorf("Mkdir(file) error = %v, want *UsageError", err)
	}
	if err := f.copier.Mkdir(ctx, "/srv/new dir", f.remote); err != nil {
		t.Errorf("Mkdir(new) error = %v", err)
	}

	if diff := cmp.Diff([]string{"mkdir -p '/srv/new dir'"}, f.runner.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFileDest(t *testing.T) {
	tests := []struct {
		name    string
		dst     string
		st      conn.Stat
		want    string
		wantErr bool
	}{
		{"missing", "/a/b", conn.Stat{}, "/a/b", false},
		{"missing with separator", "/a/b/", conn.Stat{}, "", true},
		{"regular file", "/a/b", conn.Stat{Exists: true, IsRegular: true}, "/a/b", false},
		{"directory", "/a/b", conn.Stat{Exists: true, IsDir: true}, "", true},
		{"directory with separator", "/a/b/", conn.Stat{Exists: true, IsDir: true}, "/a/b/disk.img", false},
		{"special file", "/dev/null", conn.Stat{Exists: true}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFileDest(tt.dst, "disk.img", tt.st)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveFileDest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveFileDest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	requireTools(t)

	src := t.TempDir() + "/tree"
	files := map[string]string{
		"top.txt":            "top",
		"nested/a.bin":       strings.Repeat("x", 4096),
		"nested/deeper/b.md": "# b",
	}
	for name, content := range files {
		p := src + "/" + name
		if err := os.MkdirAll(p[:strings.LastIndex(p, "/")], 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	local := conn.Local()
	runner := executor.New(executor.WithOutput(io.Discard), executor.WithLogger(zaptest.NewLogger(t)))
	c := New(runner, WithTempDir(t.TempDir()), WithRemoteTempDir(t.TempDir()), WithOutput(io.Discard))
	ctx := context.Background()

	there := t.TempDir() + "/there"
	if err := c.ToRemote(ctx, src, there, local, true); err != nil {
		t.Fatalf("ToRemote() error = %v", err)
	}
	back := t.TempDir() + "/back"
	if err := c.FromRemote(ctx, there, back, local, true); err != nil {
		t.Fatalf("FromRemote() error = %v", err)
	}

	for name, content := range files {
		for _, root := range []string{there, back} {
			got, err := os.ReadFile(root + "/" + name)
			if err != nil {
				t.Errorf("read %s/%s: %v", root, name, err)
				continue
			}
			if string(got) != content {
				t.Errorf("%s/%s = %q, want %q", root, name, got, content)
			}
		}
	}
}

func TestRoundTrip_SharedTempDir(t *testing.T) {
	requireTools(t)

	root := t.TempDir()
	src := root + "/a/images"
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src+"/f.txt", []byte("disk"), 0644); err != nil {
		t.Fatal(err)
	}

	tmp := root + "/tmp"
	if err := os.MkdirAll(tmp, 0755); err != nil {
		t.Fatal(err)
	}
	runner := executor.New(executor.WithOutput(io.Discard), executor.WithLogger(zaptest.NewLogger(t)))
	c := New(runner, WithTempDir(tmp), WithRemoteTempDir(tmp), WithOutput(io.Discard))
	ctx := context.Background()

	there := root + "/b/images"
	if err := c.ToRemote(ctx, src, there, conn.Local(), true); err != nil {
		t.Fatalf("ToRemote() error = %v", err)
	}
	back := root + "/c/images"
	if err := c.FromRemote(ctx, there, back, conn.Local(), true); err != nil {
		t.Fatalf("FromRemote() error = %v", err)
	}

	for _, dir := range []string{there, back} {
		got, err := os.ReadFile(dir + "/f.txt")
		if err != nil {
			t.Fatalf("read %s/f.txt: %v", dir, err)
		}
		if string(got) != "disk" {
			t.Errorf("%s/f.txt = %q, want disk", dir, got)
		}
	}

	left, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("staged archives left in %s: %v", tmp, left)
	}
}
