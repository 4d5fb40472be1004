package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/executor"
	"github.com/vmwire/vmwire/internal/security"
)

// CompressDirCommand archives dir as a single top-level entry named after it
func CompressDirCommand(dir, archive string) string {
	dir = path.Clean(dir)
	return fmt.Sprintf("tar -c -I %s -f %s -C %s %s",
		constants.ZstdProgram, security.QuoteArg(archive),
		security.QuoteArg(path.Dir(dir)), security.QuoteArg(path.Base(dir)))
}

// ExtractDirCommand unpacks a directory archive. With dest set, the
// archived directory becomes dest itself; otherwise it is recreated next
// to the archive under its original name.
func ExtractDirCommand(archive, dest string) string {
	if dest == "" {
		return fmt.Sprintf("tar -x -I %s -f %s -C %s",
			constants.ZstdProgram, security.QuoteArg(archive), security.QuoteArg(path.Dir(archive)))
	}
	return fmt.Sprintf("mkdir -p %s && tar -x -I %s -f %s -C %s --strip-components=1",
		security.QuoteArg(dest), constants.ZstdProgram, security.QuoteArg(archive), security.QuoteArg(dest))
}

// CompressFileCommand compresses a single file
func CompressFileCommand(file, archive string) string {
	return fmt.Sprintf("zstd -T0 %s -o %s", security.QuoteArg(file), security.QuoteArg(archive))
}

// DecompressFileCommand decompresses a single file. Without dest the
// output lands next to the archive with the extension dropped.
func DecompressFileCommand(archive, dest string) string {
	if dest == "" {
		dest = strings.TrimSuffix(archive, constants.FileArchiveExt)
	}
	return fmt.Sprintf("zstd -d -T0 %s -o %s", security.QuoteArg(archive), security.QuoteArg(dest))
}

// CompressDir archives dir into archive on target
func (c *Copier) CompressDir(ctx context.Context, dir, archive string, target conn.Conn) error {
	return c.run(ctx, CompressDirCommand(dir, archive), target)
}

// CompressFile compresses file into archive on target
func (c *Copier) CompressFile(ctx context.Context, file, archive string, target conn.Conn) error {
	return c.run(ctx, CompressFileCommand(file, archive), target)
}

// Decompress unpacks archive on target, dispatching on its extension
func (c *Copier) Decompress(ctx context.Context, archive, dest string, target conn.Conn) error {
	switch {
	case strings.HasSuffix(archive, constants.DirArchiveExt):
		return c.run(ctx, ExtractDirCommand(archive, dest), target)
	case strings.HasSuffix(archive, constants.FileArchiveExt):
		return c.run(ctx, DecompressFileCommand(archive, dest), target)
	}
	return fmt.Errorf("unsupported archive %s (expected %s or %s)",
		archive, constants.DirArchiveExt, constants.FileArchiveExt)
}

func (c *Copier) run(ctx context.Context, line string, target conn.Conn) error {
	_, err := c.runner.Run(ctx, executor.Request{
		Command:  line,
		Target:   target,
		NoPipe:   true,
		NoOutput: true,
	})
	return err
}
