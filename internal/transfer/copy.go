// Package transfer copies files and directory trees between the local
// machine and a connection. Trees travel as a single zstd-compressed tar
// archive; single files are copied as-is.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/executor"
	"github.com/vmwire/vmwire/internal/security"
)

// Copier moves files between the local machine and connections
type Copier struct {
	runner       executor.Runner
	fs           afero.Fs
	local        conn.Conn
	tmpDir       string
	remoteTmpDir string
	logger       *zap.Logger
	out          io.Writer
}

// Option configures a Copier
type Option func(*Copier)

// WithFs sets the local filesystem
func WithFs(fs afero.Fs) Option {
	return func(c *Copier) { c.fs = fs }
}

// WithLocal sets the connection local-side archive commands run on. Nil
// leaves the choice to the runner.
func WithLocal(local conn.Conn) Option {
	return func(c *Copier) { c.local = local }
}

// WithTempDir sets the local directory archives are staged in
func WithTempDir(dir string) Option {
	return func(c *Copier) { c.tmpDir = dir }
}

// WithRemoteTempDir sets the directory archives are staged in on the
// connection side
func WithRemoteTempDir(dir string) Option {
	return func(c *Copier) { c.remoteTmpDir = dir }
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Copier) { c.logger = logger }
}

// WithOutput sets where progress lines are written
func WithOutput(w io.Writer) Option {
	return func(c *Copier) { c.out = w }
}

// New returns a Copier that runs archive commands through runner
func New(runner executor.Runner, opts ...Option) *Copier {
	c := &Copier{
		runner:       runner,
		fs:           afero.NewOsFs(),
		tmpDir:       os.TempDir(),
		remoteTmpDir: constants.RemoteTmpDir,
		logger:       zap.NewNop(),
		out:          os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("transfer")
	return c
}

// ToRemote copies the local path src to dst on target
func (c *Copier) ToRemote(ctx context.Context, src, dst string, target conn.Conn, silent bool) error {
	if !silent {
		fmt.Fprintf(c.out, "Copying %s to %s:%s\n", src, target.Name(), dst)
	}

	info, err := c.fs.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("source %s does not exist", src)
		}
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	tr, err := target.Transfer(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transfer session on %s: %w", target.Name(), err)
	}

	base := filepath.Base(filepath.Clean(src))
	dstStat, err := tr.Stat(ctx, dst)
	if err != nil {
		return err
	}

	switch {
	case info.IsDir():
		final, err := resolveDirDest(dst, base, dstStat)
		if err != nil {
			return err
		}
		if final != dst {
			if err := checkDirTarget(ctx, tr.Stat, final); err != nil {
				return err
			}
		}
		if err := c.dirToRemote(ctx, filepath.Clean(src), final, target, tr); err != nil {
			return err
		}
	case info.Mode().IsRegular():
		final, err := resolveFileDest(dst, base, dstStat)
		if err != nil {
			return err
		}
		if final != dst {
			if err := c.checkFileTarget(ctx, tr.Stat, final); err != nil {
				return err
			}
		}
		if err := c.putFile(ctx, src, final, info.Mode(), tr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("source %s is neither a file nor a directory", src)
	}

	if !silent {
		fmt.Fprintf(c.out, "Finished copying %s to %s:%s\n", src, target.Name(), dst)
	}
	return nil
}

// FromRemote copies src on target to the local path dst
func (c *Copier) FromRemote(ctx context.Context, src, dst string, target conn.Conn, silent bool) error {
	if !silent {
		fmt.Fprintf(c.out, "Copying %s:%s to %s\n", target.Name(), src, dst)
	}

	tr, err := target.Transfer(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transfer session on %s: %w", target.Name(), err)
	}

	srcStat, err := tr.Stat(ctx, src)
	if err != nil {
		return err
	}
	if !srcStat.Exists {
		return fmt.Errorf("source %s does not exist on %s", src, target.Name())
	}

	base := path.Base(path.Clean(src))
	dstStat, err := c.localStat(ctx, dst)
	if err != nil {
		return err
	}

	switch {
	case srcStat.IsDir:
		final, err := resolveDirDest(dst, base, dstStat)
		if err != nil {
			return err
		}
		if final != dst {
			if err := checkDirTarget(ctx, c.localStat, final); err != nil {
				return err
			}
		}
		if err := c.dirFromRemote(ctx, path.Clean(src), final, target, tr); err != nil {
			return err
		}
	case srcStat.IsRegular:
		final, err := resolveFileDest(dst, base, dstStat)
		if err != nil {
			return err
		}
		if final != dst {
			if err := c.checkFileTarget(ctx, c.localStat, final); err != nil {
				return err
			}
		}
		if err := c.getFile(ctx, src, final, tr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("source %s:%s is neither a file nor a directory", target.Name(), src)
	}

	if !silent {
		fmt.Fprintf(c.out, "Finished copying %s:%s to %s\n", target.Name(), src, dst)
	}
	return nil
}

// Mkdir creates path on target unless a directory is already there
func (c *Copier) Mkdir(ctx context.Context, dir string, target conn.Conn) error {
	tr, err := target.Transfer(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transfer session on %s: %w", target.Name(), err)
	}
	st, err := tr.Stat(ctx, dir)
	if err != nil {
		return err
	}
	if st.Exists {
		if st.IsDir {
			return nil
		}
		return errNotDirectory(dir)
	}
	return c.run(ctx, "mkdir -p "+security.QuoteArg(dir), target)
}

// resolveDirDest returns where a tree named base lands for the requested
// destination. A trailing separator copies into dst; otherwise the tree
// becomes dst and dst must not exist yet. Either way the tree never lands
// on an existing path.
func resolveDirDest(dst, base string, st conn.Stat) (string, error) {
	if isInto(dst) {
		if st.Exists && !st.IsDir {
			return "", errNotDirectory(dst)
		}
		return joinDest(dst, base), nil
	}
	if st.Exists {
		if st.IsDir {
			return "", errIsDirectory(dst)
		}
		return "", errNotDirectory(dst)
	}
	return dst, nil
}

// resolveFileDest returns where a file named base lands. An existing
// regular file is overwritten.
func resolveFileDest(dst, base string, st conn.Stat) (string, error) {
	if !st.Exists {
		if isInto(dst) {
			return "", errNotDirectory(dst)
		}
		return dst, nil
	}
	if st.IsDir {
		if !isInto(dst) {
			return "", errIsDirectory(dst)
		}
		return joinDest(dst, base), nil
	}
	if !st.IsRegular || isInto(dst) {
		return "", errNotRegular(dst)
	}
	return dst, nil
}

// checkDirTarget rejects an existing path a tree would land on inside a
// directory
func checkDirTarget(ctx context.Context, stat func(context.Context, string) (conn.Stat, error), final string) error {
	st, err := stat(ctx, final)
	if err != nil {
		return err
	}
	if st.Exists {
		return errExists(final)
	}
	return nil
}

// checkFileTarget validates the path a file lands on inside a directory
func (c *Copier) checkFileTarget(ctx context.Context, stat func(context.Context, string) (conn.Stat, error), final string) error {
	st, err := stat(ctx, final)
	if err != nil {
		return err
	}
	if st.Exists && !st.IsRegular {
		if st.IsDir {
			return errIsDirectory(final)
		}
		return errNotRegular(final)
	}
	return nil
}

func isInto(dst string) bool {
	return strings.HasSuffix(dst, "/")
}

func joinDest(dir, base string) string {
	return strings.TrimRight(dir, "/") + "/" + base
}

func (c *Copier) dirToRemote(ctx context.Context, src, dst string, target conn.Conn, tr conn.Transfer) (err error) {
	srcArchive := constants.ArchivePath(c.tmpDir, filepath.Base(src), target.Name(), constants.ArchiveSource)
	dstArchive := constants.ArchivePath(c.remoteTmpDir, path.Base(dst), target.Name(), constants.ArchiveDest)
	log := c.logger.With(zap.String("host", target.Name()), zap.String("src", src), zap.String("dst", dst))

	defer func() {
		err = c.cleanup(ctx, err, srcArchive, dstArchive, target)
	}()

	log.Debug("compressing directory", zap.String("archive", srcArchive))
	if err := c.CompressDir(ctx, src, srcArchive, c.local); err != nil {
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}

	if err := c.putFile(ctx, srcArchive, dstArchive, 0600, tr); err != nil {
		return err
	}

	log.Debug("extracting directory", zap.String("archive", dstArchive))
	if err := c.Decompress(ctx, dstArchive, dst, target); err != nil {
		return fmt.Errorf("failed to extract %s on %s: %w", dstArchive, target.Name(), err)
	}
	return nil
}

func (c *Copier) dirFromRemote(ctx context.Context, src, dst string, target conn.Conn, tr conn.Transfer) (err error) {
	srcArchive := constants.ArchivePath(c.remoteTmpDir, path.Base(src), target.Name(), constants.ArchiveSource)
	dstArchive := constants.ArchivePath(c.tmpDir, filepath.Base(dst), target.Name(), constants.ArchiveDest)
	log := c.logger.With(zap.String("host", target.Name()), zap.String("src", src), zap.String("dst", dst))

	defer func() {
		err = c.cleanup(ctx, err, dstArchive, srcArchive, target)
	}()

	log.Debug("compressing directory", zap.String("archive", srcArchive))
	if err := c.CompressDir(ctx, src, srcArchive, target); err != nil {
		return fmt.Errorf("failed to compress %s on %s: %w", src, target.Name(), err)
	}

	if err := c.getFile(ctx, srcArchive, dstArchive, tr); err != nil {
		return err
	}

	log.Debug("extracting directory", zap.String("archive", dstArchive))
	if err := c.Decompress(ctx, dstArchive, dst, c.local); err != nil {
		return fmt.Errorf("failed to extract %s: %w", dstArchive, err)
	}
	return nil
}

// cleanup removes both staged archives, attempting each removal regardless
// of the other, and folds failures into err
func (c *Copier) cleanup(ctx context.Context, err error, localArchive, remoteArchive string, target conn.Conn) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if rmErr := c.fs.Remove(localArchive); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("failed to remove %s: %w", localArchive, rmErr))
	}
	if rmErr := c.run(ctx, "rm -f "+security.QuoteArg(remoteArchive), target); rmErr != nil {
		result = multierror.Append(result, fmt.Errorf("failed to remove %s on %s: %w", remoteArchive, target.Name(), rmErr))
	}
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

func (c *Copier) putFile(ctx context.Context, src, dst string, mode os.FileMode, tr conn.Transfer) error {
	f, err := c.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	if err := tr.Put(ctx, f, dst, mode); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (c *Copier) getFile(ctx context.Context, src, dst string, tr conn.Transfer) error {
	if err := c.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	f, err := c.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dst, err)
	}

	mode, err := tr.Get(ctx, src, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	if mode != 0 {
		if err := c.fs.Chmod(dst, mode.Perm()); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", dst, err)
		}
	}
	return nil
}

func (c *Copier) localStat(ctx context.Context, p string) (conn.Stat, error) {
	info, err := c.fs.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return conn.Stat{}, nil
		}
		return conn.Stat{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return conn.StatFromInfo(info), nil
}
