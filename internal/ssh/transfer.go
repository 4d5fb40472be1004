package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
)

// Stat returns information about a remote path. A missing path yields an
// error satisfying errors.Is(err, os.ErrNotExist).
func (c *Client) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := c.SFTP()
	if err != nil {
		return nil, err
	}
	return client.Stat(remotePath)
}

// Upload streams r into remotePath, creating parent directories and
// truncating an existing file
func (c *Client) Upload(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.SFTP()
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}

	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
	}

	if mode != 0 {
		if err := client.Chmod(remotePath, mode.Perm()); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", remotePath, err)
		}
	}
	return nil
}

// Download copies remotePath into w and returns the remote file mode
func (c *Client) Download(ctx context.Context, remotePath string, w io.Writer) (os.FileMode, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	client, err := c.SFTP()
	if err != nil {
		return 0, err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("failed to read remote file %s: %w", remotePath, err)
	}
	return info.Mode(), nil
}

// Remove deletes a remote file. A missing file is not an error.
func (c *Client) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.SFTP()
	if err != nil {
		return err
	}
	if err := client.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove remote file %s: %w", remotePath, err)
	}
	return nil
}
