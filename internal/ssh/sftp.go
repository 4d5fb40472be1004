package ssh

import (
	"fmt"

	"github.com/pkg/sftp"
)

// SFTP returns the file-transfer session of this client, dialing and
// opening it on first use. The session is closed with the client.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}
	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp session on %s: %w", c.Name(), err)
	}
	c.sftp = client
	return client, nil
}
