package ssh

import (
	"time"

	"github.com/vmwire/vmwire/internal/constants"
)

// Default client settings
const (
	DefaultTimeout      = constants.DefaultSSHTimeout
	DefaultMaxRetries   = constants.DefaultMaxRetries
	DefaultInitialDelay = constants.DefaultInitialDelay
	DefaultMaxDelay     = constants.DefaultMaxDelay
)

type clientOptions struct {
	timeout      time.Duration
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	gateway      *Client
	sudoPassword string
	name         string
}

func defaultOptions() clientOptions {
	return clientOptions{
		timeout:      DefaultTimeout,
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
	}
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

// WithTimeout sets the dial and handshake timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithRetries sets how many times Connect attempts to dial
func WithRetries(n int) ClientOption {
	return func(o *clientOptions) {
		if n < 1 {
			n = 1
		}
		o.maxRetries = n
	}
}

// WithInitialDelay sets the first backoff delay between dial attempts
func WithInitialDelay(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.initialDelay = d
	}
}

// WithMaxDelay caps the backoff delay
func WithMaxDelay(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.maxDelay = d
	}
}

// WithGateway tunnels the connection through an already configured client.
// The child owns the gateway and closes it on Close.
func WithGateway(gw *Client) ClientOption {
	return func(o *clientOptions) {
		o.gateway = gw
	}
}

// WithSudoPassword sets the password fed to sudo on this host
func WithSudoPassword(pw string) ClientOption {
	return func(o *clientOptions) {
		o.sudoPassword = pw
	}
}

// WithName sets the display name used in logs and temp file names
func WithName(name string) ClientOption {
	return func(o *clientOptions) {
		o.name = name
	}
}
