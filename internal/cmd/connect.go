package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/vmwire/vmwire/internal/config"
	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/executor"
	"github.com/vmwire/vmwire/internal/security"
	"github.com/vmwire/vmwire/internal/ssh"
)

// Session holds what a command needs to reach hosts: the loaded global
// config, the executor, and every connection opened so far. The caller
// must defer Close().
type Session struct {
	Global   *config.GlobalConfig
	Executor *executor.Executor

	sudoPassword string

	mu    sync.Mutex
	conns map[string]conn.Conn
}

// NewSession loads the global config and builds the executor from the
// global flags
func NewSession() (*Session, error) {
	globalCfg, err := config.LoadGlobalConfig(GetHostsFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}

	s := &Session{Global: globalCfg, conns: map[string]conn.Conn{}}

	if askSudoPass {
		pw, err := PromptPassword("BECOME password: ")
		if err != nil {
			return nil, err
		}
		s.sudoPassword = pw
	}

	n := workers
	if n <= 0 {
		n = globalCfg.Workers
	}
	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithOutput(os.Stdout),
		executor.WithLocal(s.local()),
	}
	if n > 0 {
		opts = append(opts, executor.WithWorkers(n))
	}
	s.Executor = executor.New(opts...)

	logger.Debug("session ready", zap.Int("workers", s.Executor.Workers()), zap.Int("hosts", len(globalCfg.Hosts)))
	return s, nil
}

func (s *Session) local() *conn.Localhost {
	return conn.Local(conn.WithLocalSudoPassword(s.sudoPassword))
}

// Connect returns the connection for a configured host name. "local" and
// "localhost" name the local machine. Connections are reused within the
// session and dialed lazily.
func (s *Session) Connect(name string) (conn.Conn, error) {
	if conn.IsLocalName(name) {
		return s.local(), nil
	}
	if err := security.ValidateHostName(name); err != nil {
		return nil, fmt.Errorf("invalid host name: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[name]; ok {
		return c, nil
	}

	hostCfg, err := s.Global.GetHost(name)
	if err != nil {
		return nil, err
	}

	c, err := conn.Resolve(hostCfg, s.sshOptions()...)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved host", zap.String("host", name), zap.Strings("route", route(c)))
	s.conns[name] = c
	return c, nil
}

// route lists the hops dialed to reach r, outermost gateway first
func route(r *conn.Remote) []string {
	var hops []string
	for hop := r; hop != nil; hop = hop.Gateway() {
		hops = append([]string{hop.Name()}, hops...)
	}
	return hops
}

// sshOptions prepends a WithTimeout option if SSHTimeout is configured
func (s *Session) sshOptions() []ssh.ClientOption {
	var opts []ssh.ClientOption
	if s.Global.SSHTimeout > 0 {
		opts = append(opts, ssh.WithTimeout(time.Duration(s.Global.SSHTimeout)*time.Second))
	}
	if s.sudoPassword != "" {
		opts = append(opts, ssh.WithSudoPassword(s.sudoPassword))
	}
	return opts
}

// TempDir returns the configured local staging directory, empty for the
// system default
func (s *Session) TempDir() string {
	return s.Global.TmpDir
}

// Close closes every connection opened by the session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for name, c := range s.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(s.conns, name)
	}
	return result.ErrorOrNil()
}
