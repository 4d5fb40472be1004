// Package executor runs shell commands on local and remote connections,
// either inline or on a bounded worker pool.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vmwire/vmwire/internal/conn"
	"github.com/vmwire/vmwire/internal/constants"
	"github.com/vmwire/vmwire/internal/security"
)

// Runner executes requests. Modules that issue host commands depend on
// this rather than on Executor.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

var _ Runner = (*Executor)(nil)

// Executor runs requests, bounding concurrent pooled commands
type Executor struct {
	sem     *semaphore.Weighted
	workers int
	logger  *zap.Logger
	out     io.Writer
	local   conn.Conn
}

// Option configures an Executor
type Option func(*Executor)

// WithWorkers sets the pool size
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithOutput sets where operator-facing text is written
func WithOutput(w io.Writer) Option {
	return func(e *Executor) {
		if w != nil {
			e.out = w
		}
	}
}

// WithLocal sets the connection used for requests without a target
func WithLocal(c conn.Conn) Option {
	return func(e *Executor) {
		if c != nil {
			e.local = c
		}
	}
}

// DefaultWorkers returns min(32, NumCPU+4)
func DefaultWorkers() int {
	return min(constants.MaxDefaultWorkers, runtime.NumCPU()+constants.ExtraWorkers)
}

// New returns an Executor
func New(opts ...Option) *Executor {
	e := &Executor{
		workers: DefaultWorkers(),
		logger:  zap.NewNop(),
		out:     os.Stdout,
		local:   conn.Local(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.out = &lockedWriter{w: e.out}
	e.sem = semaphore.NewWeighted(int64(e.workers))
	e.logger = e.logger.Named("executor")
	return e
}

// Workers returns the pool size
func (e *Executor) Workers() int {
	return e.workers
}

// Run executes req and blocks until its result is available. Pooled
// requests wait for a free worker first.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Sync {
		return e.execute(ctx, req)
	}
	return e.Submit(ctx, req).Wait()
}

// Submit schedules req on the worker pool and returns immediately. A Sync
// request runs before Submit returns.
func (e *Executor) Submit(ctx context.Context, req Request) *Task {
	t := newTask()
	if err := req.Validate(); err != nil {
		t.finish(nil, err)
		return t
	}
	if req.Sync {
		t.finish(e.execute(ctx, req))
		return t
	}

	go func() {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			t.finish(nil, err)
			return
		}
		defer e.sem.Release(1)
		t.finish(e.execute(ctx, req))
	}()
	return t
}

func (e *Executor) execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := req.Target
	if target == nil {
		target = e.local
	}

	line := req.Line()
	wrapped := line
	if req.Detach {
		wrapped = DetachCommand(wrapped)
	}

	var stdin io.Reader
	if req.Sudo {
		pw := target.SudoPassword()
		wrapped = SudoCommand(wrapped, pw != "")
		if pw != "" {
			stdin = strings.NewReader(pw + "\n")
		}
	}

	logged := security.SanitizeCommandForLog(line)
	log := e.logger.With(zap.String("host", target.Name()), zap.String("command", logged))
	if !req.NoOutput {
		fmt.Fprintf(e.out, "Command: %s, host: %s\n", logged, target.Name())
	}
	log.Debug("running command", zap.Bool("sudo", req.Sudo), zap.Bool("pty", req.PTY), zap.Bool("detach", req.Detach))

	cmd := conn.Command{Line: wrapped, Stdin: stdin, PTY: req.PTY}
	var stdout, stderr bytes.Buffer
	if req.PTY {
		cmd.Stdout = e.out
		cmd.Stderr = e.out
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	code, err := target.Run(ctx, cmd)
	if err != nil {
		log.Debug("command could not run", zap.Error(err))
		return nil, fmt.Errorf("failed to run command on %s: %w", target.Name(), err)
	}

	if req.Detach {
		return &Result{Host: target.Name(), Command: line}, nil
	}

	result := &Result{
		Host:     target.Name(),
		Command:  line,
		ExitCode: code,
		Stdout:   cleanStdout(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
	}
	log.Debug("command finished", zap.Int("exit_code", code))

	if code != 0 && !req.AllowFailure {
		e.printFailure(result)
		return result, &CommandError{Result: result}
	}

	if !req.NoOutput {
		fmt.Fprintf(e.out, "Command: %s, host: %s, return code: %d\n", logged, result.Host, result.ExitCode)
	}
	if !req.NoPipe {
		e.printStreams(result)
	}
	return result, nil
}

// printFailure writes the failure block in a single write so blocks of
// concurrent commands do not interleave
func (e *Executor) printFailure(r *Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "\nError: Command '%s' failed on host '%s' with exit code %d.\n\n",
		security.SanitizeCommandForLog(r.Command), r.Host, r.ExitCode)
	writeStreams(&b, r)
	io.WriteString(e.out, b.String())
}

func (e *Executor) printStreams(r *Result) {
	var b strings.Builder
	writeStreams(&b, r)
	if b.Len() > 0 {
		io.WriteString(e.out, b.String())
	}
}

func writeStreams(b *strings.Builder, r *Result) {
	if r.Stdout != "" {
		fmt.Fprintf(b, "STDOUT:\n%s\n\n", r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Fprintf(b, "STDERR:\n%s\n\n", r.Stderr)
	}
}

// lockedWriter serializes writes from concurrent commands
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
