// Package ssh runs pipeline commands on a remote host over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute")
	Op string

	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Runner executes commands in SSH sessions over a single shared connection.
// It connects lazily and reconnects once if the connection was lost.
type Runner struct {
	config *Config
	logger zerolog.Logger

	mu          sync.Mutex
	client      *ssh.Client
	closeAgent  func() error
	connectedAt time.Time
}

// NewRunner validates config and returns a Runner. No connection is made
// until Connect or the first Run.
func NewRunner(config *Config, logger zerolog.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Runner{config: config, logger: logger}, nil
}

// Connect establishes the SSH connection if it is not already open.
func (r *Runner) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.connectLocked(ctx)
	return err
}

func (r *Runner) connectLocked(ctx context.Context) (*ssh.Client, error) {
	if r.client != nil {
		return r.client, nil
	}

	clientConfig, closeAgent, err := r.config.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := r.config.Address()
	r.logger.Debug().Str("address", address).Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: r.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = closeAgent()
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		_ = closeAgent()
		return nil, &TransportError{Op: "handshake", Err: err, IsAuthError: true}
	}

	r.client = ssh.NewClient(sshConn, chans, reqs)
	r.closeAgent = closeAgent
	r.connectedAt = time.Now()
	return r.client, nil
}

// Close closes the connection.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Runner) closeLocked() error {
	var errs []error
	if r.client != nil {
		errs = append(errs, r.client.Close())
		r.client = nil
	}
	if r.closeAgent != nil {
		errs = append(errs, r.closeAgent())
		r.closeAgent = nil
	}
	return errors.Join(errs...)
}

func (r *Runner) session(ctx context.Context) (*ssh.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	// The connection may have dropped since the last command.
	r.logger.Debug().Err(err).Msg("Session failed, reconnecting")
	_ = r.closeLocked()
	client, err = r.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	return session, nil
}

// Execute runs cmd and returns its stdout and stderr.
func (r *Runner) Execute(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	session, err := r.session(ctx)
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	start := time.Now()
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		err = ctx.Err()
	case err = <-done:
	}

	r.logger.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Remote command finished")

	stdout, stderr = stdoutBuf.String(), stderrBuf.String()
	if err == nil {
		return stdout, stderr, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return stdout, stderr, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("command exited with code %d", exitErr.ExitStatus()),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return stdout, stderr, err
	}
	return stdout, stderr, &TransportError{Op: "execute", Err: err, IsTemporary: true}
}

// Run implements engine.CommandRunner with the same result conventions as
// the local runner: stdout is the output, stderr the error when non-empty.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) engine.CommandResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout, stderr, err := r.Execute(ctx, command)
	result := engine.CommandResult{Output: stdout}
	switch {
	case err == nil:
		result.Success = true
	case errors.Is(err, context.DeadlineExceeded):
		result.TimedOut = true
		result.Error = "command timed out"
		if timeout > 0 {
			result.Error = fmt.Sprintf("command timed out after %s", timeout)
		}
	case stderr != "":
		result.Error = stderr
	default:
		result.Error = err.Error()
	}
	return result
}

var _ engine.CommandRunner = (*Runner)(nil)
