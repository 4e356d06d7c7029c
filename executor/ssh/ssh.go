// Package ssh runs node commands on a remote host over SSH.
//
// Authentication goes through the local SSH agent and host keys are
// checked against a known_hosts file. Resource peaks are not sampled
// remotely and are reported as zero.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kbukum/devflow/executor"
)

// Config holds SSH executor settings.
type Config struct {
	User        string        `mapstructure:"user" json:"user"`
	Port        int           `mapstructure:"port" json:"port"`
	KnownHosts  string        `mapstructure:"known_hosts" json:"known_hosts"`
	AgentSocket string        `mapstructure:"agent_socket" json:"agent_socket"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	// InsecureIgnoreHostKey disables host key checking.
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.User == "" {
		c.User = "root"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	if c.AgentSocket == "" {
		c.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Option customizes an Executor.
type Option func(*Executor)

// WithAuth replaces agent authentication with fixed methods.
func WithAuth(methods ...gossh.AuthMethod) Option {
	return func(e *Executor) { e.auth = methods }
}

// WithHostKeyCallback replaces known_hosts checking.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(e *Executor) { e.hostKey = cb }
}

// Executor dials one connection per request.
type Executor struct {
	cfg     Config
	auth    []gossh.AuthMethod
	hostKey gossh.HostKeyCallback
}

// New creates an SSH executor.
func New(cfg Config, opts ...Option) *Executor {
	cfg.ApplyDefaults()
	e := &Executor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req.Command on req.Profile.SSHHost.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	if req.Profile.SSHHost == "" {
		return nil, errors.New("ssh: profile has no sshHost")
	}

	clientCfg, closeAuth, err := e.clientConfig(req.Profile)
	if err != nil {
		return nil, err
	}
	defer closeAuth()

	runCtx, cancel := executor.WithTimeout(ctx, req)
	defer cancel()

	addr := e.address(req.Profile)
	start := time.Now()
	client, err := dial(runCtx, addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	stdout := executor.NewStreamWriter("stdout", req.Lines)
	stderr := executor.NewStreamWriter("stderr", req.Lines)
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(RemoteCommand(req)) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		_ = session.Signal(gossh.SIGTERM)
		_ = session.Close()
		runErr = runCtx.Err()
	}
	stdout.Flush()
	stderr.Flush()

	result := &executor.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if executor.TimedOut(ctx, runCtx) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("ssh: killed by context: %w", ctx.Err())
	}

	var exitErr *gossh.ExitError
	var missing *gossh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case errors.As(runErr, &missing):
		result.ExitCode = -1
	default:
		return result, fmt.Errorf("ssh: run: %w", runErr)
	}
	return result, nil
}

// RemoteCommand builds the quoted sh -c invocation sent to the remote host.
func RemoteCommand(req executor.Request) string {
	var script strings.Builder
	if env := executor.EnvList(req.Env); len(env) > 0 {
		script.WriteString("export")
		for _, kv := range env {
			k, v, _ := strings.Cut(kv, "=")
			script.WriteString(" " + k + "=" + executor.ShellQuote(v))
		}
		script.WriteString("; ")
	}
	if req.Dir != "" {
		script.WriteString("cd " + executor.ShellQuote(req.Dir) + " && ")
	}
	script.WriteString(req.Command)
	return "sh -c " + executor.ShellQuote(script.String())
}

func (e *Executor) address(p executor.Profile) string {
	port := e.cfg.Port
	if p.SSHPort > 0 {
		port = p.SSHPort
	}
	return net.JoinHostPort(p.SSHHost, strconv.Itoa(port))
}

func (e *Executor) clientConfig(p executor.Profile) (*gossh.ClientConfig, func(), error) {
	user := p.SSHUser
	if user == "" {
		user = e.cfg.User
	}

	hostKey, err := e.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	closeAuth := func() {}
	auth := e.auth
	if len(auth) == 0 {
		if e.cfg.AgentSocket == "" {
			return nil, nil, errors.New("ssh: no agent socket (SSH_AUTH_SOCK is unset)")
		}
		conn, err := net.Dial("unix", e.cfg.AgentSocket)
		if err != nil {
			return nil, nil, fmt.Errorf("ssh: connect to agent: %w", err)
		}
		closeAuth = func() { _ = conn.Close() }
		auth = []gossh.AuthMethod{gossh.PublicKeysCallback(agent.NewClient(conn).Signers)}
	}

	return &gossh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         e.cfg.DialTimeout,
	}, closeAuth, nil
}

func (e *Executor) hostKeyCallback() (gossh.HostKeyCallback, error) {
	if e.hostKey != nil {
		return e.hostKey, nil
	}
	if e.cfg.InsecureIgnoreHostKey {
		return gossh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}
	cb, err := knownhosts.New(e.cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("ssh: load known hosts: %w", err)
	}
	return cb, nil
}

// dial connects with ctx bounding the TCP dial and the handshake.
func dial(ctx context.Context, addr string, cfg *gossh.ClientConfig) (*gossh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return gossh.NewClient(c, chans, reqs), nil
}

var _ executor.Executor = (*Executor)(nil)
