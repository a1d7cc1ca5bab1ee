// Package ssh runs commands on the hypervisor over SSH.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for remote command execution.
type Service interface {
	Execute(ctx context.Context, creds models.Credentials, command string) *models.CommandResult
	TestConnection(ctx context.Context, creds models.Credentials) *models.CommandResult
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Run(cmd string) (stdout, stderr []byte, err error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client. config.Timeout bounds both the TCP dial
// and the SSH handshake, so a host that accepts connections but never speaks
// SSH cannot block the caller.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(config.Timeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Commands may legitimately run longer than the handshake budget.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = clientConn.Close()
		return nil, err
	}

	return &defaultSSHClient{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	s.session.Stdout = &stdout
	s.session.Stderr = &stderr

	err := s.session.Run(cmd)
	return stdout.Bytes(), stderr.Bytes(), err
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	settings      models.SSHConfig
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger, settings models.SSHConfig) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		settings:      settings,
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, settings models.SSHConfig, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		settings:      settings,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(creds models.Credentials) *ssh.ClientConfig {
	password := creds.Password

	// ESXi offers keyboard-interactive by default; answer every prompt with the password.
	interactive := func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}

	return &ssh.ClientConfig{
		User: creds.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(interactive),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // known host on a private network
		Timeout:         s.settings.ConnectTimeout,
	}
}

func (s *Impl) addr(creds models.Credentials) string {
	return net.JoinHostPort(creds.Host, strconv.Itoa(s.settings.Port))
}

// Execute runs command on the hypervisor over a fresh connection.
func (s *Impl) Execute(ctx context.Context, creds models.Credentials, command string) *models.CommandResult {
	result := s.run(ctx, creds, command)

	if result.Error != nil {
		s.logger.Error().
			Err(result.Error).
			Str("command", command).
			Str("stderr", result.Stderr).
			Msg("SSH error running command")
	}

	return result
}

func (s *Impl) run(ctx context.Context, creds models.Credentials, command string) *models.CommandResult {
	result := &models.CommandResult{Command: command}

	s.logger.Debug().
		Str("host", creds.Host).
		Str("user", creds.User).
		Str("command", command).
		Msg("executing remote command")

	// Create client with context timeout
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", s.addr(creds), s.buildConfig(creds))
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	var client SSHClient
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		// The dial goroutine still owns a client if it eventually connects.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return result
	case res := <-clientChan:
		if res.err != nil {
			result.Error = fmt.Errorf("failed to connect: %w", res.err)
			return result
		}
		client = res.client
	}
	defer func() { _ = client.Close() }()

	result.Connected = true

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result
	}
	defer func() { _ = session.Close() }()

	start := time.Now()
	stdout, stderr, err := session.Run(command)
	result.Output = strings.TrimSpace(string(stdout))
	result.Stderr = strings.TrimSpace(string(stderr))

	if err != nil {
		result.Error = fmt.Errorf("remote command failed: %w", err)
		return result
	}

	s.logger.Debug().
		Str("command", command).
		Dur("duration", time.Since(start)).
		Msg("remote command completed")

	return result
}

// TestConnection verifies SSH connectivity and credentials.
func (s *Impl) TestConnection(ctx context.Context, creds models.Credentials) *models.CommandResult {
	s.logger.Debug().
		Str("host", creds.Host).
		Int("port", s.settings.Port).
		Msg("testing SSH connection")

	result := s.run(ctx, creds, "echo OK")
	if result.Error == nil && result.Output != "OK" {
		result.Error = fmt.Errorf("unexpected test output %q", result.Output)
	}

	return result
}
