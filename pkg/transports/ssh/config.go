package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the runner authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK.
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the connection settings of a remote runner.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod     AuthMethod
	Password       string
	PrivateKeyPath string
	// KeyPassphrase decrypts PrivateKeyPath when set.
	KeyPassphrase string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	DialTimeout time.Duration
}

// NewConfig returns agent authentication on port 22 with host keys checked
// against ~/.ssh/known_hosts.
func NewConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodAgent,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		DialTimeout:           30 * time.Second,
	}
}

// ParseTarget builds a Config from "user@host[:port]". The user defaults to
// $USER when omitted.
func ParseTarget(target string) (*Config, error) {
	user := os.Getenv("USER")
	hostPort := target
	if at := strings.LastIndex(target, "@"); at >= 0 {
		user, hostPort = target[:at], target[at+1:]
	}

	host, port := hostPort, 22
	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", target, convErr)
		}
		host, port = h, n
	}

	cfg := NewConfig(host, user)
	cfg.Port = port
	return cfg, cfg.Validate()
}

// Validate reports the first unusable setting. For key authentication an
// empty PrivateKeyPath is filled from the usual ~/.ssh key names.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("ssh target has no host")
	case c.User == "":
		return fmt.Errorf("ssh target %s has no user", c.Host)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("ssh port %d out of range", c.Port)
	case c.DialTimeout <= 0:
		return fmt.Errorf("ssh dial timeout must be positive, got %s", c.DialTimeout)
	}

	switch c.AuthMethod {
	case AuthMethodAgent:
		return nil
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password authentication selected but no password given")
		}
		return nil
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey()
		}
		if c.PrivateKeyPath == "" {
			return errors.New("key authentication selected but no key found in ~/.ssh")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("ssh key: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown ssh auth method %q", c.AuthMethod)
	}
}

func findDefaultKey() string {
	home := os.Getenv("HOME")
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// clientConfig creates an ssh.ClientConfig. The returned closer releases the
// agent connection, if one was opened.
func (c *Config) clientConfig() (*ssh.ClientConfig, func() error, error) {
	closer := func() error { return nil }
	var auth []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		auth = append(auth,
			ssh.Password(c.Password),
			// Many servers only offer keyboard-interactive for password logins.
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				replies := make([]string, len(questions))
				for i := range questions {
					replies[i] = c.Password
				}
				return replies, nil
			}),
		)

	case AuthMethodKey:
		signer, err := c.signer()
		if err != nil {
			return nil, nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		closer = conn.Close
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.DialTimeout,
	}, closer, nil
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	if c.KeyPassphrase == "" {
		return ssh.ParsePrivateKey(pem)
	}
	return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
}

// Address is the dial address, host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
