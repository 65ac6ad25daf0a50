package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// testServer is a minimal in-process SSH server that understands a handful
// of fake commands.
type testServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "cheshire" && string(pass) == "grin" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *testServer) clientConfig(t *testing.T) *Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("bad address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := NewConfig(host, "cheshire")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "grin"
	cfg.StrictHostKeyChecking = false
	cfg.DialTimeout = 5 * time.Second
	return cfg
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func exitStatus(code uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, code)
	return b
}

func (s *testServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		command := string(req.Payload[4:])
		if req.WantReply {
			_ = req.Reply(true, nil)
		}

		switch {
		case command == "cat /etc/os-release":
			_, _ = channel.Write([]byte("NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\n"))
			_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
		case command == "uname -s":
			_, _ = channel.Write([]byte("Linux\n"))
			_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
		case command == "echo broken >&2; exit 2":
			_, _ = channel.Stderr().Write([]byte("broken\n"))
			_, _ = channel.SendRequest("exit-status", false, exitStatus(2))
		case strings.HasPrefix(command, "exit "):
			code, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
			_, _ = channel.SendRequest("exit-status", false, exitStatus(uint32(code)))
		case command == "sleep":
			time.Sleep(2 * time.Second)
			_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
		default:
			_, _ = channel.Write([]byte("remote: " + command + "\n"))
			_, _ = channel.SendRequest("exit-status", false, exitStatus(0))
		}
		return
	}
}

func (s *testServer) close() {
	close(s.done)
	_ = s.listener.Close()
}
