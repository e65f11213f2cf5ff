package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// sshServer is a minimal exec-only SSH server. It understands "echo <text>",
// "fail" (exit 3 with stderr) and "hang" (never exits).
type sshServer struct {
	ln       net.Listener
	host     string
	port     int
	hostKey  ssh.PublicKey
	mu       sync.Mutex
	commands []string
}

func startSSHServer(t *testing.T, password string, authorized ssh.PublicKey) *sshServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == password {
				return nil, nil
			}
			return nil, errors.New("bad password")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	s := &sshServer{ln: ln, host: host, port: port, hostKey: hostSigner.PublicKey()}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *sshServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *sshServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		body := payload.Command
		if i := strings.Index(body, "&& "); i >= 0 {
			body = body[i+3:]
		}

		var status uint32
		switch {
		case strings.HasPrefix(body, "echo "):
			_, _ = ch.Write([]byte(strings.TrimPrefix(body, "echo ") + "\n"))
		case body == "fail":
			_, _ = ch.Write([]byte("partial\n"))
			_, _ = ch.Stderr().Write([]byte("boom\n"))
			status = 3
		case body == "hang":
			continue
		}

		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		_ = ch.Close()
	}
}

func (s *sshServer) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

func TestSSHExecutor_Success(t *testing.T) {
	srv := startSSHServer(t, "s3cret", nil)
	exec := NewSSHExecutor(zap.NewNop())

	res := exec.Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "deploy", Secret: "s3cret", Command: "echo ok",
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.Equal(t, "cd '/home/deploy' && echo ok", srv.lastCommand())
}

func TestSSHExecutor_RootWorkingDir(t *testing.T) {
	srv := startSSHServer(t, "pw", nil)
	res := NewSSHExecutor(zap.NewNop()).Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "root", Secret: "pw", Command: "echo hi",
	})
	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, "cd '/root' && echo hi", srv.lastCommand())
}

func TestSSHExecutor_NonZeroExit(t *testing.T) {
	srv := startSSHServer(t, "pw", nil)
	res := NewSSHExecutor(zap.NewNop()).Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "ops", Secret: "pw", Command: "fail",
	})

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.ErrorIs(t, res.Err, ErrNonZeroExit)
	assert.Equal(t, "partial\n", res.Stdout)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestSSHExecutor_AuthFailure(t *testing.T) {
	srv := startSSHServer(t, "right", nil)
	res := NewSSHExecutor(zap.NewNop()).Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "ops", Secret: "wrong", Command: "echo hi",
	})

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "handshake")
	assert.Empty(t, srv.lastCommand())
}

func TestSSHExecutor_PrivateKeyAuth(t *testing.T) {
	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clientSigner, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)

	srv := startSSHServer(t, "", clientSigner.PublicKey())
	exec := NewSSHExecutor(zap.NewNop(), WithHostKeyCallback(ssh.FixedHostKey(srv.hostKey)))

	res := exec.Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "ops",
		Secret: string(pem.EncodeToMemory(block)), Command: "echo key",
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "key\n", res.Stdout)
}

func TestSSHExecutor_HostKeyMismatch(t *testing.T) {
	srv := startSSHServer(t, "pw", nil)

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)

	res := NewSSHExecutor(zap.NewNop(), WithHostKeyCallback(ssh.FixedHostKey(other.PublicKey()))).
		Run(context.Background(), RemoteCommand{
			Host: srv.host, Port: srv.port, Username: "ops", Secret: "pw", Command: "echo hi",
		})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestSSHExecutor_Timeout(t *testing.T) {
	srv := startSSHServer(t, "pw", nil)
	exec := NewSSHExecutor(zap.NewNop(), WithTimeout(300*time.Millisecond))

	start := time.Now()
	res := exec.Run(context.Background(), RemoteCommand{
		Host: srv.host, Port: srv.port, Username: "ops", Secret: "pw", Command: "hang",
	})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrSessionTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSSHExecutor_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	res := NewSSHExecutor(zap.NewNop()).Run(context.Background(), RemoteCommand{
		Host: "127.0.0.1", Port: port, Username: "ops", Secret: "pw", Command: "echo hi",
	})
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Err.Error(), "failed to connect")
}

func TestWorkingDir(t *testing.T) {
	assert.Equal(t, "/root", WorkingDir("root"))
	assert.Equal(t, "/home/alice", WorkingDir("alice"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/home/o'\''brien'`, shellQuote("/home/o'brien"))
}
