package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServer creates an embedded NATS server on a free port
func RunServer() (*server.Server, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}

	return server.NewServer(opts)
}

// SetupJetStream starts a JetStream enabled server and returns a context
// connected to it. The server is shut down when the test ends.
func SetupJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()

	_, js := StartJetStream(t)
	return js
}

// StartJetStream is SetupJetStream for tests that also need to stop the
// server themselves
func StartJetStream(t *testing.T) (*server.Server, nats.JetStreamContext) {
	t.Helper()

	s, err := RunServer()
	require.NoError(t, err)
	err = s.EnableJetStream(&server.JetStreamConfig{
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})

	return s, js
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}
