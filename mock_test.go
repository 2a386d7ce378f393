package pgwire_test

import (
	"net"
	"testing"
	"time"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
	"github.com/pgwirekit/pgwire"
	"github.com/stretchr/testify/require"
)

// runScript starts a scripted server and returns the client side of the
// connection. The server error channel is closed once the script has run.
func runScript(t *testing.T, script *pgmock.Script) (net.Conn, <-chan error) {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverErrChan := make(chan error, 1)
	go func() {
		defer close(serverErrChan)

		conn, err := ln.Accept()
		if err != nil {
			serverErrChan <- err
			return
		}
		defer conn.Close()

		if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
			serverErrChan <- err
			return
		}

		backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
		if err := script.Run(backend); err != nil {
			serverErrChan <- err
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	return conn, serverErrChan
}

func newTestExecutor(t *testing.T, script *pgmock.Script) (*pgwire.Executor, <-chan error) {
	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	return pgwire.NewExecutor(transport, pgwire.ExecutorConfig{}), serverErrChan
}
