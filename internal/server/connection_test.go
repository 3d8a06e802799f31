package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"package-indexer/internal/wire"
)

// setupServerAndPipe creates a server, a piped client/server connection,
// starts the connection handler, and returns the client side reader with a
// cleanup func.
func setupServerAndPipe(t *testing.T) (*Server, net.Conn, *bufio.Reader, func()) {
	t.Helper()
	srv := NewServer(":0", DefaultReadTimeout)
	clientConn, serverConn := net.Pipe()

	srv.ctx, srv.cancel = context.WithCancel(context.Background())

	srv.wg.Add(1)
	go srv.handleConnection(serverConn)

	reader := bufio.NewReader(clientConn)

	cleanup := func() {
		_ = clientConn.Close()
		srv.cancel()
	}

	return srv, clientConn, reader, cleanup
}

func TestServer_HandleConnection_Lifecycle(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	commands := []struct {
		input    string
		expected string
	}{
		{"INDEX|test|\n", wire.OK.String()},
		{"QUERY|test|\n", wire.OK.String()},
		{"REMOVE|test|\n", wire.OK.String()},
		{"INVALID|test|\n", wire.ERROR.String()},
	}

	for _, cmd := range commands {
		_, err := clientConn.Write([]byte(cmd.input))
		require.NoError(t, err)

		response, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, cmd.expected, response)
	}
}

func TestServer_HandleConnection_EOF(t *testing.T) {
	srv := NewServer(":0", DefaultReadTimeout)
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	defer srv.cancel()

	done := make(chan bool)
	go func() {
		srv.wg.Add(1)
		srv.handleConnection(serverConn)
		done <- true
	}()

	clientConn.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("connection handler did not exit after EOF")
	}
}

func TestServer_HandleConnection_SelfLoopIsFail(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	clientConn.Write([]byte("INDEX|p|p\n"))
	response, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, wire.FAIL.String(), response)
}

func TestServer_HandleConnection_EmbeddedNewlineIsError(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	// Two logical messages in one chunk collapse to one payload with an
	// embedded newline, rejected without consulting the parser (spec.md §4.3).
	clientConn.Write([]byte("INDEX|a|\nQUERY|a|\n"))
	response, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, wire.ERROR.String(), response)
}

func TestServer_HandleConnection_MalformedMessages(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	malformed := []string{
		"TOO|FEW\n",
		"TOO|MANY|PARTS|EXTRA\n",
		"INDEX||\n",
		"|\n",
		"\n",
		"INDEX\n",
		"index|p|\n",    // wrong case
		"INDEX|p|d,\n",  // trailing comma
		"REMOVE|p|d\n",  // deps on REMOVE
		"QUERY|p|d\n",   // deps on QUERY
	}

	for _, msg := range malformed {
		clientConn.Write([]byte(msg))
		response, err := reader.ReadString('\n')
		require.NoError(t, err, "message %q", msg)
		require.Equal(t, wire.ERROR.String(), response, "message %q", msg)
	}
}

func TestServer_HandleConnection_StreamingCommands(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	commands := []struct {
		cmd      string
		expected string
	}{
		{"INDEX|base|\n", wire.OK.String()},
		{"INDEX|app|base\n", wire.OK.String()},
		{"QUERY|base|\n", wire.OK.String()},
		{"QUERY|app|\n", wire.OK.String()},
		{"REMOVE|app|\n", wire.OK.String()},
		{"REMOVE|base|\n", wire.OK.String()},
	}

	for i, test := range commands {
		_, err := clientConn.Write([]byte(test.cmd))
		require.NoError(t, err, "command %d", i)

		response, err := reader.ReadString('\n')
		require.NoError(t, err, "command %d", i)
		require.Equal(t, test.expected, response, "command %d", i)
	}
}

// TestServer_HandleConnection_ArbitrarySplitDelivery exercises spec.md §8 P7
// end-to-end: a request split across many writes on the same pipe still
// produces the response a single write would.
func TestServer_HandleConnection_ArbitrarySplitDelivery(t *testing.T) {
	_, clientConn, reader, cleanup := setupServerAndPipe(t)
	defer cleanup()

	msg := "INDEX|package1|\n"
	go func() {
		for _, b := range []byte(msg) {
			clientConn.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	response, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, wire.OK.String(), response)
}

func TestServer_HandleConnection_ConcurrentConnections(t *testing.T) {
	const numConnections = 10
	var wg sync.WaitGroup

	for i := 0; i < numConnections; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			srv := NewServer(":0", DefaultReadTimeout)
			srv.ctx, srv.cancel = context.WithCancel(context.Background())
			defer srv.cancel()

			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			srv.wg.Add(1)
			go srv.handleConnection(serverConn)

			name := "package" + strings.Repeat("x", id+1)
			clientConn.Write([]byte("INDEX|" + name + "|\n"))

			reader := bufio.NewReader(clientConn)
			response, err := reader.ReadString('\n')
			require.NoError(t, err)
			require.Equal(t, wire.OK.String(), response)
		}(i)
	}

	wg.Wait()
}
