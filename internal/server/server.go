// Package server implements the connection handler and server loop of
// spec.md §4.4-4.5 and component 5 of §2: one goroutine per accepted
// connection, looping frame reader -> parser -> store -> response encoder
// until the peer closes. Grounded on
// KitSutliff-digital_ocean_showcase's internal/server/server.go for the
// goroutine-per-connection shape, context-driven graceful shutdown, and
// per-read deadline; generalized to use internal/framing instead of
// bufio.Reader.ReadString so that the embedded-newline rule of spec.md §4.3
// is enforced rather than silently defeated by line-oriented buffering.
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"package-indexer/internal/framing"
	"package-indexer/internal/store"
	"package-indexer/internal/wire"
)

// DefaultReadTimeout is the per-read deadline applied to every connection to
// mitigate slowloris-style stalls, reset after each successfully framed
// request. No timeout is specified by spec.md §5 ("No timeouts are
// specified"); this is ambient transport hygiene, not a protocol feature,
// and a generous value keeps long-idle-but-compliant clients alive.
const DefaultReadTimeout = 30 * time.Second

// Server accepts TCP connections and dispatches one handler goroutine per
// connection, all sharing a single *store.Store.
type Server struct {
	store       *store.Store
	addr        string
	readTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	metrics  *Metrics
	ready    chan bool

	logger *log.Logger
}

// NewServer creates a server listening on addr, applying readTimeout as the
// per-read deadline on every connection.
func NewServer(addr string, readTimeout time.Duration) *Server {
	return &Server{
		store:       store.New(),
		addr:        addr,
		readTimeout: readTimeout,
		metrics:     NewMetrics(),
		ready:       make(chan bool),
		logger:      log.NewWithOptions(io.Discard, log.Options{}).With("component", "server"),
	}
}

// SetLogger overrides the default (discarding) logger; cmd/server wires the
// process-wide charmbracelet/log logger in here.
func (s *Server) SetLogger(l *log.Logger) {
	s.logger = l.With("component", "server")
}

// Store returns the shared dependency graph, e.g. for wiring a periodic
// store.GC() call or for tests.
func (s *Server) Store() *store.Store {
	return s.store
}

// Metrics returns the server's Prometheus collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Ready is closed once the listener is bound (or failed to bind).
func (s *Server) Ready() <-chan bool {
	return s.ready
}

// Addr returns the bound listener address. Only valid after Ready() closes
// and StartWithContext succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start begins listening with a background context.
func (s *Server) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext begins listening for connections. Context cancellation
// closes the listener, unblocking Accept, and StartWithContext returns nil.
func (s *Server) StartWithContext(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		close(s.ready)
		return errors.New("failed to listen on " + s.addr + ": " + err.Error())
	}
	s.listener = l
	close(s.ready)

	go func() {
		<-s.ctx.Done()
		_ = s.listener.Close()
	}()

	s.logger.Info("listening", "addr", s.addr)

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "err", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection owns conn for its entire lifetime, per spec.md §5
// "Resource lifetime": released on exit whether normal or by transport
// error.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("error closing connection", "err", err)
		}
	}()
	s.serveConn(s.ctx, conn)
}

// serveConn is the per-connection state machine of spec.md §4.4: READING
// until the frame reader signals STREAM_CLOSED, at which point the
// connection transitions to CLOSED and the loop ends.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	clientID := uuid.NewString()
	clientAddr := conn.RemoteAddr().String()
	logger := s.logger.With("client", clientAddr, "conn_id", clientID)
	logger.Debug("connection accepted")

	s.metrics.IncrementConnections()

	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-doneCh:
		}
	}()

	frames := framing.NewReader(conn, framing.DefaultChunkSize)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		payload, err := frames.Next()
		if err != nil {
			if errors.Is(err, framing.ErrStreamClosed) {
				logger.Debug("connection closed by peer")
			} else {
				logger.Debug("read error, closing connection", "err", err)
			}
			return
		}

		response := s.handlePayload(payload, logger)

		if _, err := conn.Write(response.Bytes()); err != nil {
			logger.Debug("write error, closing connection", "err", err)
			return
		}
	}
}

// handlePayload implements spec.md §4.4 steps 2-5: empty-payload and
// embedded-newline rejection, whitespace stripping, parsing, and dispatch.
func (s *Server) handlePayload(payload []byte, logger *log.Logger) wire.Response {
	start := time.Now()

	if len(payload) == 0 {
		s.metrics.IncrementErrors()
		s.metrics.ObserveCommand("", wire.ERROR.Label(), time.Since(start).Seconds())
		return wire.ERROR
	}
	if bytes.Contains(payload, []byte{'\n'}) {
		logger.Debug("rejecting payload with embedded newline")
		s.metrics.IncrementErrors()
		s.metrics.ObserveCommand("", wire.ERROR.Label(), time.Since(start).Seconds())
		return wire.ERROR
	}

	trimmed := strings.TrimSpace(string(payload))

	cmd, err := wire.ParseCommand(trimmed)
	if err != nil {
		logger.Debug("parse error", "err", err, "payload", trimmed)
		s.metrics.IncrementErrors()
		s.metrics.ObserveCommand("", wire.ERROR.Label(), time.Since(start).Seconds())
		return wire.ERROR
	}

	response := s.dispatch(cmd)
	s.metrics.ObserveCommand(cmd.Type.String(), response.Label(), time.Since(start).Seconds())
	s.metrics.SetPackagesIndexed(s.store.Len())
	logger.Debug("command processed", "command", cmd.Type, "package", cmd.Package, "response", response)

	return response
}

// dispatch executes a parsed command against the shared store.
func (s *Server) dispatch(cmd *wire.Command) wire.Response {
	switch cmd.Type {
	case wire.IndexCommand:
		if s.store.Index(cmd.Package, cmd.Dependencies) {
			return wire.OK
		}
		return wire.FAIL

	case wire.RemoveCommand:
		switch s.store.Remove(cmd.Package) {
		case store.RemoveOK, store.RemoveNotIndexed:
			return wire.OK
		default:
			return wire.FAIL
		}

	case wire.QueryCommand:
		if s.store.Query(cmd.Package) {
			return wire.OK
		}
		return wire.FAIL

	default:
		return wire.ERROR
	}
}

// Shutdown cancels the accept loop and waits for in-flight connections to
// drain, up to ctx's deadline. Per spec.md §1, graceful shutdown choreography
// beyond closing connections on error is a non-goal of the core; this is the
// ambient process-lifecycle behavior the teacher's main() already provides.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
