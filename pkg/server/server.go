// Package server implements the filedrop server: a TCP acceptor that runs
// one session worker per client connection over the filedrop wire protocol.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filedrop-dev/filedrop/internal/bufpool"
	"github.com/filedrop-dev/filedrop/internal/logger"
)

// workerSweepThreshold is the tracked-worker count past which the accept
// loop compacts finished handles. It bounds bookkeeping growth under many
// short-lived connections; it is not a connection limit.
const workerSweepThreshold = 50

// MetricsRecorder records connection lifecycle and command metrics.
// A nil-valued implementation is acceptable; all methods must be nil-safe.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	SetActiveConnections(count int32)
	RecordCommand(verb, status string)
	RecordBytesReceived(n uint64)
	RecordBytesSent(n uint64)
}

// Config holds the server configuration.
type Config struct {
	// BindAddress is the IP to bind to; empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int

	// Directory is the served directory root. Created at startup if
	// absent (best effort; failure is logged, not fatal).
	Directory string

	// MaxConnections limits concurrent sessions. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum wait for active sessions during
	// graceful shutdown before they are force-closed.
	ShutdownTimeout time.Duration

	// ChunkSize is the payload transfer chunk size in bytes.
	ChunkSize int
}

// Server accepts filedrop client connections and serves each one on its
// own goroutine. The accept loop never blocks on per-connection I/O, and
// workers share nothing mutable beyond the served directory path.
type Server struct {
	config Config

	// Metrics is an optional recorder. If nil, nothing is collected.
	Metrics MetricsRecorder

	// listener is closed during shutdown to stop accepting.
	listener   net.Listener
	listenerMu sync.RWMutex

	// activeConns tracks session workers for graceful shutdown.
	activeConns sync.WaitGroup

	// workers holds one handle per spawned session, touched only by the
	// accept loop's goroutine. Compacted once it crosses
	// workerSweepThreshold.
	workers []*workerHandle

	// activeSessions maps remote address to net.Conn for forced closure.
	activeSessions sync.Map

	// ConnCount is the current number of active sessions.
	ConnCount atomic.Int32

	// connSemaphore gates accepts when MaxConnections > 0; nil otherwise.
	connSemaphore chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// ListenerReady is closed once the listener is accepting. Tests use
	// it to synchronize with startup.
	ListenerReady chan struct{}

	addr net.Addr
}

// workerHandle tracks one session worker. done is closed when the worker's
// Serve returns.
type workerHandle struct {
	addr string
	done chan struct{}
}

func (w *workerHandle) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// New creates a Server in a stopped state. Call ListenAndServe to start.
func New(config Config) *Server {
	if config.ChunkSize <= 0 {
		config.ChunkSize = bufpool.MediumSize
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	return &Server{
		config:        config,
		connSemaphore: connSemaphore,
		shutdown:      make(chan struct{}),
		ListenerReady: make(chan struct{}),
	}
}

// Addr returns the listener's address once ListenerReady is closed. Useful
// when Port 0 asked the kernel for an ephemeral port.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.addr
}

// ListenAndServe binds the listening socket and runs the accept loop until
// ctx is cancelled or the listener fails. It returns after all outstanding
// session workers have finished (or were force-closed past the shutdown
// timeout).
//
// A bind failure is returned immediately: resource-acquisition errors at
// startup are fatal to the server, unlike anything that happens on an
// individual connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Best-effort served-directory creation. A failure here must not stop
	// an otherwise working server; per-request errors surface as ERR.
	if err := os.MkdirAll(s.config.Directory, 0755); err != nil {
		logger.Warn("could not create served directory", "directory", s.config.Directory, "error", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.addr = listener.Addr()
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("server listening", "address", listener.Addr(), "directory", s.config.Directory)

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				// Listener was closed as part of shutdown.
				return s.gracefulShutdown()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Debug("transient accept error", "error", err)
				continue
			}

			// Unrecoverable listener failure: stop accepting, drain workers.
			logger.Error("accept failed", "error", err)
			s.initiateShutdown()
			return s.gracefulShutdown()
		}

		s.spawnWorker(ctx, conn)

		// Opportunistic sweep of finished handles. This is bookkeeping
		// compaction, not admission control.
		if len(s.workers) > workerSweepThreshold {
			s.sweepWorkers()
		}
	}
}

// spawnWorker hands the connection to a new session goroutine and tracks it.
func (s *Server) spawnWorker(ctx context.Context, conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Debug("failed to set TCP_NODELAY", "error", err)
		}
	}

	addr := conn.RemoteAddr().String()
	handle := &workerHandle{addr: addr, done: make(chan struct{})}
	s.workers = append(s.workers, handle)

	s.activeConns.Add(1)
	current := s.ConnCount.Add(1)
	s.activeSessions.Store(addr, conn)

	s.metrics().RecordConnectionAccepted()
	s.metrics().SetActiveConnections(current)

	logger.Debug("connection accepted", "address", addr, "active", current)

	session := newSession(s, conn)

	go func() {
		defer func() {
			s.activeSessions.Delete(addr)
			s.activeConns.Done()
			remaining := s.ConnCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			s.metrics().RecordConnectionClosed()
			s.metrics().SetActiveConnections(remaining)

			close(handle.done)
			logger.Debug("connection closed", "address", addr, "active", remaining)
		}()

		session.Serve(ctx)
	}()
}

// sweepWorkers drops handles whose sessions have finished. Only the accept
// loop touches s.workers, so no locking is needed.
func (s *Server) sweepWorkers() {
	kept := s.workers[:0]
	for _, w := range s.workers {
		if !w.finished() {
			kept = append(kept, w)
		}
	}
	// Clear the tail so finished handles are collectable.
	for i := len(kept); i < len(s.workers); i++ {
		s.workers[i] = nil
	}
	s.workers = kept
}

// initiateShutdown stops the accept loop and interrupts blocking reads on
// active sessions. Safe to call multiple times.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("shutdown initiated")
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("error closing listener", "error", err)
			}
		}
		s.listenerMu.Unlock()

		// Unblock pending reads so idle sessions notice the shutdown.
		deadline := time.Now().Add(100 * time.Millisecond)
		s.activeSessions.Range(func(key, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				if err := conn.SetReadDeadline(deadline); err != nil {
					logger.Debug("error setting shutdown deadline", "address", key, "error", err)
				}
			}
			return true
		})
	})
}

// gracefulShutdown waits for active sessions to finish, force-closing any
// that outlive the shutdown timeout.
func (s *Server) gracefulShutdown() error {
	active := s.ConnCount.Load()
	logger.Info("waiting for active sessions", "active", active, "timeout", s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil

	case <-time.After(timeout):
		remaining := s.ConnCount.Load()
		logger.Warn("shutdown timeout exceeded, forcing closure", "active", remaining)

		s.activeSessions.Range(func(key, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.Close()
			}
			return true
		})
		<-done

		return fmt.Errorf("shutdown timeout: %d sessions force-closed", remaining)
	}
}

// metrics returns the configured recorder or a no-op one.
func (s *Server) metrics() MetricsRecorder {
	if s.Metrics == nil {
		return nopMetrics{}
	}
	return s.Metrics
}

type nopMetrics struct{}

func (nopMetrics) RecordConnectionAccepted()    {}
func (nopMetrics) RecordConnectionClosed()      {}
func (nopMetrics) SetActiveConnections(int32)   {}
func (nopMetrics) RecordCommand(string, string) {}
func (nopMetrics) RecordBytesReceived(uint64)   {}
func (nopMetrics) RecordBytesSent(uint64)       {}
