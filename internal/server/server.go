// Package server is the daemon's command dispatcher: it accepts connections
// on the Unix socket, decodes one request per connection, runs the matching
// handler and writes exactly one response.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/edenlabs/gesher/internal/brain"
	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/shell"
	"github.com/edenlabs/gesher/internal/soul"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// Defaults for zero Options fields.
const (
	DefaultReadTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultRequestTimeout = 150 * time.Second
	DefaultMaxConnections = 64
	DefaultMode           = 0600
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Executor runs shell commands. *shell.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) shell.Result
}

// IntentProcessor handles the intent command. *scheduler.Scheduler
// satisfies it.
type IntentProcessor interface {
	ProcessIntent(ctx context.Context, text string) (string, error)
}

// Deps are the collaborators handlers dispatch to.
type Deps struct {
	Store    *soul.Store
	Terminal *journal.Terminal
	Executor Executor
	Intents  IntentProcessor
	Backend  brain.Backend
}

// Options configures the listener and per-connection bounds.
type Options struct {
	Path           string
	Mode           os.FileMode
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxConnections int
}

// Server dispatches socket requests.
type Server struct {
	opts     Options
	deps     Deps
	handlers map[protocol.Command]handlerFunc
	logger   *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// baseCtx parents every request; Shutdown cancels it once the grace
	// period is over.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  atomic.Bool
}

// New creates a server. Call Listen, then Serve.
func New(opts Options, deps Deps, logger *slog.Logger) *Server {
	if opts.Mode == 0 {
		opts.Mode = DefaultMode
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		deps:    deps,
		logger:  logger.With("component", "server"),
		sem:     semaphore.NewWeighted(int64(opts.MaxConnections)),
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
	s.handlers = s.handlerTable()
	return s
}

// Listen binds the socket, replacing a stale socket file left by a dead
// daemon. A socket that still answers is an error.
func (s *Server) Listen() error {
	if err := removeStaleSocket(s.opts.Path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.opts.Path)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.opts.Path, err)
	}
	if err := os.Chmod(s.opts.Path, s.opts.Mode); err != nil {
		_ = ln.Close()
		return fmt.Errorf("setting socket mode: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "socket", s.opts.Path)
	return nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking socket: %w", err)
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is in use by another process", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

// Serve accepts connections until Shutdown. It returns ErrServerClosed after
// a shutdown and any other accept error otherwise.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	var backoff time.Duration
	for {
		// Bound concurrent connections before accepting the next one.
		if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
			return ErrServerClosed
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			s.sem.Release(1)
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// track registers conn. It reports false once shutdown has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn serves the single exchange on conn.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.untrack(conn)
	defer conn.Close()

	reqID := uuid.NewString()
	start := time.Now()
	log := s.logger.With("request_id", reqID)

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	req, err := protocol.DecodeRequest(conn)

	cmd := "invalid"
	var result interface{}
	if err == nil {
		cmd = string(req.Cmd)
		result, err = s.dispatch(req)
	}

	status := "ok"
	if err != nil {
		perr := classifyErr(err)
		status = string(perr.Kind)
		result = perr.Result()
		log.Warn("request failed", "cmd", cmd, "kind", perr.Kind, "error", perr.Message)
	}

	s.writeResponse(conn, log, result)

	elapsed := time.Since(start)
	log.Debug("request served", "cmd", cmd, "status", status, "duration", elapsed)
	telemetry.RecordCommand(s.baseCtx, cmd, status, float64(elapsed.Milliseconds()))
}

// dispatch runs the handler under the request timeout. A handler that
// outlives the bound is left to observe its canceled context; the client
// gets a timeout error.
func (s *Server) dispatch(req *protocol.Request) (interface{}, error) {
	handler, ok := s.handlers[req.Cmd]
	if !ok {
		return nil, protocol.Errorf(protocol.KindInternal, "no handler for %q", req.Cmd)
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RequestTimeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panic", "cmd", req.Cmd, "panic", r)
				done <- outcome{err: protocol.Errorf(protocol.KindInternal, "handler panic: %v", r)}
			}
		}()
		result, err := handler(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, protocol.Errorf(protocol.KindTimeout, "%s did not finish within %s", req.Cmd, s.opts.RequestTimeout)
		}
		return nil, protocol.Errorf(protocol.KindInternal, "daemon shutting down")
	}
}

func (s *Server) writeResponse(conn net.Conn, log *slog.Logger, v interface{}) {
	data, err := protocol.EncodeResponse(v)
	if err != nil {
		log.Error("encoding response failed", "error", err)
		data, _ = protocol.EncodeResponse(protocol.Errorf(protocol.KindInternal, "encoding response failed").Result())
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if _, err := conn.Write(data); err != nil {
		log.Warn("writing response failed", "error", err)
	}
}

// Addr returns the socket path.
func (s *Server) Addr() string { return s.opts.Path }

// Shutdown stops accepting, waits for in-flight connections until ctx is
// done, then cancels their requests, closes them and waits for handlers to
// unwind. The socket file is removed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	alreadyClosing := s.closing.Swap(true)
	ln := s.listener
	s.mu.Unlock()

	if !alreadyClosing && ln != nil {
		if err := ln.Close(); err != nil {
			s.logger.Warn("closing listener failed", "error", err)
		}
		s.logger.Info("stopped accepting connections")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		s.mu.Lock()
		n := len(s.conns)
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.logger.Warn("grace period over, aborting connections", "open", n)
		err = ctx.Err()
	}
	// Also unblocks Serve if it is waiting on the connection bound.
	s.cancel()
	<-done

	if rmErr := os.Remove(s.opts.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Warn("removing socket failed", "error", rmErr)
	}
	return err
}
