// Package server hosts Parchís sessions over TCP and WebSocket connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/multierr"

	"parchis/internal/app"
	"parchis/internal/metrics"
	"parchis/internal/protocol"
	"parchis/internal/transport"
)

type Options struct {
	MinPlayers   int
	MailboxSize  int
	MaxLineBytes int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinPlayers == 0 {
		o.MinPlayers = app.MinPlayersToStartGame
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 64 * 1024
	}
	return o
}

// Server accepts connections and feeds them to its session. Credential
// checks run on each connection's reader goroutine, never on the session
// worker.
type Server struct {
	opts     Options
	accounts *app.Accounts
	logger   runtime.Logger
	metrics  *metrics.Metrics
	registry *Registry
	session  *Session

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[transport.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// New creates a server with one session registered in registry. A nil
// registry gets a private one.
func New(opts Options, accounts *app.Accounts, svc *app.Service, logger runtime.Logger, m *metrics.Metrics, registry *Registry) *Server {
	opts = opts.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	session := NewSession(svc, logger, m, opts.MinPlayers)
	registry.Add(session)
	return &Server{
		opts:      opts,
		accounts:  accounts,
		logger:    logger,
		metrics:   m,
		registry:  registry,
		session:   session,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[transport.Conn]struct{}),
	}
}

// Session returns the session new connections join.
func (s *Server) Session() *Session { return s.session }

// ListenAndServe listens on addr and serves until Stop.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts line-framed connections on ln until Stop. Returns nil after
// a clean stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Serve: listening on %s", ln.Addr())
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("Serve: accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		go s.HandleConn(transport.NewLineConn(conn, s.opts.MaxLineBytes, s.opts.WriteTimeout))
	}
}

// WebSocketHandler serves the same protocol over WebSocket text frames.
func (s *Server) WebSocketHandler() *transport.WebSocketHandler {
	return transport.NewWebSocketHandler(s.opts.MaxLineBytes, s.opts.WriteTimeout, s.HandleConn, func(err error) {
		s.logger.Debug("WebSocketHandler: upgrade failed: %v", err)
	})
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn transport.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// HandleConn serves one connection until it fails or the server stops.
func (s *Server) HandleConn(conn transport.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	c := newClient(conn, s.opts.MailboxSize, s.metrics)
	logger := s.logger.WithFields(map[string]interface{}{"conn": c.id, "remote": conn.RemoteAddr()})
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	if !s.session.attach(c) {
		c.close()
		return
	}
	logger.Debug("HandleConn: connected")
	go s.writeLoop(c, logger)
	defer func() {
		s.session.detach(c)
		c.close()
		logger.Debug("HandleConn: disconnected")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrFrameTooLarge):
				logger.Warn("HandleConn: closing connection: %v", err)
			case errors.Is(err, net.ErrClosed), transport.IsExpectedClose(err):
			default:
				logger.Debug("HandleConn: read: %v", err)
			}
			return
		}
		s.handleFrame(ctx, c, frame, logger)
	}
}

func (s *Server) writeLoop(c *client, logger runtime.Logger) {
	for {
		select {
		case data := <-c.mailbox:
			if err := c.conn.WriteFrame(data); err != nil {
				logger.Warn("writeLoop: %v", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, frame []byte, logger runtime.Logger) {
	msg, err := protocol.DecodeRequest(frame)
	if err != nil {
		s.reject(c, msg.Command, err, logger)
		return
	}

	switch msg.Command {
	case protocol.CmdPing:
		c.send(protocol.MustNew(protocol.CmdPong, nil))

	case protocol.CmdRegister:
		var req protocol.RegisterRequest
		if err := msg.Bind(&req); err != nil {
			s.reject(c, msg.Command, err, logger)
			return
		}
		err := s.accounts.Register(ctx, app.Registration{
			Username: req.Username,
			Password: req.Password,
			Nombre:   req.Nombre,
			Apellido: req.Apellido,
		})
		if err != nil {
			s.reject(c, msg.Command, err, logger)
			return
		}
		logger.Info("handleRegister: registered %s", req.Username)
		s.metrics.Command(msg.Command, "ok")
		c.send(protocol.Success(msg.Command, nil))

	case protocol.CmdLogin, protocol.CmdResume:
		if c.authed.Load() {
			s.reject(c, msg.Command, app.ErrAlreadyAuthenticated, logger)
			return
		}
		sess, err := s.authenticate(ctx, msg)
		if err != nil {
			s.reject(c, msg.Command, err, logger)
			return
		}
		s.session.authenticate(c, msg.Command, sess)

	default:
		s.session.submit(c, msg)
	}
}

func (s *Server) authenticate(ctx context.Context, msg protocol.Message) (app.Session, error) {
	if msg.Command == protocol.CmdResume {
		var req protocol.ResumeRequest
		if err := msg.Bind(&req); err != nil {
			return app.Session{}, err
		}
		return s.accounts.Resume(ctx, req.Token)
	}
	var req protocol.LoginRequest
	if err := msg.Bind(&req); err != nil {
		return app.Session{}, err
	}
	return s.accounts.Login(ctx, req.Username, req.Password)
}

func (s *Server) reject(c *client, command string, err error, logger runtime.Logger) {
	label := command
	if !protocol.IsClientCommand(command) {
		label = "unknown"
	}
	reply, kind, code := protocol.FailureFor(command, err)
	s.metrics.Command(label, code)
	if kind == protocol.KindInternal {
		logger.Error("%s: %v", command, err)
	} else {
		logger.Debug("%s: rejected: %v", command, err)
	}
	c.send(reply)
}

// Stop closes listeners, force-closes every connection and stops all
// sessions in the registry.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err = multierr.Append(err, s.registry.CloseAll())
	s.wg.Wait()
	s.logger.Info("Stop: server stopped")
	return err
}
