package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/quailsql/QuailDB"
	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/logging"
)

// Server is a TCP SQL server that exposes the QuailDB engine. Every
// connection gets its own engine, and so its own current database, over the
// shared registry. Statements from all connections run one at a time.
type Server struct {
	listener   net.Listener
	instance   *QuailDB.Instance
	identity   core.Identity
	auth       *config.AuthConfig
	logger     *logging.Logger
	observers  []db.Observer
	autoSave   bool
	tlsEnabled bool

	mu     sync.Mutex
	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObserver attaches an observer to every connection engine.
func WithObserver(observer db.Observer) Option {
	return func(s *Server) {
		s.observers = append(s.observers, observer)
	}
}

// WithAutoSave saves a snapshot after every mutating statement, authored by
// the connection identity.
func WithAutoSave(enabled bool) Option {
	return func(s *Server) {
		s.autoSave = enabled
	}
}

// WithAuth requires connections to authenticate with a JWT before running
// statements. A disabled config leaves authentication off.
func WithAuth(cfg *config.AuthConfig) Option {
	return func(s *Server) {
		if cfg != nil && cfg.Enabled {
			s.auth = cfg
		}
	}
}

// NewServer creates a new SQL server with the given QuailDB instance.
// Unauthenticated connections act as identity.
func NewServer(instance *QuailDB.Instance, identity core.Identity, opts ...Option) *Server {
	s := &Server{
		instance: instance,
		identity: identity,
		logger:   logging.Default(),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServerWithAuth creates a server that requires JWT authentication and
// saves a snapshot after every mutation, authored by the token identity.
func NewServerWithAuth(instance *QuailDB.Instance, authConfig *config.AuthConfig, opts ...Option) *Server {
	opts = append([]Option{WithAuth(authConfig), WithAutoSave(true)}, opts...)
	return NewServer(instance, config.Default().Identity, opts...)
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.logger.Info("SQL server listening", "addr", listener.Addr().String(), "auth", s.auth != nil)

	go s.acceptLoop()
	return nil
}

// StartTLS begins listening for TLS connections on the specified address.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.tlsEnabled = true

	s.logger.Info("SQL server listening", "addr", listener.Addr().String(), "tls", true, "auth", s.auth != nil)

	go s.acceptLoop()
	return nil
}

// TLSEnabled reports whether the server was started with StartTLS.
func (s *Server) TLSEnabled() bool {
	return s.tlsEnabled
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("accept error", "error", err)
				continue
			}
		}

		if !s.track(conn) {
			return
		}
		go s.handleConnection(conn)
	}
}

// track registers an accepted connection with Stop. Once Stop has begun the
// connection is closed instead and track returns false.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.done:
		conn.Close()
		return false
	default:
	}

	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// session is the per-connection state.
type session struct {
	state  ConnectionState
	engine *db.Engine
}

// newEngine builds a connection engine acting as identity, starting in
// database. Selecting the database reads the shared registry, so the engine
// is built under the statement lock.
func (s *Server) newEngine(identity core.Identity, database string) *db.Engine {
	opts := []db.Option{db.WithLogger(s.logger.Logger), db.WithDatabase(database)}
	for _, observer := range s.observers {
		opts = append(opts, db.WithObserver(observer))
	}
	if s.autoSave {
		opts = append(opts, db.WithObserver(s.instance.AutoSave(identity, s.logger.Logger)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.instance.Engine(opts...)
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	sess := &session{engine: s.newEngine(s.identity, "")}
	reader := bufio.NewReader(conn)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		// Read until newline (one statement per line)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				logger.Warn("read error", "error", err)
			}
			return
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}

		if strings.EqualFold(query, "quit") || strings.EqualFold(query, "exit") {
			logger.Info("client disconnected")
			return
		}

		data, err := EncodeResponse(s.handleLine(sess, query))
		if err != nil {
			logger.Error("failed to encode response", "error", err)
			continue
		}

		if _, err := conn.Write(data); err != nil {
			logger.Warn("write error", "error", err)
			return
		}
	}
}

// handleLine answers one request line: an AUTH command or a statement.
func (s *Server) handleLine(sess *session, query string) Response {
	if isAuthCommand(query) {
		if s.auth == nil {
			return errorResponse("auth", ErrAuthNotConfigured)
		}
		response := s.handleAuth(query, &sess.state)
		if response.Success {
			sess.engine = s.newEngine(*sess.state.Identity(), sess.engine.CurrentDatabase())
		}
		return response
	}

	if s.auth != nil {
		if !sess.state.IsAuthenticated() {
			return errorResponse("", ErrAuthRequired)
		}
		if sess.state.expired(time.Now()) {
			sess.state = ConnectionState{}
			return errorResponse("", ErrTokenExpired)
		}
	}

	return s.executeQuery(sess.engine, query)
}

func (s *Server) executeQuery(engine *db.Engine, query string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	return NewResponse(engine.Execute(query))
}
