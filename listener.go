package modbus

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// OverflowPolicy selects what the listener does when a new connection
// arrives at the configured session limit (spec §4.7).
type OverflowPolicy int

const (
	// PolicyRejectNew closes the new connection immediately.
	PolicyRejectNew OverflowPolicy = iota
	// PolicyEvictOldest closes the oldest live session to make room
	// for the new one.
	PolicyEvictOldest
)

// ServerConfig configures a Server (spec §6: "construct(handler,
// listen address, max sessions, overflow policy) -> handle").
type ServerConfig struct {
	// Handler receives decoded requests from every session.
	Handler RequestHandler
	// MaxSessions bounds the number of concurrent connections. Zero
	// means unlimited.
	MaxSessions int64
	// Overflow selects the behavior once MaxSessions is reached.
	Overflow OverflowPolicy
	// Timeout is the idle read/write deadline applied to each session;
	// zero disables it.
	Timeout time.Duration
	// Logger provides a custom sink for log messages. If nil, messages
	// are written to stdout.
	Logger LeveledLogger
}

// Server accepts Modbus/TCP client connections and dispatches decoded
// requests to a user-supplied RequestHandler (spec §4.6, §4.7).
type Server struct {
	conf   ServerConfig
	logger LeveledLogger

	sem *semaphore.Weighted // admission control; nil when MaxSessions == 0

	mu       sync.Mutex
	sessions []*connection // oldest-first; used for eviction ordering and by Stop
	listener net.Listener
	stopped  bool
}

// NewServer constructs a Server. Start must be called to begin
// accepting connections.
func NewServer(conf ServerConfig) (*Server, error) {
	if conf.Handler == nil {
		return nil, fmt.Errorf("%w: missing handler", ErrConfiguration)
	}

	s := &Server{conf: conf, logger: conf.Logger}
	if s.logger == nil {
		s.logger = newLogger("modbus-server")
	}
	if conf.MaxSessions > 0 {
		s.sem = semaphore.NewWeighted(conf.MaxSessions)
	}

	return s, nil
}

// Start begins accepting connections on l. l is owned by the Server
// from this point on; Stop closes it.
func (s *Server) Start(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("%w: already started", ErrConfiguration)
	}
	s.listener = l

	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every active session.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return fmt.Errorf("%w: not started", ErrConfiguration)
	}

	s.stopped = true
	err := s.listener.Close()

	for _, c := range s.sessions {
		c.conn.Close()
	}
	s.sessions = nil
	s.listener = nil

	return err
}

// acceptLoop accepts new connections, applying the configured
// admission policy, until the listener is closed.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Warningf("failed to accept connection: %v", err)
			continue
		}

		if !s.admit() {
			s.logger.Warningf("rejecting %s: session limit reached", conn.RemoteAddr())
			conn.Close()
			continue
		}

		c := &connection{
			conn:    conn,
			addr:    conn.RemoteAddr().String(),
			handler: s.conf.Handler,
			timeout: s.conf.Timeout,
			logger:  s.logger,
		}
		s.register(c)

		go s.run(c)
	}
}

// admit applies the session-limit invariant of spec §4.7: it reports
// whether a permit is held for the incoming connection, obtaining one
// either directly or, under the evict-oldest policy, by evicting an
// existing session and carrying its permit over.
func (s *Server) admit() bool {
	if s.sem == nil {
		return true
	}

	if s.sem.TryAcquire(1) {
		return true
	}

	if s.conf.Overflow != PolicyEvictOldest {
		return false
	}

	return s.evictOldest()
}

// evictOldest closes the oldest registered session, handing its
// semaphore permit over to the caller rather than releasing it.
func (s *Server) evictOldest() bool {
	s.mu.Lock()
	if len(s.sessions) == 0 {
		s.mu.Unlock()
		return false
	}
	victim := s.sessions[0]
	s.sessions = s.sessions[1:]
	victim.evicted = true
	s.mu.Unlock()

	s.logger.Warningf("evicting oldest session %s to admit a new connection", victim.addr)
	victim.conn.Close()

	return true
}

func (s *Server) register(c *connection) {
	s.mu.Lock()
	s.sessions = append(s.sessions, c)
	s.mu.Unlock()
}

func (s *Server) unregister(c *connection) {
	s.mu.Lock()
	for i, sess := range s.sessions {
		if sess == c {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// run drives one session's serve loop and tears down its bookkeeping
// once it returns.
func (s *Server) run(c *connection) {
	c.serve()

	s.mu.Lock()
	wasEvicted := c.evicted
	s.mu.Unlock()

	s.unregister(c)
	c.conn.Close()

	// A session that was evicted by admit() had its permit handed
	// straight to the connection that displaced it; releasing here
	// would double-count it. Every other exit path releases normally.
	if s.sem != nil && !wasEvicted {
		s.sem.Release(1)
	}
}
