package feed

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jlaffaye/ftp"
)

// Conn is the subset of an FTP session the fetcher needs.
type Conn interface {
	List(dir string) ([]*ftp.Entry, error)
	Read(file string) ([]byte, error)
	NoOp() error
	Quit() error
}

// Dialer opens and authenticates a new session.
type Dialer func(ctx context.Context) (Conn, error)

// DialConfig is what FTPDialer needs to reach the supplier.
type DialConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// FTPDialer returns a Dialer backed by jlaffaye/ftp.
func FTPDialer(cfg DialConfig) Dialer {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return func(ctx context.Context) (Conn, error) {
		c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.Timeout))
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", addr)
		}
		if err := c.Login(cfg.User, cfg.Password); err != nil {
			_ = c.Quit()
			return nil, errors.Wrapf(err, "login to %s", addr)
		}
		return &serverConn{c: c}, nil
	}
}

type serverConn struct {
	c *ftp.ServerConn
}

func (s *serverConn) List(dir string) ([]*ftp.Entry, error) { return s.c.List(dir) }
func (s *serverConn) NoOp() error                           { return s.c.NoOp() }
func (s *serverConn) Quit() error                           { return s.c.Quit() }

func (s *serverConn) Read(file string) ([]byte, error) {
	r, err := s.c.Retr(file)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Pool bounds the number of concurrent sessions and keeps idle ones for
// reuse.  Idle sessions are checked with NOOP before being handed out.
type Pool struct {
	dial Dialer
	sem  chan struct{}
	idle chan Conn

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool allowing at most size concurrent sessions.
func NewPool(dial Dialer, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{dial: dial, sem: make(chan struct{}, size), idle: make(chan Conn, size)}
}

// Get checks out a session, dialing a new one when no healthy idle session
// is available.  Callers must hand it back with Put.
func (p *Pool) Get(ctx context.Context) (Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		select {
		case c := <-p.idle:
			if err := c.NoOp(); err != nil {
				_ = c.Quit()
				continue
			}
			return c, nil
		default:
		}
		c, err := p.dial(ctx)
		if err != nil {
			<-p.sem
			return nil, errors.Mark(err, errDial)
		}
		return c, nil
	}
}

// Put returns a session.  Broken sessions are closed instead of pooled.
func (p *Pool) Put(c Conn, healthy bool) {
	defer func() { <-p.sem }()
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !healthy || closed {
		_ = c.Quit()
		return
	}
	select {
	case p.idle <- c:
	default:
		_ = c.Quit()
	}
}

// Close quits every idle session.  Sessions checked out at the time are
// closed when they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case c := <-p.idle:
			_ = c.Quit()
		default:
			return
		}
	}
}
