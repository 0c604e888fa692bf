// Package transport owns a single serial line and gives the drivers
// bounded, mutually exclusive read/write access to it.
package transport

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/sciglob/em27-enclosure/core"
)

// Config describes one serial line.
type Config struct {
	Port    string
	Baud    int
	Timeout time.Duration // bound on every blocking read
}

// Conn is what the device drivers require from a transport. Serial
// implements it; driver tests substitute fakes.
type Conn interface {
	Write(p []byte) error
	ReadExact(n int) ([]byte, error)
	ReadUntil(delim byte) ([]byte, error)
	Flush() error
	Close() error
}

// pollStep is how long a single low-level read may block before the
// deadline is rechecked.
const pollStep = 50 * time.Millisecond

// Serial is one open serial line. At most one request is in flight at a
// time; all methods are safe for concurrent use but serialize internally.
type Serial struct {
	cfg  Config
	port io.ReadWriteCloser

	mu     sync.Mutex
	rx     []byte
	closed bool
}

// Open opens the configured serial port.
func Open(cfg Config) (*Serial, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: pollStep,
	})
	if err != nil {
		return nil, &core.IOError{Op: "open " + cfg.Port, Err: err}
	}
	return &Serial{cfg: cfg, port: port}, nil
}

// Port returns the configured port name.
func (s *Serial) Port() string { return s.cfg.Port }

// Write sends a complete frame to the device.
func (s *Serial) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &core.IOError{Op: "write"}
	}
	if _, err := s.port.Write(p); err != nil {
		return &core.IOError{Op: "write", Err: err}
	}
	return nil
}

// ReadExact reads exactly n bytes, or fails with TimeoutError once the
// configured timeout elapses.
func (s *Serial) ReadExact(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.Timeout)
	for len(s.rx) < n {
		if err := s.fill(deadline, "read"); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, s.rx[:n])
	s.rx = s.rx[n:]
	return out, nil
}

// ReadUntil reads up to and including the first occurrence of delim, or
// fails with TimeoutError once the configured timeout elapses.
func (s *Serial) ReadUntil(delim byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		if i := bytes.IndexByte(s.rx, delim); i >= 0 {
			out := make([]byte, i+1)
			copy(out, s.rx[:i+1])
			s.rx = s.rx[i+1:]
			return out, nil
		}
		if err := s.fill(deadline, "delimiter"); err != nil {
			return nil, err
		}
	}
}

// fill performs one bounded low-level read into the receive buffer.
// Must be called with the mutex held.
func (s *Serial) fill(deadline time.Time, op string) error {
	if s.closed {
		return &core.IOError{Op: op}
	}
	if !time.Now().Before(deadline) {
		return &core.TimeoutError{Op: op}
	}
	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if n > 0 {
		s.rx = append(s.rx, buf[:n]...)
		return nil
	}
	switch err {
	case nil, io.EOF:
		// The port's own read timeout expired with no data; loop until
		// the caller's deadline runs out.
		time.Sleep(2 * time.Millisecond)
		return nil
	default:
		return &core.IOError{Op: op, Err: err}
	}
}

// Flush discards any buffered receive data so a fresh request/response
// exchange starts clean.
func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.rx = s.rx[:0]
	if f, ok := s.port.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the port. Idempotent.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.rx = nil
	return s.port.Close()
}
