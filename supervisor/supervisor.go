// Package supervisor owns the serial connection lifecycle for one device:
// scanning candidate ports, probing for the right unit, binding the driver
// and reconnecting after a drop.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/transport"
)

// State is the connection state of a supervised device.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Probe performs one identity exchange on a candidate port. It must not
// retry: a silent or foreign device should fail fast so the scan moves on.
type Probe func(transport.Conn) error

// Config describes one supervised device.
type Config struct {
	Device        core.Device
	Ports         []string // candidate ports, tried in order
	Baud          int
	Timeout       time.Duration
	RetryInterval time.Duration // pause between failed scans
}

// Supervisor maintains the serial connection for one device.
type Supervisor struct {
	cfg   Config
	log   *zap.SugaredLogger
	hub   *core.Hub
	probe Probe

	// open is swapped out by tests.
	open func(transport.Config) (transport.Conn, error)

	onConnect    func(transport.Conn)
	onDisconnect func()

	mu    sync.Mutex
	state State
	conn  transport.Conn
	port  string
}

// New creates a supervisor for one device. onConnect and onDisconnect
// bind and unbind the device driver; either may be nil.
func New(cfg Config, hub *core.Hub, probe Probe, onConnect func(transport.Conn), onDisconnect func(), log *zap.SugaredLogger) *Supervisor {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &Supervisor{
		cfg:          cfg,
		log:          log,
		hub:          hub,
		probe:        probe,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		open: func(tc transport.Config) (transport.Conn, error) {
			return transport.Open(tc)
		},
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the device is currently reachable.
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// Port returns the port the device was found on, or "" while disconnected.
func (s *Supervisor) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Run keeps the device connected until the context is cancelled. It blocks;
// callers start it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if !s.Connected() {
			s.connect(ctx)
		}
		select {
		case <-ctx.Done():
			s.Drop(nil)
			return
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

// Connect performs one scan attempt synchronously. Used at startup when the
// caller needs the device before starting the Run loop.
func (s *Supervisor) Connect(ctx context.Context) bool {
	s.connect(ctx)
	return s.Connected()
}

func (s *Supervisor) connect(ctx context.Context) {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	for _, port := range s.cfg.Ports {
		if ctx.Err() != nil {
			break
		}
		conn, err := s.open(transport.Config{
			Port:    port,
			Baud:    s.cfg.Baud,
			Timeout: s.cfg.Timeout,
		})
		if err != nil {
			s.log.Debugw("port open failed", "device", s.cfg.Device, "port", port, "err", err)
			continue
		}
		if err := s.probe(conn); err != nil {
			s.log.Debugw("probe failed", "device", s.cfg.Device, "port", port, "err", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		s.state = StateConnected
		s.conn = conn
		s.port = port
		s.mu.Unlock()

		if s.onConnect != nil {
			s.onConnect(conn)
		}
		s.log.Infow("device connected", "device", s.cfg.Device, "port", port)
		s.hub.Broadcast(core.ConnEvent(s.cfg.Device, true))
		return
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Drop tears down the current connection after an I/O failure. The Run loop
// will rescan. Safe to call while disconnected.
func (s *Supervisor) Drop(err error) {
	s.mu.Lock()
	conn := s.conn
	wasUp := s.state == StateConnected
	s.conn = nil
	s.port = ""
	s.state = StateDisconnected
	s.mu.Unlock()

	if !wasUp {
		return
	}
	if s.onDisconnect != nil {
		s.onDisconnect()
	}
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		s.log.Warnw("device dropped", "device", s.cfg.Device, "err", err)
		s.hub.Broadcast(core.ErrEvent(s.cfg.Device, err))
	} else {
		s.log.Infow("device disconnected", "device", s.cfg.Device)
	}
	s.hub.Broadcast(core.ConnEvent(s.cfg.Device, false))
}
