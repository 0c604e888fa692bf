// Package thp reads the temperature/humidity/pressure probe. The probe
// emits delimited ASCII lines; one sample is one complete line.
package thp

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/frame"
	"github.com/sciglob/em27-enclosure/transport"
)

// lineDelim terminates every probe line.
const lineDelim = '\n'

// Config holds the reader settings.
type Config struct {
	Retries int
}

// DefaultConfig returns the standard retry bound.
func DefaultConfig() Config {
	return Config{Retries: 2}
}

// Reader is the single-shot THP sample reader.
type Reader struct {
	cfg Config
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn transport.Conn
}

// New creates an unbound reader.
func New(cfg Config, log *zap.SugaredLogger) *Reader {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Reader{cfg: cfg, log: log}
}

// Bind attaches an open transport to the reader.
func (r *Reader) Bind(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

// Unbind detaches the transport.
func (r *Reader) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = nil
}

// ReadSample reads one complete sensor line. The first line after binding
// is often partial, so parse failures are retried like corrupt frames.
func (r *Reader) ReadSample() (core.EnvSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return core.EnvSample{}, &core.IOError{Op: "read", Err: errors.New("not connected")}
	}

	attempts := r.cfg.Retries + 1
	var last error
	for i := 0; i < attempts; i++ {
		sample, err := readOnce(r.conn)
		if err == nil {
			return sample, nil
		}
		if !retryable(err) {
			return core.EnvSample{}, err
		}
		last = err
		r.log.Debugw("thp retry", "attempt", i+1, "err", err)
	}
	return core.EnvSample{}, &core.CommunicationError{Attempts: attempts, Last: last}
}

// Probe reads and parses one line on the given transport, used by the
// supervisor to identify the probe on a candidate port.
func (r *Reader) Probe(conn transport.Conn) error {
	// The stream may be mid-line when we attach; allow one partial line.
	if _, err := readOnce(conn); err == nil {
		return nil
	}
	_, err := readOnce(conn)
	return err
}

func readOnce(conn transport.Conn) (core.EnvSample, error) {
	line, err := conn.ReadUntil(lineDelim)
	if err != nil {
		return core.EnvSample{}, err
	}
	return frame.ParseEnvLine(line)
}

// retryable: no response and garbled lines are retried; a dead port is not.
func retryable(err error) bool {
	var te *core.TimeoutError
	var pe *core.ParseError
	return errors.As(err, &te) || errors.As(err, &pe)
}
