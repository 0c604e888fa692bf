// Package motor drives the enclosure cover motor and reads the rain sensor
// attached to the motor controller, over Modbus RTU.
package motor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/frame"
	"github.com/sciglob/em27-enclosure/transport"
)

// Motor controller register map (holding registers).
const (
	regTargetPosition = 0x0000 // signed target angle, write
	regRainStatus     = 0x0004 // rain sensor code, read; bit 0 = wet
)

// Config holds the motor driver settings. Open/closed are configured target
// angles, not protocol constants.
type Config struct {
	SlaveID        byte
	OpenPosition   int
	ClosedPosition int
	MinPosition    int // documented signed range of the drive
	MaxPosition    int
	Retries        int // extra attempts on timeout/checksum failure
}

// DefaultConfig returns the values the EM-27 enclosure ships with.
func DefaultConfig() Config {
	return Config{
		SlaveID:        1,
		OpenPosition:   -2300,
		ClosedPosition: 0,
		MinPosition:    -32768,
		MaxPosition:    32767,
		Retries:        2,
	}
}

// Driver is the motor/rain-sensor driver. It owns its transport exclusively
// and serializes request/response exchanges.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn transport.Conn
}

// New creates an unbound driver; the connection supervisor binds a
// transport once a port has been probed successfully.
func New(cfg Config, log *zap.SugaredLogger) *Driver {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Driver{cfg: cfg, log: log}
}

// Bind attaches an open transport to the driver.
func (d *Driver) Bind(conn transport.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

// Unbind detaches the transport. In-flight exchanges finish first.
func (d *Driver) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = nil
}

// MoveTo commands the cover to the given signed angle. Out-of-range angles
// fail with ValidationError before any I/O happens.
func (d *Driver) MoveTo(angle int) error {
	if angle < d.cfg.MinPosition || angle > d.cfg.MaxPosition {
		return &core.ValidationError{
			Field: "angle",
			Msg:   fmt.Sprintf("%d outside [%d, %d]", angle, d.cfg.MinPosition, d.cfg.MaxPosition),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	req := frame.EncodeWriteRegister(d.cfg.SlaveID, regTargetPosition, uint16(int16(angle)))
	resp, err := d.exchange(req, len(req))
	if err != nil {
		return err
	}
	// Write echo mirrors the request.
	if resp.Function != frame.FnWriteSingle || resp.Register() != regTargetPosition {
		return &core.FramingError{Reason: "unexpected write echo"}
	}
	d.log.Infow("motor move", "angle", angle)
	return nil
}

// Open moves the cover to the configured open angle.
func (d *Driver) Open() error { return d.MoveTo(d.cfg.OpenPosition) }

// Close moves the cover to the configured closed angle.
func (d *Driver) Close() error { return d.MoveTo(d.cfg.ClosedPosition) }

// OpenPosition returns the configured open angle.
func (d *Driver) OpenPosition() int { return d.cfg.OpenPosition }

// ClosedPosition returns the configured closed angle.
func (d *Driver) ClosedPosition() int { return d.cfg.ClosedPosition }

// ReadRainStatus reads the rain sensor register.
func (d *Driver) ReadRainStatus() (core.RainSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	code, err := d.readRegister(regRainStatus)
	if err != nil {
		return core.RainSample{}, err
	}
	return core.RainSample{
		Raining: code&0x0001 != 0,
		Code:    code,
		Time:    time.Now(),
	}, nil
}

// Probe performs a single harmless rain-register read on the given
// transport. The supervisor uses it to identify the motor controller while
// scanning candidate ports.
func (d *Driver) Probe(conn transport.Conn) error {
	req := frame.EncodeReadRegisters(d.cfg.SlaveID, regRainStatus, 1)
	resp, err := exchangeOnce(conn, req, 7)
	if err != nil {
		return err
	}
	if resp.Exception() {
		return fmt.Errorf("motor probe: modbus exception 0x%02X", resp.Function)
	}
	return nil
}

// readRegister reads one holding register with the retry policy applied.
// Caller holds the mutex.
func (d *Driver) readRegister(register uint16) (uint16, error) {
	req := frame.EncodeReadRegisters(d.cfg.SlaveID, register, 1)
	resp, err := d.exchange(req, 7) // slave + fc + count + 2 data + CRC
	if err != nil {
		return 0, err
	}
	return resp.ReadValue()
}

// exchange runs one request/response with the fixed-retry policy: timeouts
// and checksum failures are retried up to the configured bound, framing and
// validation problems are not, and a dead line surfaces immediately.
// Caller holds the mutex.
func (d *Driver) exchange(req []byte, respLen int) (*frame.Modbus, error) {
	if d.conn == nil {
		return nil, &core.IOError{Op: "exchange", Err: errors.New("not connected")}
	}

	attempts := d.cfg.Retries + 1
	var last error
	for i := 0; i < attempts; i++ {
		resp, err := exchangeOnce(d.conn, req, respLen)
		if err == nil {
			if resp.Exception() {
				return nil, fmt.Errorf("modbus exception: function=0x%02X code=0x%02X",
					resp.Function, resp.Payload[0])
			}
			return resp, nil
		}
		if !retryable(err) {
			return nil, err
		}
		last = err
		d.log.Debugw("motor retry", "attempt", i+1, "err", err)
	}
	return nil, &core.CommunicationError{Attempts: attempts, Last: last}
}

func exchangeOnce(conn transport.Conn, req []byte, respLen int) (*frame.Modbus, error) {
	if err := conn.Flush(); err != nil {
		return nil, err
	}
	if err := conn.Write(req); err != nil {
		return nil, err
	}
	// Exception responses are always five bytes, so read the header first
	// and size the rest of the read accordingly.
	head, err := conn.ReadExact(3)
	if err != nil {
		return nil, err
	}
	rem := respLen - 3
	if head[1]&frame.ExceptionFlag != 0 {
		rem = 2
	}
	rest, err := conn.ReadExact(rem)
	if err != nil {
		return nil, err
	}
	return frame.DecodeModbus(append(head, rest...))
}

// retryable reports whether a failure is worth another attempt: corrupted
// or absent responses are, dead lines and malformed frames are not.
func retryable(err error) bool {
	var te *core.TimeoutError
	var ce *core.ChecksumError
	return errors.As(err, &te) || errors.As(err, &ce)
}
