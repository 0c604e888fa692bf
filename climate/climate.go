// Package climate drives the enclosure temperature controller over its
// ASCII-hex command protocol. Temperatures travel as signed 32-bit
// centidegrees.
package climate

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

// Command mnemonics of the TC protocol.
const (
	cmdReadTemperature = "RT"
	cmdReadSetpoint    = "RS"
	cmdWriteSetpoint   = "WS"
	cmdReadPower       = "RP"
	cmdWritePower      = "WP"
)

// scale converts between degrees Celsius and the wire's centidegrees.
const scale = 100

// Config holds the climate driver settings.
type Config struct {
	MinSetpoint float64 // documented controller span, °C
	MaxSetpoint float64
	Retries     int
}

// DefaultConfig returns the documented span of the enclosure's controller.
func DefaultConfig() Config {
	return Config{
		MinSetpoint: -20,
		MaxSetpoint: 60,
		Retries:     2,
	}
}

// Driver is the temperature-controller driver.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger

	mu   sync.Mutex
	conn transport.Conn
}

// New creates an unbound driver.
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

// Unbind detaches the transport.
func (d *Driver) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = nil
}

// ReadTemperature returns the current controller temperature in °C.
func (d *Driver) ReadTemperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.exchange(cmdReadTemperature, 0)
	if err != nil {
		return 0, err
	}
	return float64(v) / scale, nil
}

// ReadSetpoint returns the active setpoint in °C.
func (d *Driver) ReadSetpoint() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.exchange(cmdReadSetpoint, 0)
	if err != nil {
		return 0, err
	}
	return float64(v) / scale, nil
}

// SetSetpoint writes a new setpoint. Values outside the controller span
// fail with ValidationError before any I/O happens.
func (d *Driver) SetSetpoint(celsius float64) error {
	if celsius < d.cfg.MinSetpoint || celsius > d.cfg.MaxSetpoint {
		return &core.ValidationError{
			Field: "setpoint",
			Msg: fmt.Sprintf("%.2f outside [%.1f, %.1f]",
				celsius, d.cfg.MinSetpoint, d.cfg.MaxSetpoint),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.exchange(cmdWriteSetpoint, int32(celsius*scale)); err != nil {
		return err
	}
	d.log.Infow("climate setpoint", "celsius", celsius)
	return nil
}

// PowerOn reads the controller output state.
func (d *Driver) PowerOn() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.exchange(cmdReadPower, 0)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SetPower switches the controller output on or off.
func (d *Driver) SetPower(on bool) error {
	var v int32
	if on {
		v = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.exchange(cmdWritePower, v); err != nil {
		return err
	}
	d.log.Infow("climate power", "on", on)
	return nil
}

// Read returns a full snapshot used by the polling coordinator.
func (d *Driver) Read() (core.ClimateReading, error) {
	temp, err := d.ReadTemperature()
	if err != nil {
		return core.ClimateReading{}, err
	}
	sp, err := d.ReadSetpoint()
	if err != nil {
		return core.ClimateReading{}, err
	}
	on, err := d.PowerOn()
	if err != nil {
		return core.ClimateReading{}, err
	}
	return core.ClimateReading{
		Temperature: temp,
		Setpoint:    sp,
		PowerOn:     on,
		Time:        time.Now(),
	}, nil
}

// Probe performs a single temperature read on the given transport, used by
// the supervisor to identify the controller on a candidate port.
func (d *Driver) Probe(conn transport.Conn) error {
	_, err := exchangeOnce(conn, cmdReadTemperature, 0)
	return err
}

// exchange runs one command with the fixed-retry policy. Caller holds the
// mutex.
func (d *Driver) exchange(cmd string, value int32) (int32, error) {
	if d.conn == nil {
		return 0, &core.IOError{Op: "exchange", Err: errors.New("not connected")}
	}

	attempts := d.cfg.Retries + 1
	var last error
	for i := 0; i < attempts; i++ {
		v, err := exchangeOnce(d.conn, cmd, value)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return 0, err
		}
		last = err
		d.log.Debugw("climate retry", "cmd", cmd, "attempt", i+1, "err", err)
	}
	return 0, &core.CommunicationError{Attempts: attempts, Last: last}
}

func exchangeOnce(conn transport.Conn, cmd string, value int32) (int32, error) {
	if err := conn.Flush(); err != nil {
		return 0, err
	}
	if err := conn.Write(frame.EncodeTCCommand(cmd, value)); err != nil {
		return 0, err
	}
	raw, err := conn.ReadUntil(frame.TCTerminator)
	if err != nil {
		return 0, err
	}
	_, v, err := frame.DecodeTCResponse(raw)
	return v, err
}

func retryable(err error) bool {
	var te *core.TimeoutError
	var ce *core.ChecksumError
	return errors.As(err, &te) || errors.As(err, &ce)
}
