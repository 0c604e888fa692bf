// Package ac drives the enclosure's air-conditioner unit over Modbus RTU.
// Unlike the temperature controller it exposes a full holding-register map;
// temperatures are whole signed degrees.
package ac

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

// AC unit holding registers.
const (
	RegCoolingSetpoint   = 0 // signed, write
	RegHighTempAlarm     = 1 // signed, write
	RegLowTempAlarm      = 2 // signed, write
	RegHeaterSetpoint    = 3 // signed, write
	RegEnableFlags       = 4 // bit 0 = master enable
	RegControlSetpoint   = 5 // signed, read
	RegHighTempSetpoint  = 6 // signed, read
	RegLowTempSetpoint   = 7 // signed, read
	RegHeaterSetpointRd  = 8 // signed, read
	RegControlSensor     = 12 // signed, read: current temperature
	RegAlarmStatus       = 14
	RegOutputStatus      = 15
	RegContactStatus     = 16
)

// Output status bits.
const (
	outPower   = 0x0001
	outCooling = 0x0002
	outHeating = 0x0004
)

const enableMaster = 0x0001

// Config holds the AC driver settings.
type Config struct {
	SlaveID     byte
	MinSetpoint int // signed whole degrees
	MaxSetpoint int
	Retries     int
}

// DefaultConfig returns the unit's documented limits.
func DefaultConfig() Config {
	return Config{
		SlaveID:     1,
		MinSetpoint: -32768,
		MaxSetpoint: 32767,
		Retries:     2,
	}
}

// Driver is the AC unit driver.
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

// SetCoolingSetpoint writes the cooling setpoint in whole degrees.
func (d *Driver) SetCoolingSetpoint(deg int) error {
	if deg < d.cfg.MinSetpoint || deg > d.cfg.MaxSetpoint {
		return &core.ValidationError{
			Field: "cooling setpoint",
			Msg:   fmt.Sprintf("%d outside [%d, %d]", deg, d.cfg.MinSetpoint, d.cfg.MaxSetpoint),
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeRegister(RegCoolingSetpoint, uint16(int16(deg))); err != nil {
		return err
	}
	d.log.Infow("ac setpoint", "deg", deg)
	return nil
}

// SetPower toggles the master enable bit, preserving the other flags.
func (d *Driver) SetPower(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	flags, err := d.readRegister(RegEnableFlags)
	if err != nil {
		return err
	}
	if on {
		flags |= enableMaster
	} else {
		flags &^= enableMaster
	}
	if err := d.writeRegister(RegEnableFlags, flags); err != nil {
		return err
	}
	d.log.Infow("ac power", "on", on)
	return nil
}

// Status reads the registers the poller reports on.
func (d *Driver) Status() (core.ACStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	temp, err := d.readRegister(RegControlSensor)
	if err != nil {
		return core.ACStatus{}, err
	}
	sp, err := d.readRegister(RegControlSetpoint)
	if err != nil {
		return core.ACStatus{}, err
	}
	out, err := d.readRegister(RegOutputStatus)
	if err != nil {
		return core.ACStatus{}, err
	}
	alarms, err := d.readRegister(RegAlarmStatus)
	if err != nil {
		return core.ACStatus{}, err
	}

	return core.ACStatus{
		Temperature: float64(frame.ToSigned(temp)),
		Setpoint:    float64(frame.ToSigned(sp)),
		PowerOn:     out&outPower != 0,
		Cooling:     out&outCooling != 0,
		Heating:     out&outHeating != 0,
		AlarmBits:   alarms,
		Time:        time.Now(),
	}, nil
}

// Probe reads the control sensor register once on the given transport.
func (d *Driver) Probe(conn transport.Conn) error {
	req := frame.EncodeReadRegisters(d.cfg.SlaveID, RegControlSensor, 1)
	resp, err := exchangeOnce(conn, req, 7)
	if err != nil {
		return err
	}
	if resp.Exception() {
		return fmt.Errorf("ac probe: modbus exception 0x%02X", resp.Function)
	}
	return nil
}

// Caller holds the mutex for the register helpers.

func (d *Driver) readRegister(register uint16) (uint16, error) {
	req := frame.EncodeReadRegisters(d.cfg.SlaveID, register, 1)
	resp, err := d.exchange(req, 7)
	if err != nil {
		return 0, err
	}
	return resp.ReadValue()
}

func (d *Driver) writeRegister(register, value uint16) error {
	req := frame.EncodeWriteRegister(d.cfg.SlaveID, register, value)
	resp, err := d.exchange(req, len(req))
	if err != nil {
		return err
	}
	if resp.Function != frame.FnWriteSingle || resp.Register() != register {
		return &core.FramingError{Reason: "unexpected write echo"}
	}
	return nil
}

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
		d.log.Debugw("ac retry", "attempt", i+1, "err", err)
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

func retryable(err error) bool {
	var te *core.TimeoutError
	var ce *core.ChecksumError
	return errors.As(err, &te) || errors.As(err, &ce)
}
