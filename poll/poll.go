// Package poll runs the acquisition loop: once per tick it reads the rain
// sensor, the temperature controller, the air conditioner and the THP
// probe, feeds the rain interlock and executes its decisions.
package poll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/history"
	"github.com/sciglob/em27-enclosure/interlock"
)

// MotorDevice is the slice of the motor driver the poller uses.
type MotorDevice interface {
	ReadRainStatus() (core.RainSample, error)
	Open() error
	Close() error
}

// ClimateDevice reads the temperature controller.
type ClimateDevice interface {
	Read() (core.ClimateReading, error)
}

// ACDevice reads the air conditioner.
type ACDevice interface {
	Status() (core.ACStatus, error)
}

// EnvDevice reads the THP probe.
type EnvDevice interface {
	ReadSample() (core.EnvSample, error)
}

// Link is the connection state the supervisors expose to the poller.
type Link interface {
	Connected() bool
	Drop(err error)
}

// Config for the poll loop.
type Config struct {
	Interval time.Duration
}

// DefaultConfig polls at the rate the rain interlock needs.
func DefaultConfig() Config {
	return Config{Interval: time.Second}
}

// Devices bundles each driver with its supervisor link.
type Devices struct {
	Motor       MotorDevice
	MotorLink   Link
	Climate     ClimateDevice
	ClimateLink Link
	AC          ACDevice
	ACLink      Link
	Env         EnvDevice
	EnvLink     Link
}

// Poller drives the per-tick acquisition and the cover commands.
type Poller struct {
	cfg  Config
	dev  Devices
	il   *interlock.Interlock
	hub  *core.Hub
	ring *history.Ring
	log  *zap.SugaredLogger
}

// New creates a poller. ring may be nil to disable history recording.
func New(cfg Config, dev Devices, il *interlock.Interlock, hub *core.Hub, ring *history.Ring, log *zap.SugaredLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Poller{cfg: cfg, dev: dev, il: il, hub: hub, ring: ring, log: log}
}

// Startup runs the boot-time rain check. A wet sensor closes the cover
// before the first regular tick; an unreachable motor controller is
// reported as a protection fault.
func (p *Poller) Startup() {
	if p.dev.Motor == nil {
		return
	}
	if !p.dev.MotorLink.Connected() {
		p.motorFault()
		return
	}
	sample, err := p.dev.Motor.ReadRainStatus()
	if err != nil {
		p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
		p.motorFault()
		return
	}
	p.il.MotorUp()
	p.execute(p.il.Startup(sample.Raining))
}

// Run ticks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick runs one acquisition pass. The rain check always goes first.
func (p *Poller) tick() {
	point := history.Point{Time: time.Now(), CoverClosed: p.il.IsCoverClosed()}

	if p.dev.Motor != nil {
		if p.dev.MotorLink.Connected() {
			sample, err := p.dev.Motor.ReadRainStatus()
			if err != nil {
				p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
				p.motorFault()
			} else {
				p.il.MotorUp()
				raining := sample.Raining
				point.Raining = &raining
				p.hub.Broadcast(&core.Event{
					Type: core.EventRainSample, Device: core.DeviceMotor,
					Time: sample.Time, Rain: &sample,
				})
				p.execute(p.il.Observe(sample.Raining))
				point.CoverClosed = p.il.IsCoverClosed()
			}
		} else {
			p.motorFault()
		}
	}

	if p.dev.Climate != nil && p.dev.ClimateLink.Connected() {
		reading, err := p.dev.Climate.Read()
		if err != nil {
			p.dropOnIO(p.dev.ClimateLink, core.DeviceClimate, err)
		} else {
			point.ClimateTemp = &reading.Temperature
			point.ClimateSetpoint = &reading.Setpoint
			p.hub.Broadcast(&core.Event{
				Type: core.EventClimateReading, Device: core.DeviceClimate,
				Time: reading.Time, Climate: &reading,
			})
		}
	}

	if p.dev.AC != nil && p.dev.ACLink.Connected() {
		status, err := p.dev.AC.Status()
		if err != nil {
			p.dropOnIO(p.dev.ACLink, core.DeviceAC, err)
		} else {
			point.ACTemp = &status.Temperature
			p.hub.Broadcast(&core.Event{
				Type: core.EventACStatus, Device: core.DeviceAC,
				Time: status.Time, AC: &status,
			})
		}
	}

	if p.dev.Env != nil && p.dev.EnvLink.Connected() {
		sample, err := p.dev.Env.ReadSample()
		if err != nil {
			p.dropOnIO(p.dev.EnvLink, core.DeviceTHP, err)
		} else {
			point.EnvTemp = &sample.Temperature
			point.Humidity = &sample.Humidity
			point.Pressure = &sample.Pressure
			p.hub.Broadcast(&core.Event{
				Type: core.EventEnvSample, Device: core.DeviceTHP,
				Time: sample.Time, Env: &sample,
			})
		}
	}

	if p.ring != nil {
		p.ring.Add(point)
	}
}

// OpenCover is the operator command to open the cover. Rain blocks it.
func (p *Poller) OpenCover() error {
	if p.dev.Motor == nil {
		return &core.ValidationError{Field: "cover", Msg: "no cover motor configured"}
	}
	if !p.il.AllowOpen() {
		return &core.ValidationError{Field: "cover", Msg: "open blocked while raining"}
	}
	if !p.dev.MotorLink.Connected() {
		return &core.IOError{Op: "open cover", Err: errors.New("motor controller not connected")}
	}
	if err := p.dev.Motor.Open(); err != nil {
		p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
		return err
	}
	p.il.CoverOpened()
	p.hub.Broadcast(&core.Event{Type: core.EventOpenRequested, Device: core.DeviceMotor, Time: time.Now()})
	return nil
}

// CloseCover is the operator command to close the cover.
func (p *Poller) CloseCover() error {
	if p.dev.Motor == nil {
		return &core.ValidationError{Field: "cover", Msg: "no cover motor configured"}
	}
	if !p.dev.MotorLink.Connected() {
		return &core.IOError{Op: "close cover", Err: errors.New("motor controller not connected")}
	}
	if err := p.dev.Motor.Close(); err != nil {
		p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
		return err
	}
	p.il.CoverClosed(false)
	p.hub.Broadcast(&core.Event{Type: core.EventCloseRequested, Device: core.DeviceMotor, Time: time.Now()})
	return nil
}

// execute carries out an interlock decision against the motor.
func (p *Poller) execute(d interlock.Decision) {
	if d.NotifyRain {
		p.hub.Broadcast(&core.Event{
			Type: core.EventNotifyRain, Device: core.DeviceMotor, Time: time.Now(),
			Message: "rain detected, closing cover",
		})
	}
	if d.Close {
		if err := p.dev.Motor.Close(); err != nil {
			p.log.Errorw("rain close failed", "err", err)
			p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
			p.motorFault()
			return
		}
		p.il.CoverClosed(true)
		p.log.Warnw("cover closed by rain interlock")
		p.hub.Broadcast(&core.Event{Type: core.EventCloseRequested, Device: core.DeviceMotor, Time: time.Now()})
	}
	if d.Open {
		if err := p.dev.Motor.Open(); err != nil {
			p.log.Errorw("auto reopen failed", "err", err)
			p.dropOnIO(p.dev.MotorLink, core.DeviceMotor, err)
			return
		}
		p.il.CoverOpened()
		p.log.Infow("cover reopened after rain cleared")
		p.hub.Broadcast(&core.Event{Type: core.EventOpenRequested, Device: core.DeviceMotor, Time: time.Now()})
	}
}

// motorFault raises the protection-lost alert, once per outage.
func (p *Poller) motorFault() {
	if p.il.MotorDown() {
		p.hub.Broadcast(&core.Event{
			Type: core.EventNotifyFault, Device: core.DeviceMotor, Time: time.Now(),
			Message: "motor controller unreachable, rain protection lost",
		})
	}
}

// dropOnIO tears the connection down on transport failures. Protocol
// errors already went through the driver's retry budget and leave the
// connection up.
func (p *Poller) dropOnIO(link Link, dev core.Device, err error) {
	var ioe *core.IOError
	if errors.As(err, &ioe) {
		link.Drop(err)
		return
	}
	p.log.Warnw("poll failed", "device", dev, "err", err)
	p.hub.Broadcast(core.ErrEvent(dev, err))
}
