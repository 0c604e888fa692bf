// Package core holds the shared data types, the event taxonomy and the
// broadcast hub that ties the device drivers to their consumers.
package core

import "time"

// Device identifies one of the enclosure's serial-attached units.
type Device string

const (
	DeviceMotor   Device = "motor"
	DeviceClimate Device = "climate"
	DeviceAC      Device = "ac"
	DeviceTHP     Device = "thp"
)

// RainSample is one rain-sensor reading taken through the motor controller.
type RainSample struct {
	Raining bool      `json:"raining"`
	Code    uint16    `json:"code"` // raw register value
	Time    time.Time `json:"time"`
}

// ClimateReading is one snapshot of the temperature controller.
type ClimateReading struct {
	Temperature float64   `json:"temperature_c"`
	Setpoint    float64   `json:"setpoint_c"`
	PowerOn     bool      `json:"power_on"`
	Time        time.Time `json:"time"`
}

// ACStatus is one snapshot of the air-conditioner unit.
type ACStatus struct {
	Temperature float64   `json:"temperature_c"`
	Setpoint    float64   `json:"setpoint_c"`
	PowerOn     bool      `json:"power_on"`
	Cooling     bool      `json:"cooling"`
	Heating     bool      `json:"heating"`
	AlarmBits   uint16    `json:"alarm_bits"`
	Time        time.Time `json:"time"`
}

// EnvSample is one temperature/humidity/pressure reading from the THP probe.
type EnvSample struct {
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	Pressure    float64   `json:"pressure_hpa"`
	Time        time.Time `json:"time"`
}

// EventType enumerates everything the drivers and the interlock report.
type EventType string

const (
	EventConnected      EventType = "connected"
	EventCommError      EventType = "comm_error"
	EventRainSample     EventType = "rain_sample"
	EventClimateReading EventType = "climate_reading"
	EventACStatus       EventType = "ac_status"
	EventEnvSample      EventType = "env_sample"
	EventCloseRequested EventType = "close_requested"
	EventOpenRequested  EventType = "open_requested"
	EventNotifyRain     EventType = "notify_rain"
	EventNotifyFault    EventType = "notify_fault"
)

// Event is the single message type broadcast on the Hub. Exactly one of the
// payload pointers is set for the sample-carrying event types.
type Event struct {
	Type   EventType `json:"type"`
	Device Device    `json:"device,omitempty"`
	Time   time.Time `json:"time"`

	Connected *bool           `json:"connected,omitempty"`
	Rain      *RainSample     `json:"rain,omitempty"`
	Climate   *ClimateReading `json:"climate,omitempty"`
	AC        *ACStatus       `json:"ac,omitempty"`
	Env       *EnvSample      `json:"env,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ConnEvent builds a Connected event for a device.
func ConnEvent(dev Device, up bool) *Event {
	return &Event{Type: EventConnected, Device: dev, Time: time.Now(), Connected: &up}
}

// ErrEvent builds a CommunicationError event for a device.
func ErrEvent(dev Device, err error) *Event {
	return &Event{Type: EventCommError, Device: dev, Time: time.Now(), Error: err.Error()}
}
