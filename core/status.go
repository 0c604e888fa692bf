package core

import "time"

// DeviceStatus is the connection view of one device.
type DeviceStatus struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// StationStatus is the folded view of the event stream, kept by consumers
// that need "latest everything" (status endpoint, metrics).
type StationStatus struct {
	Time time.Time `json:"time"`

	Motor   DeviceStatus `json:"motor"`
	Climate DeviceStatus `json:"climate"`
	AC      DeviceStatus `json:"ac"`
	THP     DeviceStatus `json:"thp"`

	Rain          *RainSample     `json:"rain,omitempty"`
	ClimateState  *ClimateReading `json:"climate_state,omitempty"`
	ACState       *ACStatus       `json:"ac_state,omitempty"`
	Env           *EnvSample      `json:"env,omitempty"`
	CoverClosed   bool            `json:"cover_closed"`
	RainAlerts    int             `json:"rain_alerts"`
	FaultAlerts   int             `json:"fault_alerts"`
	LastRainAlert time.Time       `json:"last_rain_alert,omitempty"`
}

func (st *StationStatus) device(dev Device) *DeviceStatus {
	switch dev {
	case DeviceMotor:
		return &st.Motor
	case DeviceClimate:
		return &st.Climate
	case DeviceAC:
		return &st.AC
	case DeviceTHP:
		return &st.THP
	}
	return nil
}

// Apply folds one event into the status.
func (st *StationStatus) Apply(ev *Event) {
	st.Time = ev.Time
	switch ev.Type {
	case EventConnected:
		if d := st.device(ev.Device); d != nil && ev.Connected != nil {
			d.Connected = *ev.Connected
			if *ev.Connected {
				d.LastError = ""
			}
		}
	case EventCommError:
		if d := st.device(ev.Device); d != nil {
			d.LastError = ev.Error
		}
	case EventRainSample:
		st.Rain = ev.Rain
	case EventClimateReading:
		st.ClimateState = ev.Climate
	case EventACStatus:
		st.ACState = ev.AC
	case EventEnvSample:
		st.Env = ev.Env
	case EventCloseRequested:
		st.CoverClosed = true
	case EventOpenRequested:
		st.CoverClosed = false
	case EventNotifyRain:
		st.RainAlerts++
		st.LastRainAlert = ev.Time
	case EventNotifyFault:
		st.FaultAlerts++
	}
}
