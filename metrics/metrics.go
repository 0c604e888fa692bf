// Package metrics serves the station state in Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/sciglob/em27-enclosure/core"
)

// Metrics folds the event stream and serves it at /metrics.
type Metrics struct {
	hub *core.Hub

	mu     sync.RWMutex
	status core.StationStatus
}

// New creates the metrics handler and starts its fold loop.
func New(hub *core.Hub) *Metrics {
	m := &Metrics{hub: hub}
	go m.updateLoop()
	return m
}

func (m *Metrics) updateLoop() {
	sub := m.hub.Subscribe()
	defer sub.Unsubscribe()
	for ev := range sub.C() {
		m.mu.Lock()
		m.status.Apply(ev)
		m.mu.Unlock()
	}
}

// ServeHTTP writes the metrics page.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	st := m.status
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "enclosure_cover_closed", boolVal(st.CoverClosed), "Cover position (1=closed)")
	writeMetric(w, "enclosure_rain_alerts_total", float64(st.RainAlerts), "Rain close events since start")
	writeMetric(w, "enclosure_fault_alerts_total", float64(st.FaultAlerts), "Protection fault events since start")

	writeLabeled(w, "enclosure_device_connected", boolVal(st.Motor.Connected), "device", "motor", "Device reachable")
	writeLabeled(w, "enclosure_device_connected", boolVal(st.Climate.Connected), "device", "climate", "")
	writeLabeled(w, "enclosure_device_connected", boolVal(st.AC.Connected), "device", "ac", "")
	writeLabeled(w, "enclosure_device_connected", boolVal(st.THP.Connected), "device", "thp", "")

	if st.Rain != nil {
		writeMetric(w, "enclosure_raining", boolVal(st.Rain.Raining), "Raw rain sensor state")
		writeMetric(w, "enclosure_rain_code", float64(st.Rain.Code), "Raw rain sensor register")
	}
	if st.ClimateState != nil {
		writeMetric(w, "enclosure_climate_temperature_celsius", st.ClimateState.Temperature, "Temperature controller reading")
		writeMetric(w, "enclosure_climate_setpoint_celsius", st.ClimateState.Setpoint, "Temperature controller setpoint")
		writeMetric(w, "enclosure_climate_power_on", boolVal(st.ClimateState.PowerOn), "Temperature controller output enabled")
	}
	if st.ACState != nil {
		writeMetric(w, "enclosure_ac_temperature_celsius", st.ACState.Temperature, "AC control sensor reading")
		writeMetric(w, "enclosure_ac_setpoint_celsius", st.ACState.Setpoint, "AC control setpoint")
		writeMetric(w, "enclosure_ac_power_on", boolVal(st.ACState.PowerOn), "AC unit powered")
		writeMetric(w, "enclosure_ac_cooling", boolVal(st.ACState.Cooling), "AC compressor running")
		writeMetric(w, "enclosure_ac_heating", boolVal(st.ACState.Heating), "AC heater running")
		writeMetric(w, "enclosure_ac_alarm_bits", float64(st.ACState.AlarmBits), "AC alarm register")
	}
	if st.Env != nil {
		writeMetric(w, "enclosure_env_temperature_celsius", st.Env.Temperature, "Outside air temperature")
		writeMetric(w, "enclosure_env_humidity_percent", st.Env.Humidity, "Outside relative humidity")
		writeMetric(w, "enclosure_env_pressure_hpa", st.Env.Pressure, "Barometric pressure")
	}
}

func writeMetric(w http.ResponseWriter, name string, value float64, help string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " gauge\n"))
	w.Write([]byte(name + " " + formatFloat(value) + "\n"))
}

func writeLabeled(w http.ResponseWriter, name string, value float64, labelKey, labelVal, help string) {
	if help != "" {
		w.Write([]byte("# HELP " + name + " " + help + "\n"))
		w.Write([]byte("# TYPE " + name + " gauge\n"))
	}
	w.Write([]byte(name + "{" + labelKey + "=\"" + labelVal + "\"} " + formatFloat(value) + "\n"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
