// Package webui serves the operator dashboard: live station status, the
// history chart data, and the cover and climate controls.
package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/auth"
	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/history"
)

// CoverController executes operator cover commands.
type CoverController interface {
	OpenCover() error
	CloseCover() error
}

// ClimateController adjusts the temperature controller.
type ClimateController interface {
	SetSetpoint(deg float64) error
	SetPower(on bool) error
}

// ACController adjusts the air conditioner.
type ACController interface {
	SetCoolingSetpoint(deg int) error
	SetPower(on bool) error
}

// Handler serves the web UI and the JSON API.
type Handler struct {
	hub     *core.Hub
	ring    *history.Ring
	cover   CoverController
	climate ClimateController
	ac      ACController
	auth    *auth.Authenticator
	log     *zap.SugaredLogger

	mu     sync.RWMutex
	status core.StationStatus
}

// New creates the handler and starts its fold loop. climate and ac may be
// nil when the station runs without those units.
func New(hub *core.Hub, ring *history.Ring, cover CoverController, climate ClimateController, ac ACController, a *auth.Authenticator, log *zap.SugaredLogger) *Handler {
	h := &Handler{
		hub:     hub,
		ring:    ring,
		cover:   cover,
		climate: climate,
		ac:      ac,
		auth:    a,
		log:     log,
	}
	go h.updateLoop()
	return h
}

func (h *Handler) updateLoop() {
	sub := h.hub.Subscribe()
	defer sub.Unsubscribe()
	for ev := range sub.C() {
		h.mu.Lock()
		h.status.Apply(ev)
		h.mu.Unlock()
	}
}

// Status returns a copy of the folded station status.
func (h *Handler) Status() core.StationStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// RegisterRoutes attaches all endpoints. Read endpoints are public; the
// control endpoints go through basic auth when credentials are set.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.serveDashboard)
	mux.HandleFunc("/api/status", h.serveStatus)
	mux.HandleFunc("/api/history", h.serveHistory)
	mux.HandleFunc("/api/ports", h.servePorts)

	mux.HandleFunc("/api/cover/open", h.auth.Wrap(h.handleCoverOpen))
	mux.HandleFunc("/api/cover/close", h.auth.Wrap(h.handleCoverClose))
	mux.HandleFunc("/api/climate/setpoint", h.auth.Wrap(h.handleClimateSetpoint))
	mux.HandleFunc("/api/climate/power", h.auth.Wrap(h.handleClimatePower))
	mux.HandleFunc("/api/ac/setpoint", h.auth.Wrap(h.handleACSetpoint))
	mux.HandleFunc("/api/ac/power", h.auth.Wrap(h.handleACPower))
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (h *Handler) serveHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid minutes", http.StatusBadRequest)
			return
		}
		minutes = n
	}
	points := h.ring.Since(time.Now().Add(-time.Duration(minutes) * time.Minute))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"minutes": minutes,
		"points":  points,
	})
}

func (h *Handler) servePorts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ports": DetectSerialPorts(),
	})
}

func (h *Handler) handleCoverOpen(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() error { return h.cover.OpenCover() })
}

func (h *Handler) handleCoverClose(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() error { return h.cover.CloseCover() })
}

func (h *Handler) handleClimateSetpoint(w http.ResponseWriter, r *http.Request) {
	if h.climate == nil {
		http.Error(w, "no temperature controller configured", http.StatusNotFound)
		return
	}
	var req struct {
		Setpoint float64 `json:"setpoint_c"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.command(w, r, func() error { return h.climate.SetSetpoint(req.Setpoint) })
}

func (h *Handler) handleClimatePower(w http.ResponseWriter, r *http.Request) {
	if h.climate == nil {
		http.Error(w, "no temperature controller configured", http.StatusNotFound)
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.command(w, r, func() error { return h.climate.SetPower(req.On) })
}

func (h *Handler) handleACSetpoint(w http.ResponseWriter, r *http.Request) {
	if h.ac == nil {
		http.Error(w, "no air conditioner configured", http.StatusNotFound)
		return
	}
	var req struct {
		Setpoint int `json:"setpoint_c"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.command(w, r, func() error { return h.ac.SetCoolingSetpoint(req.Setpoint) })
}

func (h *Handler) handleACPower(w http.ResponseWriter, r *http.Request) {
	if h.ac == nil {
		http.Error(w, "no air conditioner configured", http.StatusNotFound)
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.command(w, r, func() error { return h.ac.SetPower(req.On) })
}

// command runs one control action and maps its error to an HTTP status.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, fn func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := fn(); err != nil {
		status := http.StatusBadGateway
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			status = http.StatusConflict
		}
		h.log.Warnw("control command failed", "path", r.URL.Path, "err", err)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// DetectSerialPorts scans /dev for serial devices so the UI can show
// what the supervisors could bind to.
func DetectSerialPorts() []string {
	var ports []string

	patterns := []string{
		"/dev/ttyUSB*",
		"/dev/ttyACM*",
		"/dev/ttyS*",
		"/dev/serial/by-id/*",
	}

	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			resolved, err := filepath.EvalSymlinks(match)
			if err != nil {
				resolved = match
			}
			if seen[resolved] {
				continue
			}
			seen[resolved] = true

			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if info.Mode()&os.ModeCharDevice != 0 || info.Mode()&os.ModeSymlink != 0 {
				if strings.Contains(match, "/by-id/") {
					ports = append(ports, match)
				} else {
					ports = append(ports, resolved)
				}
			}
		}
	}
	sort.Strings(ports)
	return ports
}

func (h *Handler) serveDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	st := h.Status()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, dashboardHTML(st))
}

func dashboardHTML(st core.StationStatus) string {
	cover := "Open"
	coverClass := "open"
	if st.CoverClosed {
		cover = "Closed"
		coverClass = "closed"
	}
	rain := "---"
	rainClass := ""
	if st.Rain != nil {
		if st.Rain.Raining {
			rain = "RAIN"
			rainClass = "wet"
		} else {
			rain = "Dry"
			rainClass = "dry"
		}
	}
	climateTemp, climateSP := "---", "---"
	if st.ClimateState != nil {
		climateTemp = fmt.Sprintf("%.1f °C", st.ClimateState.Temperature)
		climateSP = fmt.Sprintf("%.1f °C", st.ClimateState.Setpoint)
	}
	acTemp := "---"
	if st.ACState != nil {
		acTemp = fmt.Sprintf("%.0f °C", st.ACState.Temperature)
	}
	env := "---"
	if st.Env != nil {
		env = fmt.Sprintf("%.1f °C / %.0f %%RH / %.1f hPa",
			st.Env.Temperature, st.Env.Humidity, st.Env.Pressure)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Enclosure Controller</title>
<style>
%s
</style>
</head>
<body>
<nav class="navbar">
    <div class="nav-brand">EM27 Enclosure</div>
    <div class="nav-links">
        <a href="/" class="active">Dashboard</a>
        <a href="/metrics">Metrics</a>
        <a href="/api/status">JSON</a>
    </div>
</nav>

<main class="container">
    <div class="grid-container">
        <div class="card">
            <h2>Cover</h2>
            <div class="big %s" id="cover-state">%s</div>
            <div class="rain %s" id="rain-state">%s</div>
            <div class="controls">
                <button onclick="coverCmd('open')">Open</button>
                <button onclick="coverCmd('close')">Close</button>
            </div>
        </div>

        <div class="card">
            <h2>Climate</h2>
            <div class="stat-row"><span>Temperature:</span><span id="climate-temp">%s</span></div>
            <div class="stat-row"><span>Setpoint:</span><span id="climate-sp">%s</span></div>
            <div class="stat-row"><span>AC sensor:</span><span id="ac-temp">%s</span></div>
        </div>

        <div class="card">
            <h2>Weather</h2>
            <div class="stat-row"><span>Outside:</span><span id="env">%s</span></div>
            <div class="stat-row"><span>Rain alerts:</span><span id="rain-alerts">%d</span></div>
            <div class="stat-row"><span>Faults:</span><span id="fault-alerts">%d</span></div>
        </div>

        <div class="card">
            <h2>Devices</h2>
            <div class="stat-row"><span>Motor:</span><span id="dev-motor">%s</span></div>
            <div class="stat-row"><span>Climate:</span><span id="dev-climate">%s</span></div>
            <div class="stat-row"><span>AC:</span><span id="dev-ac">%s</span></div>
            <div class="stat-row"><span>THP:</span><span id="dev-thp">%s</span></div>
        </div>
    </div>
</main>

<script>
%s
</script>
</body>
</html>`,
		dashboardCSS(),
		coverClass, cover, rainClass, rain,
		climateTemp, climateSP, acTemp,
		env, st.RainAlerts, st.FaultAlerts,
		connLabel(st.Motor), connLabel(st.Climate), connLabel(st.AC), connLabel(st.THP),
		dashboardJS(),
	)
}

func connLabel(d core.DeviceStatus) string {
	if d.Connected {
		return "connected"
	}
	return "offline"
}

func dashboardCSS() string {
	return `
* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; background: #0f172a; color: #e2e8f0; min-height: 100vh; }
.navbar { background: #1e293b; padding: 1rem 2rem; display: flex; justify-content: space-between; align-items: center; border-bottom: 1px solid #334155; }
.nav-brand { font-size: 1.25rem; font-weight: 600; color: #38bdf8; }
.nav-links a { color: #94a3b8; text-decoration: none; margin-left: 1.5rem; padding: 0.5rem 1rem; border-radius: 0.375rem; }
.nav-links a:hover, .nav-links a.active { color: #f8fafc; background: #334155; }
.container { padding: 2rem; max-width: 1100px; margin: 0 auto; }
.grid-container { display: grid; gap: 1.5rem; grid-template-columns: repeat(auto-fit, minmax(260px, 1fr)); }
.card { background: #1e293b; border-radius: 0.75rem; padding: 1.5rem; border: 1px solid #334155; }
h2 { font-size: 1rem; color: #94a3b8; margin-bottom: 1rem; text-transform: uppercase; letter-spacing: 0.05em; }
.big { font-size: 3rem; font-weight: 700; line-height: 1; margin-bottom: 0.75rem; }
.big.open { color: #4ade80; }
.big.closed { color: #facc15; }
.rain { font-size: 1rem; margin-bottom: 1rem; }
.rain.wet { color: #f87171; font-weight: 700; }
.rain.dry { color: #4ade80; }
.stat-row { display: flex; justify-content: space-between; padding: 0.5rem 0; border-bottom: 1px solid #334155; }
.stat-row:last-child { border-bottom: none; }
.controls button { padding: 0.75rem 1.5rem; margin-right: 0.5rem; border: 1px solid #475569; background: transparent; color: #94a3b8; border-radius: 0.375rem; cursor: pointer; }
.controls button:hover { border-color: #38bdf8; color: #f8fafc; }
`
}

func dashboardJS() string {
	return `
function coverCmd(action) {
    fetch('/api/cover/' + action, {method: 'POST'})
        .then(r => r.json())
        .then(res => { if (res.error) alert(res.error); })
        .catch(() => {});
}

function refresh() {
    fetch('/api/status')
        .then(r => r.json())
        .then(st => {
            var cover = document.getElementById('cover-state');
            cover.textContent = st.cover_closed ? 'Closed' : 'Open';
            cover.className = 'big ' + (st.cover_closed ? 'closed' : 'open');
            if (st.rain) {
                var rain = document.getElementById('rain-state');
                rain.textContent = st.rain.raining ? 'RAIN' : 'Dry';
                rain.className = 'rain ' + (st.rain.raining ? 'wet' : 'dry');
            }
            if (st.climate_state) {
                document.getElementById('climate-temp').textContent = st.climate_state.temperature_c.toFixed(1) + ' °C';
                document.getElementById('climate-sp').textContent = st.climate_state.setpoint_c.toFixed(1) + ' °C';
            }
            if (st.ac_state) {
                document.getElementById('ac-temp').textContent = st.ac_state.temperature_c.toFixed(0) + ' °C';
            }
            if (st.env) {
                document.getElementById('env').textContent = st.env.temperature_c.toFixed(1) + ' °C / '
                    + st.env.humidity_pct.toFixed(0) + ' %RH / ' + st.env.pressure_hpa.toFixed(1) + ' hPa';
            }
            document.getElementById('rain-alerts').textContent = st.rain_alerts;
            document.getElementById('fault-alerts').textContent = st.fault_alerts;
            document.getElementById('dev-motor').textContent = st.motor.connected ? 'connected' : 'offline';
            document.getElementById('dev-climate').textContent = st.climate.connected ? 'connected' : 'offline';
            document.getElementById('dev-ac').textContent = st.ac.connected ? 'connected' : 'offline';
            document.getElementById('dev-thp').textContent = st.thp.connected ? 'connected' : 'offline';
        })
        .catch(() => {});
}
setInterval(refresh, 2000);

// Live updates over the event socket when available.
try {
    var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    var ws = new WebSocket(proto + location.host + '/ws');
    ws.onmessage = refresh;
} catch (e) {}
`
}
