package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/ac"
	"github.com/sciglob/em27-enclosure/auth"
	"github.com/sciglob/em27-enclosure/climate"
	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/history"
	"github.com/sciglob/em27-enclosure/interlock"
	"github.com/sciglob/em27-enclosure/metrics"
	"github.com/sciglob/em27-enclosure/motor"
	"github.com/sciglob/em27-enclosure/notify"
	"github.com/sciglob/em27-enclosure/poll"
	"github.com/sciglob/em27-enclosure/supervisor"
	"github.com/sciglob/em27-enclosure/thp"
	"github.com/sciglob/em27-enclosure/transport"
	"github.com/sciglob/em27-enclosure/webui"
)

var (
	// Server
	listenAddr = flag.String("listen", ":8081", "HTTP listen address")
	debug      = flag.Bool("debug", false, "Enable debug logging")

	// Cover motor (Modbus RTU, includes the rain sensor)
	motorPorts   = flag.String("motor.ports", "", "Cover motor serial ports (comma separated), auto-detect if empty")
	motorBaud    = flag.Int("motor.baud", 19200, "Cover motor baud rate")
	motorSlave   = flag.Int("motor.slave", 1, "Cover motor Modbus slave ID")
	motorOpenPos = flag.Int("motor.openpos", -2300, "Motor position for the open cover")
	motorEnabled = flag.Bool("motor.enabled", true, "Enable the cover motor")

	// Temperature controller (ASCII protocol)
	climatePorts   = flag.String("climate.ports", "", "Temperature controller serial ports (comma separated), auto-detect if empty")
	climateBaud    = flag.Int("climate.baud", 9600, "Temperature controller baud rate")
	climateEnabled = flag.Bool("climate.enabled", true, "Enable the temperature controller")

	// Air conditioner (Modbus RTU)
	acPorts   = flag.String("ac.ports", "", "Air conditioner serial ports (comma separated), auto-detect if empty")
	acBaud    = flag.Int("ac.baud", 9600, "Air conditioner baud rate")
	acSlave   = flag.Int("ac.slave", 1, "Air conditioner Modbus slave ID")
	acEnabled = flag.Bool("ac.enabled", false, "Enable the air conditioner")

	// THP probe (temperature/humidity/pressure)
	thpPorts   = flag.String("thp.ports", "", "THP probe serial ports (comma separated), auto-detect if empty")
	thpBaud    = flag.Int("thp.baud", 9600, "THP probe baud rate")
	thpEnabled = flag.Bool("thp.enabled", true, "Enable the THP probe")

	// Serial timing
	serialTimeout = flag.Duration("serial.timeout", 500*time.Millisecond, "Serial read timeout")
	retryInterval = flag.Duration("serial.retry", 5*time.Second, "Pause between reconnect scans")

	// Polling and rain interlock
	pollInterval = flag.Duration("poll.interval", time.Second, "Device poll interval")
	wetSamples   = flag.Int("rain.wet", 2, "Consecutive wet samples before closing the cover")
	drySamples   = flag.Int("rain.dry", 2, "Consecutive dry samples before the rain state clears")
	autoReopen   = flag.Bool("rain.autoreopen", true, "Reopen the cover when rain clears, if the interlock closed it")

	// History
	historySize = flag.Int("history.size", history.DefaultCapacity, "In-memory history ring capacity (samples)")

	// MQTT
	mqttEnabled  = flag.Bool("mqtt.enabled", false, "Enable MQTT publishing")
	mqttBroker   = flag.String("mqtt.broker", "tcp://localhost:1883", "MQTT broker address")
	mqttPrefix   = flag.String("mqtt.prefix", "em27/enclosure", "MQTT topic prefix")
	mqttClientID = flag.String("mqtt.clientid", "enclosured", "MQTT client ID")
	mqttUsername = flag.String("mqtt.username", "", "MQTT username")
	mqttPassword = flag.String("mqtt.password", "", "MQTT password")

	// Auth (for web UI control endpoints)
	authUsername = flag.String("auth.username", "", "Control endpoint username (open access if empty)")
	authPassword = flag.String("auth.password", "", "Control endpoint password")
)

func main() {
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	log.Infow("starting enclosure controller", "listen", *listenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := core.NewHub()
	ring := history.New(*historySize)

	// Drivers are created unbound; the supervisors bind them once a port
	// answers the identity probe.
	motorCfg := motor.DefaultConfig()
	motorCfg.SlaveID = byte(*motorSlave)
	motorCfg.OpenPosition = *motorOpenPos
	motorDrv := motor.New(motorCfg, log.Named("motor"))

	climateDrv := climate.New(climate.DefaultConfig(), log.Named("climate"))

	acCfg := ac.DefaultConfig()
	acCfg.SlaveID = byte(*acSlave)
	acDrv := ac.New(acCfg, log.Named("ac"))

	thpDrv := thp.New(thp.DefaultConfig(), log.Named("thp"))

	detected := webui.DetectSerialPorts()
	log.Infow("serial ports detected", "ports", detected)

	newSup := func(dev core.Device, ports string, baud int, probe supervisor.Probe, bind func(transport.Conn), unbind func()) *supervisor.Supervisor {
		cfg := supervisor.Config{
			Device:        dev,
			Ports:         portList(ports, detected),
			Baud:          baud,
			Timeout:       *serialTimeout,
			RetryInterval: *retryInterval,
		}
		return supervisor.New(cfg, hub, probe, bind, unbind, log.Named(string(dev)))
	}

	motorSup := newSup(core.DeviceMotor, *motorPorts, *motorBaud, motorDrv.Probe, motorDrv.Bind, motorDrv.Unbind)
	climateSup := newSup(core.DeviceClimate, *climatePorts, *climateBaud, climateDrv.Probe, climateDrv.Bind, climateDrv.Unbind)
	acSup := newSup(core.DeviceAC, *acPorts, *acBaud, acDrv.Probe, acDrv.Bind, acDrv.Unbind)
	thpSup := newSup(core.DeviceTHP, *thpPorts, *thpBaud, thpDrv.Probe, thpDrv.Bind, thpDrv.Unbind)

	il := interlock.New(interlock.Config{
		WetThreshold: *wetSamples,
		DryThreshold: *drySamples,
		AutoReopen:   *autoReopen,
	}, log.Named("interlock"))

	dev := poll.Devices{}
	if *motorEnabled {
		dev.Motor, dev.MotorLink = motorDrv, motorSup
	}
	if *climateEnabled {
		dev.Climate, dev.ClimateLink = climateDrv, climateSup
	}
	if *acEnabled {
		dev.AC, dev.ACLink = acDrv, acSup
	}
	if *thpEnabled {
		dev.Env, dev.EnvLink = thpDrv, thpSup
	}

	poller := poll.New(poll.Config{Interval: *pollInterval}, dev, il, hub, ring, log.Named("poll"))

	// HTTP surface goes up before any hardware so the UI is reachable
	// while the ports are still being scanned.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var climateCtl webui.ClimateController
	if *climateEnabled {
		climateCtl = climateDrv
	}
	var acCtl webui.ACController
	if *acEnabled {
		acCtl = acDrv
	}
	webHandler := webui.New(hub, ring, poller, climateCtl, acCtl,
		auth.New(*authUsername, *authPassword), log.Named("webui"))
	webHandler.RegisterRoutes(mux)

	wsHub := webui.NewWSHub(hub, log.Named("ws"))
	wsHub.Start()
	mux.HandleFunc("/ws", wsHub.ServeWS)

	mux.Handle("/metrics", metrics.New(hub))

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Infow("http server listening", "addr", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server", "error", err)
		}
	}()

	logNotifier := notify.NewLogNotifier(hub, log.Named("alert"))
	logNotifier.Start()

	var publisher *notify.Publisher
	if *mqttEnabled {
		publisher = notify.New(hub, notify.Config{
			Enabled:     true,
			Broker:      *mqttBroker,
			ClientID:    *mqttClientID,
			Username:    *mqttUsername,
			Password:    *mqttPassword,
			TopicPrefix: *mqttPrefix,
		}, log.Named("mqtt"))
		if err := publisher.Start(); err != nil {
			log.Warnw("mqtt publisher failed to start", "error", err)
			publisher = nil
		}
	}

	// The motor connects synchronously: rain safety depends on it, and the
	// startup rain check has to run before the first tick.
	if *motorEnabled {
		if motorSup.Connect(ctx) {
			log.Infow("cover motor connected", "port", motorSup.Port())
		} else {
			log.Warnw("cover motor not found", "ports", portList(*motorPorts, detected))
		}
		go motorSup.Run(ctx)
	}
	if *climateEnabled {
		go climateSup.Run(ctx)
	}
	if *acEnabled {
		go acSup.Run(ctx)
	}
	if *thpEnabled {
		go thpSup.Run(ctx)
	}

	poller.Startup()
	go poller.Run(ctx)

	log.Infow("enclosure controller running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infow("shutting down")

	// Close the cover before letting go of the motor: the rain interlock
	// is gone once the daemon exits.
	if *motorEnabled && motorSup.Connected() && !il.IsCoverClosed() {
		if err := poller.CloseCover(); err != nil {
			log.Warnw("cover close on shutdown failed", "error", err)
		}
	}

	cancel()
	if publisher != nil {
		publisher.Stop()
	}
	logNotifier.Stop()
	wsHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// portList splits a comma-separated flag value, falling back to the
// auto-detected ports when the flag is empty.
func portList(flagValue string, detected []string) []string {
	if flagValue == "" {
		return detected
	}
	var ports []string
	for _, p := range strings.Split(flagValue, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}
