// Package notify pushes enclosure events to operators: telemetry and
// alerts over MQTT, with a log-only fallback when no broker is
// configured.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
)

// Config for the MQTT publisher.
type Config struct {
	Broker      string // e.g. tcp://broker:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

// DefaultConfig returns the prefix used at the stations.
func DefaultConfig() Config {
	return Config{
		ClientID:    "enclosured",
		TopicPrefix: "em27/enclosure",
	}
}

// Publisher forwards hub events to an MQTT broker. Telemetry goes to
// per-device topics, alerts to a retained alert topic.
type Publisher struct {
	cfg    Config
	hub    *core.Hub
	log    *zap.SugaredLogger
	client mqtt.Client
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	connected bool
}

// New creates a publisher; Start connects it.
func New(hub *core.Hub, cfg Config, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		hub:    hub,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start connects to the broker and begins forwarding events.
func (p *Publisher) Start() error {
	if !p.cfg.Enabled {
		p.log.Info("mqtt publisher disabled")
		return nil
	}
	if p.cfg.Broker == "" {
		return fmt.Errorf("mqtt: broker address required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
		p.log.Infow("mqtt connected", "broker", p.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.log.Warnw("mqtt connection lost", "err", err)
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt: connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt: connect failed: %w", token.Error())
	}

	p.wg.Add(1)
	go p.publishLoop()
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
}

// Connected returns the broker connection state.
func (p *Publisher) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	sub := p.hub.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-p.stopCh:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev *core.Event) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	topic, retain := TopicFor(p.cfg.TopicPrefix, ev)
	if topic == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnw("mqtt marshal failed", "type", ev.Type, "err", err)
		return
	}
	p.client.Publish(topic, 0, retain, payload)
}

// TopicFor maps an event to its MQTT topic. Alerts are retained so a
// reconnecting operator console sees the last one; telemetry is not.
func TopicFor(prefix string, ev *core.Event) (topic string, retain bool) {
	switch ev.Type {
	case core.EventRainSample:
		return prefix + "/telemetry/rain", false
	case core.EventClimateReading:
		return prefix + "/telemetry/climate", false
	case core.EventACStatus:
		return prefix + "/telemetry/ac", false
	case core.EventEnvSample:
		return prefix + "/telemetry/env", false
	case core.EventConnected:
		return fmt.Sprintf("%s/status/%s", prefix, ev.Device), true
	case core.EventNotifyRain, core.EventNotifyFault:
		return prefix + "/alert", true
	case core.EventOpenRequested, core.EventCloseRequested:
		return prefix + "/cover", false
	default:
		return "", false
	}
}
