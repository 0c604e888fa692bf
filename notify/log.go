package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
)

// LogNotifier writes alert events to the daemon log. It is always on,
// whether or not an MQTT broker is configured.
type LogNotifier struct {
	hub    *core.Hub
	log    *zap.SugaredLogger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLogNotifier creates a log notifier; Start begins consuming events.
func NewLogNotifier(hub *core.Hub, log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{hub: hub, log: log, stopCh: make(chan struct{})}
}

// Start begins logging alert events.
func (n *LogNotifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sub := n.hub.Subscribe()
		defer sub.Unsubscribe()
		for {
			select {
			case <-n.stopCh:
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				switch ev.Type {
				case core.EventNotifyRain:
					n.log.Warnw("ALERT", "kind", "rain", "message", ev.Message)
				case core.EventNotifyFault:
					n.log.Errorw("ALERT", "kind", "fault", "message", ev.Message)
				}
			}
		}
	}()
}

// Stop stops the notifier.
func (n *LogNotifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}
