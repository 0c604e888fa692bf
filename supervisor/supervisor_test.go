package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/transport"
)

type fakeConn struct {
	port   string
	closed bool
}

func (f *fakeConn) Write(p []byte) error               { return nil }
func (f *fakeConn) ReadExact(n int) ([]byte, error)    { return nil, &core.TimeoutError{Op: "read"} }
func (f *fakeConn) ReadUntil(d byte) ([]byte, error)   { return nil, &core.TimeoutError{Op: "read"} }
func (f *fakeConn) Flush() error                       { return nil }
func (f *fakeConn) Close() error                       { f.closed = true; return nil }

// harness wires a supervisor whose open and probe behavior is scripted
// per port name.
type harness struct {
	sup       *Supervisor
	hub       *core.Hub
	opened    []string
	conns     map[string]*fakeConn
	bound     transport.Conn
	unbinds   int
	openFail  map[string]error
	probeFail map[string]error
}

func newHarness(t *testing.T, ports []string) *harness {
	t.Helper()
	h := &harness{
		hub:       core.NewHub(),
		conns:     make(map[string]*fakeConn),
		openFail:  make(map[string]error),
		probeFail: make(map[string]error),
	}
	t.Cleanup(h.hub.Close)

	cfg := Config{
		Device:        core.DeviceMotor,
		Ports:         ports,
		Baud:          19200,
		Timeout:       time.Second,
		RetryInterval: 10 * time.Millisecond,
	}
	probe := func(conn transport.Conn) error {
		fc := conn.(*fakeConn)
		return h.probeFail[fc.port]
	}
	onConnect := func(conn transport.Conn) { h.bound = conn }
	onDisconnect := func() { h.unbinds++; h.bound = nil }

	h.sup = New(cfg, h.hub, probe, onConnect, onDisconnect, zap.NewNop().Sugar())
	h.sup.open = func(tc transport.Config) (transport.Conn, error) {
		h.opened = append(h.opened, tc.Port)
		if err := h.openFail[tc.Port]; err != nil {
			return nil, err
		}
		fc := &fakeConn{port: tc.Port}
		h.conns[tc.Port] = fc
		return fc, nil
	}
	return h
}

func waitEvent(t *testing.T, sub *core.Subscription, typ core.EventType) *core.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", typ)
		}
	}
}

func TestConnectFirstPort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	sub := h.hub.Subscribe()
	defer sub.Unsubscribe()

	if !h.sup.Connect(context.Background()) {
		t.Fatal("want connected")
	}
	if h.sup.Port() != "/dev/ttyUSB0" {
		t.Errorf("port: want /dev/ttyUSB0, got %q", h.sup.Port())
	}
	if h.bound == nil {
		t.Error("driver not bound on connect")
	}

	ev := waitEvent(t, sub, core.EventConnected)
	if ev.Connected == nil || !*ev.Connected {
		t.Error("want connected=true event")
	}
	if ev.Device != core.DeviceMotor {
		t.Errorf("device: want motor, got %s", ev.Device)
	}
}

func TestScanSkipsForeignDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	h.probeFail["/dev/ttyUSB0"] = errors.New("wrong device")

	if !h.sup.Connect(context.Background()) {
		t.Fatal("want connected via second port")
	}
	if h.sup.Port() != "/dev/ttyUSB1" {
		t.Errorf("port: want /dev/ttyUSB1, got %q", h.sup.Port())
	}
	if !h.conns["/dev/ttyUSB0"].closed {
		t.Error("rejected port not closed")
	}
}

func TestScanSkipsUnopenablePort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	h.openFail["/dev/ttyUSB0"] = errors.New("no such device")

	if !h.sup.Connect(context.Background()) {
		t.Fatal("want connected via second port")
	}
	if h.sup.Port() != "/dev/ttyUSB1" {
		t.Errorf("port: want /dev/ttyUSB1, got %q", h.sup.Port())
	}
}

func TestAllPortsFailStaysDisconnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0"})
	h.probeFail["/dev/ttyUSB0"] = errors.New("silent")

	if h.sup.Connect(context.Background()) {
		t.Fatal("want disconnected")
	}
	if h.sup.State() != StateDisconnected {
		t.Errorf("state: want disconnected, got %s", h.sup.State())
	}
}

func TestDropUnbindsAndReports(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0"})
	sub := h.hub.Subscribe()
	defer sub.Unsubscribe()

	if !h.sup.Connect(context.Background()) {
		t.Fatal("setup: connect failed")
	}
	waitEvent(t, sub, core.EventConnected)

	h.sup.Drop(&core.IOError{Op: "read", Err: errors.New("unplugged")})

	if h.sup.Connected() {
		t.Error("still connected after drop")
	}
	if h.unbinds != 1 {
		t.Errorf("unbinds: want 1, got %d", h.unbinds)
	}
	if !h.conns["/dev/ttyUSB0"].closed {
		t.Error("connection not closed on drop")
	}

	waitEvent(t, sub, core.EventCommError)
	ev := waitEvent(t, sub, core.EventConnected)
	if ev.Connected == nil || *ev.Connected {
		t.Error("want connected=false event after drop")
	}
}

func TestDropWhileDisconnectedIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0"})
	h.sup.Drop(errors.New("spurious"))
	if h.unbinds != 0 {
		t.Errorf("unbinds: want 0, got %d", h.unbinds)
	}
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"/dev/ttyUSB0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.sup.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return h.sup.Connected() })
	h.sup.Drop(errors.New("unplugged"))
	waitFor(t, func() bool { return h.sup.Connected() })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
	if h.sup.Connected() {
		t.Error("still connected after Run returned")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}
