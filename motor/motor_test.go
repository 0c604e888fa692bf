package motor

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/frame"
)

// step scripts one request/response exchange on the mock transport: either
// a full response frame or an error surfaced on the first read.
type step struct {
	resp []byte
	err  error
}

type mockConn struct {
	steps   []step
	buf     []byte
	writes  int
	flushes int
	closed  bool
}

func (m *mockConn) Write(p []byte) error {
	m.writes++
	return nil
}

func (m *mockConn) ReadExact(n int) ([]byte, error) {
	if len(m.buf) == 0 {
		if len(m.steps) == 0 {
			return nil, &core.TimeoutError{Op: "read"}
		}
		s := m.steps[0]
		m.steps = m.steps[1:]
		if s.err != nil {
			return nil, s.err
		}
		m.buf = s.resp
	}
	if len(m.buf) < n {
		return nil, &core.TimeoutError{Op: "read"}
	}
	out := m.buf[:n]
	m.buf = m.buf[n:]
	return out, nil
}

func (m *mockConn) ReadUntil(delim byte) ([]byte, error) {
	return nil, &core.TimeoutError{Op: "delimiter"}
}

func (m *mockConn) Flush() error {
	m.flushes++
	m.buf = nil
	return nil
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func newTestDriver(conn *mockConn) *Driver {
	d := New(DefaultConfig(), zap.NewNop().Sugar())
	d.Bind(conn)
	return d
}

func rainResponse(code uint16) []byte {
	body := []byte{0x01, 0x03, 0x02, byte(code >> 8), byte(code)}
	sum := frame.CRC(body)
	return append(body, byte(sum), byte(sum>>8))
}

func TestMoveToOutOfRangeWritesNothing(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	cfg := DefaultConfig()
	cfg.MinPosition = -2500
	cfg.MaxPosition = 100
	d := New(cfg, zap.NewNop().Sugar())
	d.Bind(conn)

	err := d.MoveTo(5000)
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if conn.writes != 0 {
		t.Errorf("transport writes: want 0, got %d", conn.writes)
	}
}

func TestMoveToEchoAccepted(t *testing.T) {
	t.Parallel()

	echo := frame.EncodeWriteRegister(1, regTargetPosition, uint16(-2300 & 0xFFFF))
	conn := &mockConn{steps: []step{{resp: echo}}}
	d := newTestDriver(conn)

	if err := d.MoveTo(-2300); err != nil {
		t.Fatalf("move: %v", err)
	}
	if conn.writes != 1 {
		t.Errorf("writes: want 1, got %d", conn.writes)
	}
}

func TestReadRainStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    uint16
		raining bool
	}{
		{"dry", 0x0000, false},
		{"wet", 0x0001, true},
		{"wet with flags", 0x0003, true},
		{"dry with flags", 0x0002, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := &mockConn{steps: []step{{resp: rainResponse(tc.code)}}}
			d := newTestDriver(conn)

			sample, err := d.ReadRainStatus()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if sample.Raining != tc.raining {
				t.Errorf("raining: want %v, got %v", tc.raining, sample.Raining)
			}
			if sample.Code != tc.code {
				t.Errorf("code: want %d, got %d", tc.code, sample.Code)
			}
			if sample.Time.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

func TestRetryTwiceThenSucceed(t *testing.T) {
	t.Parallel()

	conn := &mockConn{steps: []step{
		{err: &core.TimeoutError{Op: "read"}},
		{err: &core.TimeoutError{Op: "read"}},
		{resp: rainResponse(0x0001)},
	}}
	d := newTestDriver(conn)

	sample, err := d.ReadRainStatus()
	if err != nil {
		t.Fatalf("want success on third attempt, got %v", err)
	}
	if !sample.Raining {
		t.Error("expected wet sample")
	}
	if conn.writes != 3 {
		t.Errorf("writes: want 3, got %d", conn.writes)
	}
}

func TestRetryExhaustedWrapsLastCause(t *testing.T) {
	t.Parallel()

	conn := &mockConn{steps: []step{
		{err: &core.TimeoutError{Op: "read"}},
		{err: &core.TimeoutError{Op: "read"}},
		{err: &core.TimeoutError{Op: "read"}},
	}}
	d := newTestDriver(conn)

	_, err := d.ReadRainStatus()
	var comm *core.CommunicationError
	if !errors.As(err, &comm) {
		t.Fatalf("want CommunicationError, got %v", err)
	}
	if comm.Attempts != 3 {
		t.Errorf("attempts: want 3, got %d", comm.Attempts)
	}
	var te *core.TimeoutError
	if !errors.As(err, &te) {
		t.Error("CommunicationError should wrap the last TimeoutError")
	}
}

func TestChecksumErrorRetried(t *testing.T) {
	t.Parallel()

	bad := rainResponse(0x0001)
	bad[3] ^= 0x40 // corrupt a data byte
	conn := &mockConn{steps: []step{
		{resp: bad},
		{resp: rainResponse(0x0001)},
	}}
	d := newTestDriver(conn)

	if _, err := d.ReadRainStatus(); err != nil {
		t.Fatalf("want recovery after checksum retry, got %v", err)
	}
	if conn.writes != 2 {
		t.Errorf("writes: want 2, got %d", conn.writes)
	}
}

func TestIOErrorNotRetried(t *testing.T) {
	t.Parallel()

	conn := &mockConn{steps: []step{
		{err: &core.IOError{Op: "read", Err: errors.New("unplugged")}},
	}}
	d := newTestDriver(conn)

	_, err := d.ReadRainStatus()
	var ioe *core.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("want IOError surfaced immediately, got %v", err)
	}
	if conn.writes != 1 {
		t.Errorf("writes: want 1, got %d", conn.writes)
	}
}

func TestUnboundDriverFailsWithIOError(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig(), zap.NewNop().Sugar())
	_, err := d.ReadRainStatus()
	var ioe *core.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("want IOError, got %v", err)
	}
}

func TestModbusExceptionNotRetried(t *testing.T) {
	t.Parallel()

	body := []byte{0x01, 0x83, 0x02} // illegal data address
	sum := frame.CRC(body)
	exc := append(body, byte(sum), byte(sum>>8))
	conn := &mockConn{steps: []step{{resp: exc}}}
	d := newTestDriver(conn)

	_, err := d.ReadRainStatus()
	if err == nil {
		t.Fatal("want error for exception response")
	}
	if conn.writes != 1 {
		t.Errorf("writes: want 1, got %d", conn.writes)
	}
}
