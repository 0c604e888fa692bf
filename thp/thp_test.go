package thp

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
)

type step struct {
	line []byte
	err  error
}

type mockConn struct {
	steps []step
	reads int
}

func (m *mockConn) Write(p []byte) error { return nil }

func (m *mockConn) ReadExact(n int) ([]byte, error) {
	return nil, &core.TimeoutError{Op: "read"}
}

func (m *mockConn) ReadUntil(delim byte) ([]byte, error) {
	m.reads++
	if len(m.steps) == 0 {
		return nil, &core.TimeoutError{Op: "delimiter"}
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.line, s.err
}

func (m *mockConn) Flush() error { return nil }
func (m *mockConn) Close() error { return nil }

func newTestReader(conn *mockConn) *Reader {
	r := New(DefaultConfig(), zap.NewNop().Sugar())
	r.Bind(conn)
	return r
}

func TestReadSample(t *testing.T) {
	t.Parallel()

	conn := &mockConn{steps: []step{{line: []byte("23.5,45.2,1013.2\n")}}}
	r := newTestReader(conn)

	sample, err := r.ReadSample()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sample.Temperature != 23.5 || sample.Humidity != 45.2 || sample.Pressure != 1013.2 {
		t.Errorf("unexpected sample: %+v", sample)
	}
}

func TestPartialLineRetried(t *testing.T) {
	t.Parallel()

	// First read catches the tail of a line mid-stream.
	conn := &mockConn{steps: []step{
		{line: []byte("2,1013.2\n")},
		{line: []byte("23.5,45.2,1013.2\n")},
	}}
	r := newTestReader(conn)

	sample, err := r.ReadSample()
	if err != nil {
		t.Fatalf("want recovery on second line, got %v", err)
	}
	if sample.Temperature != 23.5 {
		t.Errorf("temperature: want 23.5, got %v", sample.Temperature)
	}
	if conn.reads != 2 {
		t.Errorf("reads: want 2, got %d", conn.reads)
	}
}

func TestSilentProbeExhaustsRetries(t *testing.T) {
	t.Parallel()

	conn := &mockConn{}
	r := newTestReader(conn)

	_, err := r.ReadSample()
	var comm *core.CommunicationError
	if !errors.As(err, &comm) {
		t.Fatalf("want CommunicationError, got %v", err)
	}
	if conn.reads != 3 {
		t.Errorf("reads: want 3, got %d", conn.reads)
	}
}

func TestIOErrorSurfacedImmediately(t *testing.T) {
	t.Parallel()

	conn := &mockConn{steps: []step{
		{err: &core.IOError{Op: "read", Err: errors.New("unplugged")}},
	}}
	r := newTestReader(conn)

	_, err := r.ReadSample()
	var ioe *core.IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("want IOError, got %v", err)
	}
	if conn.reads != 1 {
		t.Errorf("reads: want 1, got %d", conn.reads)
	}
}
