package exec

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type fakeRemoteProcess struct {
	stdout   io.Reader
	stderr   io.Reader
	exitCode int
	waitCh   chan struct{}
	closed   bool
}

func newFakeRemoteProcess(stdout, stderr string) *fakeRemoteProcess {
	return &fakeRemoteProcess{
		stdout: strings.NewReader(stdout),
		stderr: strings.NewReader(stderr),
		waitCh: make(chan struct{}),
	}
}

func (f *fakeRemoteProcess) Stdout() io.Reader { return f.stdout }
func (f *fakeRemoteProcess) Stderr() io.Reader { return f.stderr }
func (f *fakeRemoteProcess) Wait() (int, error) {
	<-f.waitCh
	return f.exitCode, nil
}
func (f *fakeRemoteProcess) Close() error {
	f.closed = true
	return nil
}
func (f *fakeRemoteProcess) finish(code int) {
	f.exitCode = code
	close(f.waitCh)
}

func testBus() *events.Bus {
	return events.New(zap.NewNop(), noop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"), 16)
}

func TestStartRejectsMissingToken(t *testing.T) {
	proc := newFakeRemoteProcess("", "")
	_, err := Start(context.Background(), "sprite-1", "echo hi", false, proc, testBus(), zap.NewNop(), Options{})
	if err != ErrMissingAPIToken {
		t.Fatalf("expected ErrMissingAPIToken, got %v", err)
	}
}

func TestSessionBuffersOutputAndClosesOnExit(t *testing.T) {
	proc := newFakeRemoteProcess("line one\nline two\n", "")
	s, err := Start(context.Background(), "sprite-1", "run thing", true, proc, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	proc.finish(0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.GetOutput()) >= 3 { // two stdout lines + exit entry
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := s.GetOutput()
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 buffered entries, got %d", len(entries))
	}
	if entries[0].Chunk != "line one" || entries[1].Chunk != "line two" {
		t.Fatalf("unexpected entries: %+v", entries[:2])
	}
	if entries[len(entries)-1].Stream != StreamExit {
		t.Fatalf("expected final entry to be exit marker, got %+v", entries[len(entries)-1])
	}
	if !proc.closed {
		t.Fatalf("expected remote process to be closed after exit")
	}
}

func TestSessionParsesProtocolEvents(t *testing.T) {
	proc := newFakeRemoteProcess(`LATTICE_EVENT {"type":"progress","data":{"pct":50}}`+"\n", "")
	sub := testBus()
	s, err := Start(context.Background(), "sprite-1", "run thing", true, proc, sub, zap.NewNop(), Options{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, ch := sub.Subscribe(s.topicEvents())

	proc.finish(0)

	select {
	case m := <-ch:
		if m.Kind != "protocol_event" {
			t.Fatalf("expected protocol_event, got %s", m.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected protocol_event to be published")
	}
}

func TestSessionIdleTimeoutClosesSession(t *testing.T) {
	r, w := io.Pipe()
	proc := &fakeRemoteProcess{stdout: r, stderr: strings.NewReader(""), waitCh: make(chan struct{})}
	s, err := Start(context.Background(), "sprite-1", "tail -f", true, proc, testBus(), zap.NewNop(), Options{IdleTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	select {
	case <-s.closed:
	case <-time.After(time.Second):
		t.Fatalf("expected session to close after idle timeout")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	proc := newFakeRemoteProcess("", "")
	s, err := Start(context.Background(), "sprite-1", "noop", true, proc, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
