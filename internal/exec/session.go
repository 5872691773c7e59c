package exec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/signing"
	"go.uber.org/zap"
)

// Stream identifies which remote stream a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamExit   Stream = "exit"
)

// OutputEntry is one buffered chunk of exec output.
type OutputEntry struct {
	Stream    Stream
	Chunk     string
	Timestamp time.Time
}

// RemoteProcess is the streaming connection to the worker-side process.
// Concrete implementations wrap a WebSocket or SDK-provided spawn.
type RemoteProcess interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (exitCode int, err error)
	Close() error
}

// ErrMissingAPIToken is returned by Start when no worker-API token is
// configured.
var ErrMissingAPIToken = fmt.Errorf("exec: missing_api_token")

// Options configures a session.
type Options struct {
	IdleTimeout   time.Duration // default 5m
	MaxBufferLines int          // default 1000

	// Signer, if set, HMAC-signs every parsed protocol event before it is
	// published so a downstream consumer can detect a tampered event
	// line. Optional: a nil Signer leaves ProtocolEvent.Signature empty.
	Signer *signing.Signer
}

// Session is a long-lived attachment to one worker-process invocation.
type Session struct {
	ID       string
	SpriteID string
	Command  string

	bus    *events.Bus
	logger *zap.Logger
	buffer *RingBuffer

	idleTimeout time.Duration
	resetIdle   chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
	remote      RemoteProcess
	signer      *signing.Signer
}

// Start opens a session against proc for a sprite/command pair. It
// fails fast with ErrMissingAPIToken when tokenPresent is false.
func Start(ctx context.Context, spriteID, command string, tokenPresent bool, proc RemoteProcess, bus *events.Bus, logger *zap.Logger, opts Options) (*Session, error) {
	if !tokenPresent {
		return nil, ErrMissingAPIToken
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.MaxBufferLines <= 0 {
		opts.MaxBufferLines = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionID := "exec_" + uuid.NewString()
	s := &Session{
		ID:          sessionID,
		SpriteID:    spriteID,
		Command:     command,
		bus:         bus,
		logger:      logger.With(zap.String("session_id", sessionID)),
		buffer:      NewRingBuffer(opts.MaxBufferLines),
		idleTimeout: opts.IdleTimeout,
		resetIdle:   make(chan struct{}, 1),
		closed:      make(chan struct{}),
		remote:      proc,
		signer:      opts.Signer,
	}

	go s.pump(ctx, proc.Stdout(), StreamStdout)
	go s.pump(ctx, proc.Stderr(), StreamStderr)
	go s.idleWatcher()
	go s.awaitExit(proc)

	return s, nil
}

func (s *Session) pump(ctx context.Context, r io.Reader, stream Stream) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		select {
		case <-s.closed:
			return
		default:
		}

		line := scanner.Text()
		now := time.Now().UTC()
		s.touchIdle()

		entry := OutputEntry{Stream: stream, Chunk: line, Timestamp: now}
		s.buffer.Append(entry)

		s.bus.Publish(s.topicOutput(), events.Message{
			Kind: "exec_output",
			Payload: map[string]any{
				"session_id": s.ID, "sprite_id": s.SpriteID, "stream": stream, "chunk": line, "timestamp": now,
			},
			Timestamp: now,
		})
		s.bus.Publish("sprite:"+s.SpriteID+":logs", events.Message{Kind: "log_line", Payload: entry, Timestamp: now})

		if stream == StreamStdout {
			if ev, ok := ParseLine(line); ok {
				if s.signer != nil {
					if sig, err := s.signer.Sign(s.ID, ev.Data); err == nil {
						ev.Signature = sig
					}
				}
				s.bus.Publish(s.topicEvents(), events.Message{Kind: "protocol_event", Payload: ev, Timestamp: now})
			}
		}
		s.bus.Emit("exec", "output", map[string]float64{"bytes": float64(len(line))}, map[string]any{"session_id": s.ID})
	}
}

func (s *Session) awaitExit(proc RemoteProcess) {
	exitCode, _ := proc.Wait()
	now := time.Now().UTC()
	entry := OutputEntry{Stream: StreamExit, Chunk: fmt.Sprintf("%d", exitCode), Timestamp: now}
	s.buffer.Append(entry)
	s.bus.Publish(s.topicOutput(), events.Message{
		Kind:      "exec_output",
		Payload:   map[string]any{"session_id": s.ID, "sprite_id": s.SpriteID, "stream": StreamExit, "chunk": entry.Chunk, "timestamp": now},
		Timestamp: now,
	})
	s.bus.Emit("exec", "completed", map[string]float64{"exit_code": float64(exitCode)}, map[string]any{"session_id": s.ID})
	_ = s.Close()
}

func (s *Session) touchIdle() {
	select {
	case s.resetIdle <- struct{}{}:
	default:
	}
}

func (s *Session) idleWatcher() {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-s.resetIdle:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			s.logger.Info("exec session idle timeout, closing")
			_ = s.Close()
			return
		}
	}
}

// Close releases the remote connection and cancels the idle timer.
// Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.remote.Close()
	})
	return err
}

// GetOutput returns the buffered output entries for late subscribers.
func (s *Session) GetOutput() []OutputEntry {
	return s.buffer.Snapshot()
}

func (s *Session) topicOutput() string { return "exec:" + s.ID }
func (s *Session) topicEvents() string { return "exec:" + s.ID + ":events" }
