// Package audit implements the Lattice audit log: an append-only,
// in-memory record of every capability invocation, with secret-like
// argument sanitization and telemetry/pub-sub fan-out.
package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/shared/security"
	"github.com/lattice-run/lattice/internal/signing"
	"go.uber.org/zap"
)

// Result classifies the outcome of an audited operation.
type Result string

const (
	ResultOK     Result = "ok"
	ResultError  Result = "error"
	ResultDenied Result = "denied"
)

// Actor identifies who (or what) triggered the audited operation.
type Actor string

const (
	ActorSystem    Actor = "system"
	ActorHuman     Actor = "human"
	ActorScheduled Actor = "scheduled"
)

// sensitiveKeys are the argument-map keys whose values are replaced with
// redactedValue before an entry is emitted.
var sensitiveKeys = map[string]struct{}{
	"token": {}, "password": {}, "secret": {}, "key": {},
	"api_key": {}, "access_token": {},
}

const redactedValue = "[REDACTED]"

// Entry is a single audit log record, matching spec's fixed schema.
type Entry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Capability     string         `json:"capability"`
	Operation      string         `json:"operation"`
	Classification string         `json:"classification"`
	Result         Result         `json:"result"`
	ErrorReason    string         `json:"error_reason,omitempty"`
	Actor          Actor          `json:"actor"`
	OperatorID     string         `json:"operator_id,omitempty"`
	Args           map[string]any `json:"args"`
	Signature      string         `json:"signature,omitempty"`
}

// Log is the append-only, in-memory audit log. There is no persistent
// storage backing it: the store is the in-memory index described by
// spec's non-persistence constraint, optionally capped as a ring buffer.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	maxLen  int // 0 = unbounded

	bus    *events.Bus
	logger *zap.Logger
	signer *signing.Signer
}

// NewLog creates an audit Log. maxLen=0 keeps every entry; otherwise the
// oldest entries are dropped once the cap is reached.
func NewLog(bus *events.Bus, logger *zap.Logger, maxLen int) *Log {
	return &Log{
		entries: make([]Entry, 0, 256),
		maxLen:  maxLen,
		bus:     bus,
		logger:  logger,
	}
}

// SetSigner enables per-entry HMAC-SHA256 signing. Optional: a Log with
// no signer set simply leaves Entry.Signature empty.
func (l *Log) SetSigner(s *signing.Signer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signer = s
}

// Record sanitizes args, appends an entry, emits telemetry, and publishes
// on safety:audit. It never returns an error: a failure in the publish
// step is swallowed so the calling operation is never blocked by an
// observer failure.
func (l *Log) Record(capability, operation, classification string, result Result, errReason string, actor Actor, operatorID string, args map[string]any) Entry {
	entry := Entry{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Capability:     capability,
		Operation:      operation,
		Classification: classification,
		Result:         result,
		ErrorReason:    errReason,
		Actor:          actor,
		OperatorID:     operatorID,
		Args:           sanitizeArgs(args),
	}

	l.mu.Lock()
	if l.signer != nil {
		if sig, err := l.signer.Sign(entry.ID, entry.Args); err == nil {
			entry.Signature = sig
		} else {
			l.logger.Warn("audit entry signing failed", zap.Error(err))
		}
	}
	l.entries = append(l.entries, entry)
	if l.maxLen > 0 && len(l.entries) > l.maxLen {
		l.entries = l.entries[len(l.entries)-l.maxLen:]
	}
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("audit publish panicked, entry still recorded", zap.Any("recover", r))
		}
	}()

	l.bus.Emit("safety", "audit", nil, map[string]any{"entry": entry})
	l.bus.Publish("safety:audit", events.Message{Kind: "audit_entry", Payload: entry})

	return entry
}

// Filter selects a subset of entries for Query.
type Filter struct {
	Capability string
	Actor      Actor
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Query returns matching entries, newest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.Capability != "" && e.Capability != f.Capability {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Recent returns the n most recent entries.
func (l *Log) Recent(n int) []Entry {
	return l.Query(Filter{Limit: n})
}

// Count returns the total number of retained entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// sanitizeArgs recursively replaces values for keys in sensitiveKeys with
// redactedValue, walking nested maps. It is idempotent: sanitizing an
// already-sanitized map leaves it unchanged. String values that survive
// key-based redaction are additionally scrubbed for embedded secrets
// (bearer tokens, API keys, private key blocks, ...) that can appear
// inside a free-text value under an innocuous key, e.g. a captured
// command line or log excerpt.
func sanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = sanitizeArgs(val)
		case string:
			out[k] = security.Sanitize(val)
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}
