package exec

import (
	"encoding/json"
	"strings"
)

const eventPrefix = "LATTICE_EVENT "

// EventType is a recognized protocol event type.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventWarning    EventType = "warning"
	EventCheckpoint EventType = "checkpoint"
)

// ProtocolEvent is a recognized `LATTICE_EVENT <json>` line, decoded.
type ProtocolEvent struct {
	Type      EventType
	Data      map[string]any
	Signature string `json:"signature,omitempty"`
}

// ParseLine inspects one line of stdout. If it matches the
// `LATTICE_EVENT <json>` wire format and carries a recognized type, it
// returns the decoded event and ok=true. Any other line — including a
// malformed or unrecognized-type LATTICE_EVENT line — passes through
// as plain text (ok=false).
func ParseLine(line string) (ProtocolEvent, bool) {
	if !strings.HasPrefix(line, eventPrefix) {
		return ProtocolEvent{}, false
	}
	raw := strings.TrimPrefix(line, eventPrefix)

	var envelope struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return ProtocolEvent{}, false
	}

	switch EventType(envelope.Type) {
	case EventProgress, EventWarning, EventCheckpoint:
		return ProtocolEvent{Type: EventType(envelope.Type), Data: envelope.Data}, true
	default:
		return ProtocolEvent{}, false
	}
}
