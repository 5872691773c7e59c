// Package safety implements the classify-gate pipeline for proposed
// side-effects: a static (capability, operation) lookup table and a
// config-driven gate that turns a classification into allow/deny.
package safety

import "strings"

// Classification is the safety level attached to an action or intent.
type Classification string

const (
	Safe       Classification = "safe"
	Controlled Classification = "controlled"
	Dangerous  Classification = "dangerous"
)

// actionKey identifies a (capability, operation) pair in the classifier
// table.
type actionKey struct {
	capability string
	operation  string
}

// Action is the record a classify operation returns, carrying enough
// context for the gate and for audit recording.
type Action struct {
	Capability     string
	Operation      string
	Classification Classification
	Args           map[string]any
}

// Classifier is a pure lookup table mapping (capability, operation) to a
// classification. Unknown operations default to Controlled.
type Classifier struct {
	table map[actionKey]Classification
}

// NewClassifier seeds the classifier with the worker-API operation
// classifications named in the external interface contract.
func NewClassifier() *Classifier {
	c := &Classifier{table: make(map[actionKey]Classification)}
	c.Register("sprites", "list_sprites", Safe)
	c.Register("sprites", "get_sprite", Safe)
	c.Register("sprites", "fetch_logs", Safe)
	c.Register("sprites", "wake", Controlled)
	c.Register("sprites", "sleep", Controlled)
	c.Register("sprites", "exec", Dangerous)
	c.Register("sprites", "run_task", Controlled)
	c.Register("fly", "deploy", Dangerous)
	return c
}

// Register adds or overwrites a (capability, operation) classification.
// Registration is expected at startup; the table is read-mostly during
// steady state.
func (c *Classifier) Register(capability, operation string, classification Classification) {
	c.table[actionKey{capability, operation}] = classification
}

// Classify returns the classification and action record for a
// (capability, operation) pair, with args attached for audit purposes.
func (c *Classifier) Classify(capability, operation string, args map[string]any) Action {
	classification, ok := c.table[actionKey{capability, operation}]
	if !ok {
		classification = Controlled
	}
	return Action{Capability: capability, Operation: operation, Classification: classification, Args: args}
}

// ClassifyIntentKind classifies an intent by kind alone, for intents
// that don't carry an explicit (capability, operation) payload:
// maintenance intents are safe, inquiries are controlled, and bare
// actions with an unknown operation are controlled. intent.Pipeline does
// not call it; its kind-based tier uses the intent kind registry's
// default classification instead.
func ClassifyIntentKind(kind string) Classification {
	switch strings.ToLower(kind) {
	case "maintenance":
		return Safe
	case "inquiry":
		return Controlled
	default:
		return Controlled
	}
}

// criticalCommandPrefixes mutate system/network state in ways that are
// hard or impossible to roll back.
var criticalCommandPrefixes = []string{
	"rm -", "rm ", "dd if=", "dd ", "mkfs", "fdisk", "parted", "shutdown",
	"reboot", "poweroff", "iptables", "nft flush", "userdel",
}

// controlledCommandPrefixes mutate state but are ordinarily reversible.
var controlledCommandPrefixes = []string{
	"systemctl restart", "systemctl stop", "systemctl start", "service ",
	"apt install", "apt remove", "apt upgrade", "apt-get install", "apt-get remove",
	"yum install", "yum remove", "dnf install", "dnf remove",
	"pip install", "npm install", "npm uninstall",
	"chmod", "chown", "mv ", "cp ", "sed -i", "truncate",
}

// ClassifyCommand applies a command-text heuristic, used as a second
// fallback tier (after the (capability, operation) table) when an
// intent's payload carries a raw shell command string instead of a
// registered operation name. Empty commands classify as Controlled; a
// non-empty command that matches neither prefix list classifies as
// Safe.
func ClassifyCommand(command string) Classification {
	line := strings.TrimSpace(strings.ToLower(command))
	if line == "" {
		return Controlled
	}
	for _, p := range criticalCommandPrefixes {
		if strings.HasPrefix(line, p) {
			return Dangerous
		}
	}
	for _, p := range controlledCommandPrefixes {
		if strings.HasPrefix(line, p) {
			return Controlled
		}
	}
	return Safe
}
