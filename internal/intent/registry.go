package intent

import "sync"

// KindDefinition is the registry record for one intent kind.
type KindDefinition struct {
	Name                 string
	Description          string
	RequiredPayloadFields []string
	DefaultClassification Classification
}

// Registry is the process-wide table mapping kind name to its
// definition. ValidatePayload reports missing required fields; nothing
// in the store or pipeline rejects or logs an intent for them, so
// pluggable kinds can evolve without breaking existing intents.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]KindDefinition
}

// NewRegistry seeds the registry with the built-in kinds: action,
// inquiry, maintenance.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]KindDefinition)}
	r.Register(KindDefinition{
		Name:                 "action",
		Description:          "a proposed side-effecting action against a sprite or external system",
		RequiredPayloadFields: []string{"summary", "payload", "affected_resources", "expected_side_effects"},
		DefaultClassification: ClassificationControlled,
	})
	r.Register(KindDefinition{
		Name:                 "inquiry",
		Description:          "a read-only request for information requiring a bounded answer window",
		RequiredPayloadFields: []string{"what_requested", "why_needed", "scope_of_impact", "expiration"},
		DefaultClassification: ClassificationControlled,
	})
	r.Register(KindDefinition{
		Name:                 "maintenance",
		Description:          "a routine housekeeping intent, auto-approved by default",
		RequiredPayloadFields: []string{"summary", "payload"},
		DefaultClassification: ClassificationSafe,
	})
	return r
}

// Register adds or overwrites a kind definition.
func (r *Registry) Register(def KindDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[def.Name] = def
}

// Get looks up a kind's definition.
func (r *Registry) Get(kind string) (KindDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.kinds[kind]
	return def, ok
}

// ValidatePayload reports which required fields, if any, are missing
// from payload for the given kind. A nil/empty return means the
// payload satisfies the kind's declared requirements (or the kind
// isn't registered, in which case validation passes vacuously).
func (r *Registry) ValidatePayload(kind string, payload map[string]any) []string {
	def, ok := r.Get(kind)
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range def.RequiredPayloadFields {
		if _, present := payload[field]; !present {
			missing = append(missing, field)
		}
	}
	return missing
}

// DefaultClassification returns the kind's default classification, or
// Controlled when the kind isn't registered.
func (r *Registry) DefaultClassification(kind string) Classification {
	def, ok := r.Get(kind)
	if !ok {
		return ClassificationControlled
	}
	return def.DefaultClassification
}
