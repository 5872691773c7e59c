package intent

// ObservationType is the kind of signal a sprite process emits.
type ObservationType string

const (
	ObservationMetric         ObservationType = "metric"
	ObservationStatus         ObservationType = "status"
	ObservationAnomaly        ObservationType = "anomaly"
	ObservationRecommendation ObservationType = "recommendation"
)

// Severity is the observation's urgency band.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Observation is the typed signal a Generator maps to an intent.
// sprite.Process has no emit_observation operation, so callers build
// Observations themselves.
type Observation struct {
	SpriteID string
	Type     ObservationType
	Severity Severity
	Data     map[string]any
}

// GeneratorResult is either a produced intent or Skip.
type GeneratorResult struct {
	Intent *Intent
	Skip   bool
}

// Generator is the pluggable observation-to-intent mapping. sprite.Process
// does not call a Generator; Generate is invoked directly by its callers.
type Generator interface {
	Generate(obs Observation) (GeneratorResult, error)
}

// DefaultGenerator implements the default mapping: high/critical
// anomalies and medium-or-above recommendations become maintenance
// intents; metric and status observations, and lower-severity
// anomalies/recommendations, are skipped.
type DefaultGenerator struct{}

func (DefaultGenerator) Generate(obs Observation) (GeneratorResult, error) {
	switch obs.Type {
	case ObservationAnomaly:
		if obs.Severity == SeverityHigh || obs.Severity == SeverityCritical {
			return generatorResultFromObservation(obs)
		}
	case ObservationRecommendation:
		if obs.Severity == SeverityMedium || obs.Severity == SeverityHigh || obs.Severity == SeverityCritical {
			return generatorResultFromObservation(obs)
		}
	}
	return GeneratorResult{Skip: true}, nil
}

func generatorResultFromObservation(obs Observation) (GeneratorResult, error) {
	summary, _ := obs.Data["message"].(string)
	if summary == "" {
		summary, _ = obs.Data["description"].(string)
	}
	if summary == "" {
		summary = string(obs.Type) + " observed on " + obs.SpriteID
	}
	in, err := NewMaintenance(Source{Type: SourceSprite, ID: obs.SpriteID}, summary, map[string]any{
		"observation": obs,
	})
	if err != nil {
		return GeneratorResult{}, err
	}
	return GeneratorResult{Intent: in}, nil
}
