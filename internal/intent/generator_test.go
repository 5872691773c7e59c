package intent

import "testing"

func TestDefaultGeneratorHandlesSeverityBands(t *testing.T) {
	g := DefaultGenerator{}

	cases := []struct {
		obs      Observation
		wantSkip bool
	}{
		{Observation{Type: ObservationAnomaly, Severity: SeverityCritical, Data: map[string]any{"message": "disk full"}}, false},
		{Observation{Type: ObservationAnomaly, Severity: SeverityLow}, true},
		{Observation{Type: ObservationRecommendation, Severity: SeverityMedium, Data: map[string]any{"message": "scale up"}}, false},
		{Observation{Type: ObservationRecommendation, Severity: SeverityLow}, true},
		{Observation{Type: ObservationMetric, Severity: SeverityCritical}, true},
		{Observation{Type: ObservationStatus, Severity: SeverityCritical}, true},
	}

	for _, tc := range cases {
		result, err := g.Generate(tc.obs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Skip != tc.wantSkip {
			t.Errorf("%+v: expected skip=%v, got %v", tc.obs, tc.wantSkip, result.Skip)
		}
		if !tc.wantSkip && result.Intent == nil {
			t.Errorf("%+v: expected a generated intent", tc.obs)
		}
	}
}

func TestGeneratorUsesMessageOrDescriptionForSummary(t *testing.T) {
	g := DefaultGenerator{}
	result, err := g.Generate(Observation{Type: ObservationAnomaly, Severity: SeverityHigh, Data: map[string]any{"description": "cpu spike"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Intent.Summary != "cpu spike" {
		t.Fatalf("expected summary from description, got %q", result.Intent.Summary)
	}
}
