package intent

import "testing"

func TestValidatePayloadReportsMissingFields(t *testing.T) {
	r := NewRegistry()
	missing := r.ValidatePayload("inquiry", map[string]any{"what_requested": "x"})
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing fields, got %v", missing)
	}
}

func TestValidatePayloadPassesVacuouslyForUnknownKind(t *testing.T) {
	r := NewRegistry()
	if missing := r.ValidatePayload("unregistered", nil); missing != nil {
		t.Fatalf("expected nil missing fields for unknown kind, got %v", missing)
	}
}

func TestRegisterAddsPluggableKind(t *testing.T) {
	r := NewRegistry()
	r.Register(KindDefinition{Name: "escalation", RequiredPayloadFields: []string{"severity"}, DefaultClassification: ClassificationDangerous})
	def, ok := r.Get("escalation")
	if !ok {
		t.Fatal("expected escalation kind to be registered")
	}
	if def.DefaultClassification != ClassificationDangerous {
		t.Fatalf("expected dangerous default, got %s", def.DefaultClassification)
	}
}

func TestFactoriesEnforceRequiredFields(t *testing.T) {
	if _, err := NewAction(Source{}, "", nil, nil, nil); err == nil {
		t.Fatal("expected error for empty summary")
	}
	if _, err := NewAction(Source{}, "deploy", nil, nil, []string{"x"}); err == nil {
		t.Fatal("expected error for missing affected_resources")
	}
	if _, err := NewInquiry(Source{}, "", "", "", nil); err == nil {
		t.Fatal("expected error for missing what_requested")
	}
}

func TestNewTaskAutoFillsAffectedResources(t *testing.T) {
	in, err := NewTask(Source{Type: SourceOperator, ID: "op"}, "builder-1", "owner/repo", "lint", "run the linter", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"sprite:builder-1", "repo:owner/repo"}
	if len(in.AffectedResources) != 2 || in.AffectedResources[0] != want[0] || in.AffectedResources[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, in.AffectedResources)
	}
	if in.Payload["capability"] != "sprites" || in.Payload["operation"] != "run_task" {
		t.Fatalf("expected task payload shape, got %+v", in.Payload)
	}
}
