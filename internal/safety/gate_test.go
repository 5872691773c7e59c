package safety

import "testing"

func TestGateRuleTable(t *testing.T) {
	cases := []struct {
		name  string
		cls   Classification
		g     Guardrails
		want  Decision
	}{
		{"safe always allows", Safe, Guardrails{}, DecisionAllow},
		{"controlled denied when not allowed", Controlled, Guardrails{AllowControlled: false}, DecisionDenyNotPermitted},
		{"controlled allowed without approval requirement", Controlled, Guardrails{AllowControlled: true, RequireApprovalForControlled: false}, DecisionAllow},
		{"controlled needs approval", Controlled, Guardrails{AllowControlled: true, RequireApprovalForControlled: true}, DecisionDenyApprovalRequired},
		{"dangerous denied when not allowed", Dangerous, Guardrails{AllowDangerous: false}, DecisionDenyNotPermitted},
		{"dangerous never auto-approves", Dangerous, Guardrails{AllowDangerous: true}, DecisionDenyApprovalRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Check(Action{Classification: tc.cls}, tc.g, "")
			if v.Decision != tc.want {
				t.Errorf("expected %s, got %s (%s)", tc.want, v.Decision, v.Reason)
			}
		})
	}
}

func TestAllowlistedRepoBypassesApproval(t *testing.T) {
	g := Guardrails{AllowControlled: true, RequireApprovalForControlled: true, AutoApproveRepos: []string{"owner/repo"}}

	v := Check(Action{Classification: Controlled}, g, "owner/repo")
	if v.Decision != DecisionAllow {
		t.Fatalf("expected allow for allowlisted repo, got %s", v.Decision)
	}
	if v.Reason != "auto-approved (allowlisted repo)" {
		t.Fatalf("expected allowlist reason, got %q", v.Reason)
	}

	v = Check(Action{Classification: Controlled}, g, "owner/other")
	if v.Decision != DecisionDenyApprovalRequired {
		t.Fatalf("expected non-allowlisted repo to still require approval, got %s", v.Decision)
	}
}
