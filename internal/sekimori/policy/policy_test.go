package policy_test

import (
	"testing"

	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
)

func TestDecide_NoPreferences(t *testing.T) {
	tests := []struct {
		name             string
		score            int
		category         policy.RiskCategory
		requiresApproval bool
		autoApprove      bool
	}{
		{"below both thresholds", 15, policy.RiskLow, false, true},
		{"between thresholds", 25, policy.RiskLow, false, false},
		{"at approval threshold", 30, policy.RiskLow, true, false},
		{"high score", 70, policy.RiskHigh, true, false},
		{"critical score", 90, policy.RiskCritical, true, false},
		{"zero score", 0, policy.RiskLow, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := policy.Decide(tt.score, tt.category, nil)
			if out.RequiresApproval != tt.requiresApproval {
				t.Errorf("RequiresApproval = %v, want %v", out.RequiresApproval, tt.requiresApproval)
			}
			if out.AutoApprove != tt.autoApprove {
				t.Errorf("AutoApprove = %v, want %v", out.AutoApprove, tt.autoApprove)
			}
		})
	}
}

func TestDecide_WithPreferences(t *testing.T) {
	prefs := &policy.Preferences{
		UserID:              "alice",
		AutoApproveLowRisk:  true,
		AutoApproveHighRisk: false,
		MaxRiskThreshold:    50,
	}

	// High risk with the flag off: approval required; score 70 is above
	// the user's 50 ceiling, so no auto-approval either.
	out := policy.Decide(70, policy.RiskHigh, prefs)
	if !out.RequiresApproval {
		t.Error("expected approval required for high risk with flag off")
	}
	if out.AutoApprove {
		t.Error("expected no auto-approval at score 70 with ceiling 50")
	}

	// Low risk with the flag on: no approval needed, and score 10 is
	// under the ceiling.
	out = policy.Decide(10, policy.RiskLow, prefs)
	if out.RequiresApproval {
		t.Error("expected no approval required for low risk with flag on")
	}
	if !out.AutoApprove {
		t.Error("expected auto-approval at score 10 with ceiling 50")
	}

	// The numeric ceiling applies even when the category flag demands
	// review: both fields are reported independently.
	out = policy.Decide(40, policy.RiskHigh, prefs)
	if !out.RequiresApproval {
		t.Error("expected approval required")
	}
	if !out.AutoApprove {
		t.Error("expected auto-approve under the numeric ceiling")
	}
}

func TestDecide_UnknownCategoryFailsClosed(t *testing.T) {
	prefs := &policy.Preferences{UserID: "alice", MaxRiskThreshold: 90}
	out := policy.Decide(10, policy.RiskCategory("BANANA"), prefs)
	if !out.RequiresApproval {
		t.Error("unknown category must require approval")
	}
}

func TestDecide_Deterministic(t *testing.T) {
	prefs := &policy.Preferences{UserID: "alice", AutoApproveMediumRisk: true, MaxRiskThreshold: 30}
	first := policy.Decide(42, policy.RiskMedium, prefs)
	for i := 0; i < 100; i++ {
		if got := policy.Decide(42, policy.RiskMedium, prefs); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestTimeoutMinutes(t *testing.T) {
	tests := []struct {
		category policy.RiskCategory
		want     int
	}{
		{policy.RiskLow, 5},
		{policy.RiskMedium, 15},
		{policy.RiskHigh, 30},
		{policy.RiskCritical, 60},
		{policy.RiskCategory("???"), 15},
	}
	for _, tt := range tests {
		if got := policy.TimeoutMinutes(tt.category); got != tt.want {
			t.Errorf("TimeoutMinutes(%s) = %d, want %d", tt.category, got, tt.want)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	if got := policy.PriorityFor(policy.RiskCritical); got != policy.PriorityCritical {
		t.Errorf("PriorityFor(CRITICAL) = %s", got)
	}
	if got := policy.PriorityFor(policy.RiskCategory("???")); got != policy.PriorityMedium {
		t.Errorf("PriorityFor(unknown) = %s, want medium", got)
	}
}

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		action string
		want   policy.ActionCategory
	}{
		{"file.delete", policy.CategoryFile},
		{"open_folder", policy.CategoryFile},
		{"network.connect", policy.CategoryNetwork},
		{"browser.navigate", policy.CategoryBrowser},
		{"open_url", policy.CategoryBrowser},
		{"launch_application", policy.CategoryApplication},
		{"grant_permission", policy.CategorySecurity},
		{"reboot", policy.CategorySystem},
		// "file" outranks "web": rules are checked in order.
		{"web_file_download", policy.CategoryFile},
	}
	for _, tt := range tests {
		if got := policy.ClassifyAction(tt.action); got != tt.want {
			t.Errorf("ClassifyAction(%q) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		category policy.RiskCategory
		verdict  policy.Verdict
		want     int
	}{
		{policy.RiskLow, policy.VerdictApprove, 85},     // 50+20+15
		{policy.RiskLow, policy.VerdictReject, 55},      // 50+20-15
		{policy.RiskCritical, policy.VerdictReject, 45}, // 50-20+15
		{policy.RiskCritical, policy.VerdictApprove, 15},
		{policy.RiskMedium, policy.VerdictModify, 60}, // no direction bonus
	}
	for _, tt := range tests {
		if got := policy.Confidence(tt.category, tt.verdict); got != tt.want {
			t.Errorf("Confidence(%s, %s) = %d, want %d", tt.category, tt.verdict, got, tt.want)
		}
	}
}

func TestParseRiskCategory(t *testing.T) {
	if c, ok := policy.ParseRiskCategory(" high "); !ok || c != policy.RiskHigh {
		t.Errorf("ParseRiskCategory(high) = %s, %v", c, ok)
	}
	if _, ok := policy.ParseRiskCategory("extreme"); ok {
		t.Error("expected extreme to be rejected")
	}
}

func TestParseVerdict(t *testing.T) {
	if v, ok := policy.ParseVerdict("APPROVE"); !ok || v != policy.VerdictApprove {
		t.Errorf("ParseVerdict(APPROVE) = %s, %v", v, ok)
	}
	if _, ok := policy.ParseVerdict("deny"); ok {
		t.Error("expected deny to be rejected")
	}
}

func TestPreferencesValidate(t *testing.T) {
	p := &policy.Preferences{UserID: "alice", MaxRiskThreshold: 120}
	p.ApplyDefaults()
	if err := p.Validate(); err == nil {
		t.Error("expected error for threshold above 100")
	}

	p = &policy.Preferences{MaxRiskThreshold: 20}
	p.ApplyDefaults()
	if err := p.Validate(); err == nil {
		t.Error("expected error for empty user_id")
	}

	p = &policy.Preferences{UserID: "alice", MaxRiskThreshold: 20}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if p.PreferredApprovalMethod != policy.MethodDesktop {
		t.Errorf("default method = %s, want desktop", p.PreferredApprovalMethod)
	}
}
