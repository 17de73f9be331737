package policy

import (
	"fmt"
	"strings"
)

// ApprovalMethod is the surface on which the user prefers to receive
// approval prompts.
type ApprovalMethod string

const (
	MethodMobile  ApprovalMethod = "mobile"
	MethodDesktop ApprovalMethod = "desktop"
	MethodVoice   ApprovalMethod = "voice"
	MethodWeb     ApprovalMethod = "web"
)

// RiskTolerance is the user's self-declared appetite label.  It is carried
// for notification/UX consumers; Decide never reads it.
type RiskTolerance string

const (
	ToleranceConservative RiskTolerance = "conservative"
	ToleranceModerate     RiskTolerance = "moderate"
	ToleranceAggressive   RiskTolerance = "aggressive"
)

// NotificationSettings selects delivery channels for approval prompts.
type NotificationSettings struct {
	Email bool `json:"email" yaml:"email"`
	Push  bool `json:"push" yaml:"push"`
	SMS   bool `json:"sms" yaml:"sms"`
}

// WorkingHours describes when the user is reachable for approvals.
type WorkingHours struct {
	Start    string `json:"start,omitempty" yaml:"start"`
	End      string `json:"end,omitempty" yaml:"end"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
}

// Preferences is the per-user policy record.  It is owned by the user's
// identity and only referenced by the evaluator, never mutated.
type Preferences struct {
	UserID string `json:"user_id"`

	// Per-category auto-approval flags.  A true flag removes the human
	// approval requirement for that category.
	AutoApproveLowRisk      bool `json:"auto_approve_low_risk"`
	AutoApproveMediumRisk   bool `json:"auto_approve_medium_risk"`
	AutoApproveHighRisk     bool `json:"auto_approve_high_risk"`
	AutoApproveCriticalRisk bool `json:"auto_approve_critical_risk"`

	// MaxRiskThreshold is the numeric score ceiling (0-100) below which a
	// request is auto-approved regardless of the category flags.
	MaxRiskThreshold int `json:"max_risk_threshold"`

	PreferredApprovalMethod ApprovalMethod       `json:"preferred_approval_method"`
	Notifications           NotificationSettings `json:"notification_settings"`
	WorkingHours            WorkingHours         `json:"working_hours"`
	RiskTolerance           RiskTolerance        `json:"risk_tolerance"`
}

// AutoApproveFor returns the auto-approve flag for the given category.
// The second return value is false for unrecognised categories.
func (p *Preferences) AutoApproveFor(category RiskCategory) (flag, known bool) {
	switch category {
	case RiskLow:
		return p.AutoApproveLowRisk, true
	case RiskMedium:
		return p.AutoApproveMediumRisk, true
	case RiskHigh:
		return p.AutoApproveHighRisk, true
	case RiskCritical:
		return p.AutoApproveCriticalRisk, true
	}
	return false, false
}

// Validate checks the record for structural correctness and returns the
// first problem found.
func (p *Preferences) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user_id must not be empty")
	}
	if p.MaxRiskThreshold < 0 || p.MaxRiskThreshold > 100 {
		return fmt.Errorf("max_risk_threshold must be 0-100, got %d", p.MaxRiskThreshold)
	}
	switch p.PreferredApprovalMethod {
	case MethodMobile, MethodDesktop, MethodVoice, MethodWeb:
	default:
		return fmt.Errorf("unknown preferred_approval_method %q", p.PreferredApprovalMethod)
	}
	switch p.RiskTolerance {
	case ToleranceConservative, ToleranceModerate, ToleranceAggressive:
	default:
		return fmt.Errorf("unknown risk_tolerance %q", p.RiskTolerance)
	}
	return nil
}

// ApplyDefaults fills zero-valued UX fields with sensible defaults so a
// partial upsert still validates.
func (p *Preferences) ApplyDefaults() {
	if p.PreferredApprovalMethod == "" {
		p.PreferredApprovalMethod = MethodDesktop
	}
	if p.RiskTolerance == "" {
		p.RiskTolerance = ToleranceModerate
	}
}
