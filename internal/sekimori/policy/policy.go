// Package policy provides the Sekimori policy evaluator.
//
// The evaluator turns a risk assessment (produced by the oracle) and an
// optional per-user preference record into the approval decision for a
// proposed action: whether human sign-off is required and whether the
// request may be auto-approved at creation time.  Evaluation is purely
// deterministic -- no LLM involvement, no I/O, no clock.
package policy

import "strings"

// RiskCategory is the coarse bucket derived from a 0-100 risk score.
type RiskCategory string

const (
	RiskLow      RiskCategory = "LOW"      // score 0-30
	RiskMedium   RiskCategory = "MEDIUM"   // score 31-60
	RiskHigh     RiskCategory = "HIGH"     // score 61-80
	RiskCritical RiskCategory = "CRITICAL" // score 81-100
)

// ParseRiskCategory normalises s into a known RiskCategory.
// The second return value is false when s is not one of the four categories.
func ParseRiskCategory(s string) (RiskCategory, bool) {
	switch RiskCategory(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	}
	return "", false
}

// Priority is the handling priority derived from the risk category.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ActionCategory is the coarse classification of what an action touches.
type ActionCategory string

const (
	CategorySystem      ActionCategory = "system"
	CategoryFile        ActionCategory = "file"
	CategoryNetwork     ActionCategory = "network"
	CategoryBrowser     ActionCategory = "browser"
	CategoryApplication ActionCategory = "application"
	CategorySecurity    ActionCategory = "security"
)

// Verdict is the direction of a ruling on a pending request.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	// VerdictModify is advisory: the approver wants the action changed
	// before ruling.  It does not terminate the request.
	VerdictModify Verdict = "modify"
)

// ParseVerdict normalises s into a known Verdict.
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictApprove:
		return VerdictApprove, true
	case VerdictReject:
		return VerdictReject, true
	case VerdictModify:
		return VerdictModify, true
	}
	return "", false
}

// Outcome is the result of evaluating policy for one assessment.
// The two fields are independent: a request can require approval without
// qualifying for auto-approval (the common case), or skip both (trivial
// actions below every threshold).
type Outcome struct {
	RequiresApproval bool
	AutoApprove      bool
}

// Default thresholds applied when the user has no preference record.
const (
	// DefaultApprovalThreshold is the risk score at or above which a
	// request requires human approval.
	DefaultApprovalThreshold = 30
	// DefaultAutoApproveThreshold is the risk score below which a request
	// is auto-approved.
	DefaultAutoApproveThreshold = 20
)

// AutoApproveConfidence is the fixed confidence recorded on the decision
// synthesized for an auto-approved request.
const AutoApproveConfidence = 95

// Decide combines a risk score and category with an optional preference
// record. Pass prefs == nil when the user has no stored preferences.
//
// An unrecognised category fails closed: approval is always required.
func Decide(score int, category RiskCategory, prefs *Preferences) Outcome {
	if prefs == nil {
		return Outcome{
			RequiresApproval: score >= DefaultApprovalThreshold,
			AutoApprove:      score < DefaultAutoApproveThreshold,
		}
	}

	out := Outcome{
		// The numeric ceiling applies independently of the per-category
		// flags: it is the user's explicit risk budget for skipping review.
		AutoApprove: score < prefs.MaxRiskThreshold,
	}

	flag, known := prefs.AutoApproveFor(category)
	if !known {
		out.RequiresApproval = true
		return out
	}
	out.RequiresApproval = !flag
	return out
}

// TimeoutMinutes returns how long a pending request of the given category
// stays decidable before it expires.  Unknown categories fall back to the
// medium window; the approval requirement itself never falls open.
func TimeoutMinutes(category RiskCategory) int {
	switch category {
	case RiskLow:
		return 5
	case RiskMedium:
		return 15
	case RiskHigh:
		return 30
	case RiskCritical:
		return 60
	default:
		return 15
	}
}

// PriorityFor maps a risk category to a handling priority.
func PriorityFor(category RiskCategory) Priority {
	switch category {
	case RiskLow:
		return PriorityLow
	case RiskMedium:
		return PriorityMedium
	case RiskHigh:
		return PriorityHigh
	case RiskCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// classifyRules is evaluated in order; the first group with a matching
// substring wins.
var classifyRules = []struct {
	category ActionCategory
	keywords []string
}{
	{CategoryFile, []string{"file", "folder", "directory"}},
	{CategoryNetwork, []string{"network", "internet"}},
	{CategoryBrowser, []string{"browser", "web", "url"}},
	{CategoryApplication, []string{"app", "application", "program"}},
	{CategorySecurity, []string{"security", "permission", "access"}},
}

// ClassifyAction buckets an action identifier by inspecting it for known
// substrings.  Actions matching nothing are classified as system actions.
func ClassifyAction(action string) ActionCategory {
	lower := strings.ToLower(action)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategorySystem
}

// Confidence computes the heuristic 0-100 confidence recorded on a decision.
//
// Base 50, adjusted by category severity (LOW +20, MEDIUM +10, HIGH -10,
// CRITICAL -20), then +-15 depending on whether the decision direction
// matches the risk level: approving low/medium risk or rejecting
// high/critical risk is the expected direction and raises confidence, the
// opposite direction lowers it.  Modify rulings take no direction bonus.
func Confidence(category RiskCategory, verdict Verdict) int {
	c := 50

	switch category {
	case RiskLow:
		c += 20
	case RiskMedium:
		c += 10
	case RiskHigh:
		c -= 10
	case RiskCritical:
		c -= 20
	}

	lowish := category == RiskLow || category == RiskMedium
	switch verdict {
	case VerdictApprove:
		if lowish {
			c += 15
		} else {
			c -= 15
		}
	case VerdictReject:
		if lowish {
			c -= 15
		} else {
			c += 15
		}
	}

	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return c
}
