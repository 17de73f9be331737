// Package oracle provides the risk-scoring collaborator for Sekimori.
//
// The oracle is consulted twice in a request's life: once at creation time
// to produce the numeric risk assessment that drives the policy evaluator,
// and optionally later for an advisory approve/reject/modify opinion on a
// pending request.  Both calls go to an OpenAI-compatible chat completions
// endpoint in JSON mode and are validated against embedded JSON Schemas
// before anything downstream trusts a single field.
//
// Failure is always explicit: every error path surfaces one of the sentinel
// errors below.  Callers must never substitute a guessed risk level for a
// failed assessment -- an unassessed privileged action is a hard error, not
// a LOW-risk one.
package oracle

import (
	"context"
	"errors"

	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
)

// ErrUnavailable is returned when the upstream oracle cannot be reached or
// answers with a server-side failure after retries are exhausted.
var ErrUnavailable = errors.New("oracle: upstream unavailable")

// ErrRateLimited is returned when the upstream reports a rate-limit or
// quota condition (HTTP 429) that retries did not clear.
var ErrRateLimited = errors.New("oracle: upstream rate limit exceeded")

// ErrMalformed is returned when the model answers but the content cannot be
// interpreted as a valid assessment or recommendation (JSON parse failure,
// schema violation, out-of-range score, unknown category).
var ErrMalformed = errors.New("oracle: malformed response from model")

// ErrAuth is returned on authentication or authorization failures (HTTP
// 401/403).  Never retried.
var ErrAuth = errors.New("oracle: authentication failed")

// IsOracleError reports whether err originates from the oracle layer.
func IsOracleError(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrAuth)
}

// AssessInput describes the proposed action to be scored.
type AssessInput struct {
	// Action is the short action identifier, e.g. "file.delete".
	Action string
	// Description is the human-readable explanation of the action.
	Description string
	// Parameters is the action's opaque structured payload.
	Parameters map[string]any
	// Context is situational context (active window, session, device ...).
	Context map[string]any
}

// Assessment is the validated result of a risk-scoring call.
type Assessment struct {
	// RiskScore is 0-100 inclusive.
	RiskScore int `json:"risk_score"`
	// RiskCategory is the bucket the model placed the score in.
	RiskCategory policy.RiskCategory `json:"risk_category"`
	// RequiresApproval is the model's recommendation; the policy evaluator,
	// not the model, makes the binding call.
	RequiresApproval bool `json:"requires_approval"`
	// AutoApprove is the model's auto-approval recommendation, advisory
	// for the same reason.
	AutoApprove bool `json:"auto_approve"`
	// Reasoning is the model's free-text justification.
	Reasoning string `json:"reasoning"`
	// Factors lists the contributing risk factors the model identified.
	Factors []string `json:"factors,omitempty"`
}

// RecommendInput carries the full state of an existing request for the
// advisory second opinion.
type RecommendInput struct {
	Action       string
	Description  string
	Parameters   map[string]any
	Context      map[string]any
	RiskScore    int
	RiskCategory policy.RiskCategory
}

// Recommendation is the validated advisory opinion on a pending request.
// It is never authoritative over the policy evaluator's decision.
type Recommendation struct {
	Recommendation policy.Verdict `json:"recommendation"`
	// Confidence is the model's 0-100 certainty in its recommendation.
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	// SuggestedModifications is populated when the recommendation is
	// "modify": the changes that would make the action acceptable.
	SuggestedModifications map[string]any `json:"suggested_modifications,omitempty"`
}

// Provider scores proposed actions and produces advisory recommendations.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must return one of the package sentinel errors (possibly wrapped) on
// every failure path.
type Provider interface {
	// Assess scores the proposed action.
	Assess(ctx context.Context, in AssessInput) (*Assessment, error)
	// Recommend produces an advisory opinion on an existing request.
	Recommend(ctx context.Context, in RecommendInput) (*Recommendation, error)
}
