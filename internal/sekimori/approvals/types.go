// Package approvals implements the Sekimori request ledger.
//
// Every privileged action an agent proposes becomes an ApprovalRequest
// here.  The ledger owns the lifecycle state machine
//
//	pending -> approved | rejected | expired | cancelled
//
// and is the only component permitted to mutate a request's status.  All
// four right-hand states are terminal; a request reaches exactly one of
// them, exactly once, no matter how many callers race on it.
package approvals

import (
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
)

// Status represents the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired || s == StatusCancelled
}

// ErrNotFound is returned when no request exists for the given ID.
var ErrNotFound = errors.New("approval request not found")

// ErrInvalidInput marks caller input errors (missing action, unknown
// verdict, empty reason).  Wrapped with detail at each call site.
var ErrInvalidInput = errors.New("invalid input")

// InvalidStateError is returned when an operation requires the request to
// be pending but it has already reached a terminal state.
type InvalidStateError struct {
	ID     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("approval request %s is already %s and cannot be changed", e.ID, e.Status)
}

// Request represents one proposed privileged action awaiting or having
// received a decision.
type Request struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	RiskScore    int                 `json:"risk_score"`
	RiskCategory policy.RiskCategory `json:"risk_category"`
	Reasoning    string              `json:"reasoning,omitempty"`
	Factors      []string            `json:"factors,omitempty"`

	RequiresApproval bool `json:"requires_approval"`
	AutoApprove      bool `json:"auto_approve"`

	Status   Status                `json:"status"`
	Priority policy.Priority       `json:"priority"`
	Category policy.ActionCategory `json:"category"`

	// TimeoutMinutes is derived from the risk category;
	// ExpiresAt = CreatedAt + TimeoutMinutes.
	TimeoutMinutes int       `json:"timeout_minutes"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	UserID   string `json:"user_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Decision is the outcome of a ruling on a request.  Approve and reject
// rulings are terminal; modify rulings are advisory and leave the request
// pending.  Auto-approved requests get a synthesized Decision at creation.
type Decision struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Verdict   policy.Verdict `json:"decision"`
	Reason    string         `json:"reason"`
	// Confidence is derived from the request's risk category and the
	// verdict taken (policy.Confidence); it is never user-supplied.
	Confidence             int            `json:"confidence"`
	SuggestedModifications map[string]any `json:"suggested_modifications,omitempty"`
	UserID                 string         `json:"user_id,omitempty"`
	CreatedAt              time.Time      `json:"timestamp"`
}

// Stats aggregates the ledger for observability.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	// MeanRiskScore averages over all requests ever created.
	MeanRiskScore float64 `json:"mean_risk_score"`
	// MeanDecisionLatencySeconds averages decision.timestamp - createdAt
	// across all requests with a terminal ruling (approved or rejected).
	MeanDecisionLatencySeconds float64 `json:"mean_decision_latency_seconds"`
	Decided                    int     `json:"decided"`
}
