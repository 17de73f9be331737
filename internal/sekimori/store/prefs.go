package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
)

// ErrNoPreferences is returned by GetPreferences when the user has no
// stored record.  Callers fall back to the default policy thresholds.
var ErrNoPreferences = errors.New("no preferences stored for user")

// UpsertPreferences inserts or replaces the preference record for a user.
// The record must already be validated.
func (s *Store) UpsertPreferences(ctx context.Context, p *policy.Preferences) error {
	notifyJSON, err := json.Marshal(p.Notifications)
	if err != nil {
		return fmt.Errorf("failed to marshal notification settings: %w", err)
	}
	hoursJSON, err := json.Marshal(p.WorkingHours)
	if err != nil {
		return fmt.Errorf("failed to marshal working hours: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (
			user_id, auto_approve_low, auto_approve_medium, auto_approve_high,
			auto_approve_critical, max_risk_threshold, approval_method,
			notify_json, working_hours_json, risk_tolerance, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			auto_approve_low      = excluded.auto_approve_low,
			auto_approve_medium   = excluded.auto_approve_medium,
			auto_approve_high     = excluded.auto_approve_high,
			auto_approve_critical = excluded.auto_approve_critical,
			max_risk_threshold    = excluded.max_risk_threshold,
			approval_method       = excluded.approval_method,
			notify_json           = excluded.notify_json,
			working_hours_json    = excluded.working_hours_json,
			risk_tolerance        = excluded.risk_tolerance,
			updated_at            = excluded.updated_at
	`,
		p.UserID,
		p.AutoApproveLowRisk, p.AutoApproveMediumRisk,
		p.AutoApproveHighRisk, p.AutoApproveCriticalRisk,
		p.MaxRiskThreshold, string(p.PreferredApprovalMethod),
		string(notifyJSON), string(hoursJSON), string(p.RiskTolerance),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

// GetPreferences retrieves the preference record for a user.
// Returns ErrNoPreferences when none is stored.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*policy.Preferences, error) {
	p := &policy.Preferences{UserID: userID}
	var method, tolerance string
	var notifyJSON, hoursJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT auto_approve_low, auto_approve_medium, auto_approve_high,
		       auto_approve_critical, max_risk_threshold, approval_method,
		       notify_json, working_hours_json, risk_tolerance
		FROM user_preferences
		WHERE user_id = ?
	`, userID).Scan(
		&p.AutoApproveLowRisk, &p.AutoApproveMediumRisk, &p.AutoApproveHighRisk,
		&p.AutoApproveCriticalRisk, &p.MaxRiskThreshold, &method,
		&notifyJSON, &hoursJSON, &tolerance,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoPreferences, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	p.PreferredApprovalMethod = policy.ApprovalMethod(method)
	p.RiskTolerance = policy.RiskTolerance(tolerance)
	if notifyJSON.Valid && notifyJSON.String != "" {
		if err := json.Unmarshal([]byte(notifyJSON.String), &p.Notifications); err != nil {
			return nil, fmt.Errorf("failed to decode notification settings: %w", err)
		}
	}
	if hoursJSON.Valid && hoursJSON.String != "" {
		if err := json.Unmarshal([]byte(hoursJSON.String), &p.WorkingHours); err != nil {
			return nil, fmt.Errorf("failed to decode working hours: %w", err)
		}
	}

	return p, nil
}

// Preferences adapts GetPreferences to the ledger's PreferenceSource
// contract: a missing record is (nil, nil), not an error.
func (s *Store) Preferences(ctx context.Context, userID string) (*policy.Preferences, error) {
	p, err := s.GetPreferences(ctx, userID)
	if errors.Is(err, ErrNoPreferences) {
		return nil, nil
	}
	return p, err
}
