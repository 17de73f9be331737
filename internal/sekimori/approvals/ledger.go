package approvals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Sekimori/common/trace"
	"github.com/bdobrica/Sekimori/internal/sekimori/oracle"
	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
)

// PreferenceSource looks up the per-user policy record.  A user without a
// stored record yields (nil, nil) so the default thresholds apply.
type PreferenceSource interface {
	Preferences(ctx context.Context, userID string) (*policy.Preferences, error)
}

// Broadcaster receives ledger lifecycle events.  Delivery is best-effort
// observability: the ledger never depends on it and implementations must
// not block.
type Broadcaster interface {
	RequestCreated(req *Request)
	RequestDecided(req *Request, dec *Decision)
	RequestCancelled(req *Request)
	RequestExpired(req *Request)
}

// AuditSink records lifecycle events durably.  Matches store.Store.
type AuditSink interface {
	WriteAudit(ctx context.Context, traceID, actor, action, requestID, result string, payload map[string]any, errorMsg string) error
}

// Ledger is the authoritative store of approval requests and decisions.
//
// Terminal transitions are compare-and-swap UPDATEs conditioned on
// status = 'pending'; together with the store's single shared SQLite
// connection this serializes racing writers so exactly one wins.  Expiry is
// applied lazily before every status observation and additionally by the
// periodic ExpireStale sweep, so a request is never decidable at or after
// its deadline regardless of which path observes it first.
type Ledger struct {
	db     *sql.DB
	oracle oracle.Provider
	prefs  PreferenceSource
	events Broadcaster
	audit  AuditSink
}

// Config holds the ledger's optional collaborators.
type Config struct {
	// Preferences resolves per-user policy records.  May be nil.
	Preferences PreferenceSource
	// Events receives lifecycle broadcasts.  May be nil.
	Events Broadcaster
	// Audit records lifecycle events durably.  May be nil.
	Audit AuditSink
}

// NewLedger creates a Ledger backed by the given database.
func NewLedger(db *sql.DB, provider oracle.Provider, cfg Config) *Ledger {
	return &Ledger{
		db:     db,
		oracle: provider,
		prefs:  cfg.Preferences,
		events: cfg.Events,
		audit:  cfg.Audit,
	}
}

// CreateInput describes a proposed action to be admitted into the ledger.
type CreateInput struct {
	Action      string
	Description string
	Parameters  map[string]any
	Context     map[string]any
	UserID      string
	DeviceID    string
}

// Create assesses the action, applies policy, and stores the resulting
// request.  The oracle is consulted before anything is written: on oracle
// failure the error propagates unchanged and no request exists afterwards.
//
// When policy grants auto-approval the request is stored already approved,
// together with a synthesized decision documenting the auto-approval, in
// the same transaction.  Only requests stored pending are broadcast as new.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*Request, error) {
	if strings.TrimSpace(in.Action) == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}

	// Risk assessment happens before the request exists, so the blocking
	// oracle call holds no ledger state.
	assessment, err := l.oracle.Assess(ctx, oracle.AssessInput{
		Action:      in.Action,
		Description: in.Description,
		Parameters:  in.Parameters,
		Context:     in.Context,
	})
	if err != nil {
		l.writeAudit(ctx, in.UserID, "request.create", "", "error", map[string]any{"action": in.Action}, err.Error())
		return nil, fmt.Errorf("assess risk for %q: %w", in.Action, err)
	}

	var prefs *policy.Preferences
	if l.prefs != nil && in.UserID != "" {
		prefs, err = l.prefs.Preferences(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("load preferences for %q: %w", in.UserID, err)
		}
	}

	outcome := policy.Decide(assessment.RiskScore, assessment.RiskCategory, prefs)
	now := time.Now()
	timeoutMin := policy.TimeoutMinutes(assessment.RiskCategory)

	req := &Request{
		ID:               uuid.NewString(),
		Action:           in.Action,
		Description:      in.Description,
		Parameters:       in.Parameters,
		Context:          in.Context,
		RiskScore:        assessment.RiskScore,
		RiskCategory:     assessment.RiskCategory,
		Reasoning:        assessment.Reasoning,
		Factors:          assessment.Factors,
		RequiresApproval: outcome.RequiresApproval,
		AutoApprove:      outcome.AutoApprove,
		Status:           StatusPending,
		Priority:         policy.PriorityFor(assessment.RiskCategory),
		Category:         policy.ClassifyAction(in.Action),
		TimeoutMinutes:   timeoutMin,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(timeoutMin) * time.Minute),
		UserID:           in.UserID,
		DeviceID:         in.DeviceID,
	}

	var autoDecision *Decision
	if outcome.AutoApprove {
		req.Status = StatusApproved
		autoDecision = &Decision{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			Verdict:    policy.VerdictApprove,
			Reason:     "auto-approved",
			Confidence: policy.AutoApproveConfidence,
			CreatedAt:  now,
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create transaction: %w", err)
	}
	if err := insertRequest(ctx, tx, req); err != nil {
		tx.Rollback()
		return nil, err
	}
	if autoDecision != nil {
		if err := insertDecision(ctx, tx, autoDecision); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create transaction: %w", err)
	}

	if l.events != nil {
		if req.Status == StatusPending {
			l.events.RequestCreated(req)
		} else if autoDecision != nil {
			l.events.RequestDecided(req, autoDecision)
		}
	}

	l.writeAudit(ctx, in.UserID, "request.create", req.ID, string(req.Status), map[string]any{
		"action":        req.Action,
		"risk_score":    req.RiskScore,
		"risk_category": req.RiskCategory,
		"auto_approve":  req.AutoApprove,
	}, "")

	return req, nil
}

// DecideInput describes a ruling on a pending request.
type DecideInput struct {
	RequestID              string
	Verdict                policy.Verdict
	Reason                 string
	UserID                 string
	SuggestedModifications map[string]any
}

// Decide records a ruling on a pending request.
//
// Approve and reject transition the request to its terminal state; modify
// stores an advisory decision and leaves the request pending (a later call
// must still close it).  Deciding a request that has passed its deadline
// fails with InvalidStateError even when no sweep has run yet.
func (l *Ledger) Decide(ctx context.Context, in DecideInput) (*Decision, error) {
	switch in.Verdict {
	case policy.VerdictApprove, policy.VerdictReject, policy.VerdictModify:
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, in.Verdict)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	if err := l.expireIfDue(ctx, in.RequestID); err != nil {
		return nil, err
	}

	req, err := l.Get(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		ID:                     uuid.NewString(),
		RequestID:              in.RequestID,
		Verdict:                in.Verdict,
		Reason:                 in.Reason,
		Confidence:             policy.Confidence(req.RiskCategory, in.Verdict),
		SuggestedModifications: in.SuggestedModifications,
		UserID:                 in.UserID,
		CreatedAt:              time.Now(),
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decide transaction: %w", err)
	}

	if in.Verdict == policy.VerdictModify {
		// Advisory: no status change, but the request must still be pending.
		var status Status
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM approval_requests WHERE id = ?`, in.RequestID,
		).Scan(&status)
		if err == sql.ErrNoRows {
			tx.Rollback()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, in.RequestID)
		}
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("check status: %w", err)
		}
		if status != StatusPending {
			tx.Rollback()
			return nil, &InvalidStateError{ID: in.RequestID, Status: status}
		}
	} else {
		newStatus := StatusApproved
		if in.Verdict == policy.VerdictReject {
			newStatus = StatusRejected
		}

		// Compare-and-swap: only the writer that observes 'pending' wins.
		result, err := tx.ExecContext(ctx, `
			UPDATE approval_requests
			SET status = ?
			WHERE id = ? AND status = 'pending'
		`, string(newStatus), in.RequestID)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("update request status: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("check rows affected: %w", err)
		}
		if n == 0 {
			tx.Rollback()
			// Either the ID is unknown or another writer got here first.
			current, lookupErr := l.Get(ctx, in.RequestID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, &InvalidStateError{ID: in.RequestID, Status: current.Status}
		}
		req.Status = newStatus
	}

	if err := insertDecision(ctx, tx, dec); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decide transaction: %w", err)
	}

	if l.events != nil {
		l.events.RequestDecided(req, dec)
	}

	l.writeAudit(ctx, in.UserID, "request.decide", req.ID, string(req.Status), map[string]any{
		"decision":   dec.Verdict,
		"confidence": dec.Confidence,
	}, "")

	return dec, nil
}

// Cancel withdraws a pending request.  Same precondition as Decide: the
// request must still be pending.  No decision record is synthesized -- a
// cancellation is a withdrawal, not a ruling.
func (l *Ledger) Cancel(ctx context.Context, requestID, userID string) (*Request, error) {
	if err := l.expireIfDue(ctx, requestID); err != nil {
		return nil, err
	}

	result, err := l.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'cancelled'
		WHERE id = ? AND status = 'pending'
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}

	req, getErr := l.Get(ctx, requestID)
	if getErr != nil {
		return nil, getErr
	}
	if n == 0 {
		return nil, &InvalidStateError{ID: requestID, Status: req.Status}
	}

	if l.events != nil {
		l.events.RequestCancelled(req)
	}
	l.writeAudit(ctx, userID, "request.cancel", requestID, string(StatusCancelled), nil, "")

	return req, nil
}

// Get retrieves a request by ID, applying lazy expiry first so the caller
// never observes a pending request past its deadline.
func (l *Ledger) Get(ctx context.Context, requestID string) (*Request, error) {
	if err := l.expireIfDue(ctx, requestID); err != nil {
		return nil, err
	}

	row := l.db.QueryRowContext(ctx, selectRequestSQL+` WHERE id = ?`, requestID)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// GetDecision returns the most recent decision recorded for a request.
func (l *Ledger) GetDecision(ctx context.Context, requestID string) (*Decision, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, request_id, verdict, reason, confidence, modifications_json, user_id, created_at
		FROM approval_decisions
		WHERE request_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, requestID)
	dec, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no decision for request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return dec, nil
}

// ListPending returns all pending requests, newest first, after sweeping
// due expiries.
func (l *Ledger) ListPending(ctx context.Context) ([]*Request, error) {
	if _, err := l.ExpireStale(ctx); err != nil {
		return nil, err
	}
	return l.list(ctx, ` WHERE status = 'pending' ORDER BY created_at DESC`)
}

// ListByUser returns all requests attributed to a user, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]*Request, error) {
	if _, err := l.ExpireStale(ctx); err != nil {
		return nil, err
	}
	return l.list(ctx, ` WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// Stats aggregates the ledger after sweeping due expiries.
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	if _, err := l.ExpireStale(ctx); err != nil {
		return nil, err
	}

	st := &Stats{ByStatus: make(map[Status]int)}

	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM approval_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		st.ByStatus[status] = count
		st.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var meanScore sql.NullFloat64
	if err := l.db.QueryRowContext(ctx,
		`SELECT AVG(risk_score) FROM approval_requests`).Scan(&meanScore); err != nil {
		return nil, fmt.Errorf("mean risk score: %w", err)
	}
	st.MeanRiskScore = meanScore.Float64

	// Latency averages only requests with a terminal ruling; advisory
	// modify decisions do not count as decided.
	latRows, err := l.db.QueryContext(ctx, `
		SELECT r.created_at, d.created_at
		FROM approval_requests r
		JOIN approval_decisions d ON d.request_id = r.id AND d.verdict != 'modify'
		WHERE r.status IN ('approved', 'rejected')
	`)
	if err != nil {
		return nil, fmt.Errorf("decision latencies: %w", err)
	}
	defer latRows.Close()
	var totalLatency float64
	for latRows.Next() {
		var createdAt, decidedAt time.Time
		if err := latRows.Scan(&createdAt, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan decision latency: %w", err)
		}
		totalLatency += decidedAt.Sub(createdAt).Seconds()
		st.Decided++
	}
	if err := latRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision latencies: %w", err)
	}
	if st.Decided > 0 {
		st.MeanDecisionLatencySeconds = totalLatency / float64(st.Decided)
	}

	return st, nil
}

// Recommend asks the oracle for an advisory opinion on an existing request.
// No status precondition: terminal requests may be examined too.  The
// request is never mutated and oracle failures propagate unchanged.
func (l *Ledger) Recommend(ctx context.Context, requestID string) (*oracle.Recommendation, error) {
	req, err := l.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	rec, err := l.oracle.Recommend(ctx, oracle.RecommendInput{
		Action:       req.Action,
		Description:  req.Description,
		Parameters:   req.Parameters,
		Context:      req.Context,
		RiskScore:    req.RiskScore,
		RiskCategory: req.RiskCategory,
	})
	if err != nil {
		return nil, fmt.Errorf("recommend for %s: %w", requestID, err)
	}
	return rec, nil
}

// ExpireStale transitions every pending request past its deadline to
// expired and broadcasts each transition.  Called periodically by the app
// and before every list/stats read.
func (l *Ledger) ExpireStale(ctx context.Context) ([]*Request, error) {
	now := time.Now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expiry sweep: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM approval_requests WHERE status = 'pending' AND expires_at <= ?`, now)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("find stale requests: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, fmt.Errorf("scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("iterate stale ids: %w", err)
	}

	if len(ids) == 0 {
		tx.Rollback()
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE approval_requests SET status = 'expired' WHERE status = 'pending' AND expires_at <= ?`, now); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("expire stale requests: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expiry sweep: %w", err)
	}

	var expired []*Request
	for _, id := range ids {
		row := l.db.QueryRowContext(ctx, selectRequestSQL+` WHERE id = ?`, id)
		req, err := scanRequest(row)
		if err != nil {
			slog.Warn("expiry sweep: reload expired request", "id", id, "err", err)
			continue
		}
		expired = append(expired, req)
		if l.events != nil {
			l.events.RequestExpired(req)
		}
		l.writeAudit(ctx, "", "request.expire", id, string(StatusExpired), nil, "")
	}

	return expired, nil
}

// expireIfDue applies the lazy expiry transition to a single request.
// Safe to call on unknown IDs: expiring nothing is not an error.
func (l *Ledger) expireIfDue(ctx context.Context, requestID string) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'expired'
		WHERE id = ? AND status = 'pending' AND expires_at <= ?
	`, requestID, time.Now())
	if err != nil {
		return fmt.Errorf("lazy expiry for %s: %w", requestID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		row := l.db.QueryRowContext(ctx, selectRequestSQL+` WHERE id = ?`, requestID)
		if req, scanErr := scanRequest(row); scanErr == nil && l.events != nil {
			l.events.RequestExpired(req)
		}
		l.writeAudit(ctx, "", "request.expire", requestID, string(StatusExpired), nil, "")
	}
	return nil
}

func (l *Ledger) list(ctx context.Context, clause string, args ...any) ([]*Request, error) {
	rows, err := l.db.QueryContext(ctx, selectRequestSQL+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var reqs []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return reqs, nil
}

// writeAudit records a lifecycle event, logging instead of failing: audit
// is observability, not part of the ledger's transactional guarantees.
func (l *Ledger) writeAudit(ctx context.Context, actor, action, requestID, result string, payload map[string]any, errMsg string) {
	if l.audit == nil {
		return
	}
	if err := l.audit.WriteAudit(ctx, trace.FromContext(ctx), actor, action, requestID, result, payload, errMsg); err != nil {
		slog.Warn("ledger: write audit entry", "action", action, "request", requestID, "err", err)
	}
}

// --- row plumbing ---

const selectRequestSQL = `
	SELECT id, action, description, params_json, context_json,
	       risk_score, risk_category, requires_approval, auto_approve,
	       status, priority, category, timeout_minutes,
	       user_id, device_id, created_at, expires_at
	FROM approval_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var paramsJSON, contextJSON, userID, deviceID sql.NullString
	var riskCategory, priority, category string

	err := row.Scan(
		&req.ID, &req.Action, &req.Description, &paramsJSON, &contextJSON,
		&req.RiskScore, &riskCategory, &req.RequiresApproval, &req.AutoApprove,
		&req.Status, &priority, &category, &req.TimeoutMinutes,
		&userID, &deviceID, &req.CreatedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	req.RiskCategory = policy.RiskCategory(riskCategory)
	req.Priority = policy.Priority(priority)
	req.Category = policy.ActionCategory(category)
	req.UserID = userID.String
	req.DeviceID = deviceID.String

	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &req.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &req.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	return req, nil
}

func scanDecision(row rowScanner) (*Decision, error) {
	dec := &Decision{}
	var modsJSON, userID sql.NullString
	var verdict string

	err := row.Scan(
		&dec.ID, &dec.RequestID, &verdict, &dec.Reason, &dec.Confidence,
		&modsJSON, &userID, &dec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	dec.Verdict = policy.Verdict(verdict)
	dec.UserID = userID.String
	if modsJSON.Valid && modsJSON.String != "" {
		if err := json.Unmarshal([]byte(modsJSON.String), &dec.SuggestedModifications); err != nil {
			return nil, fmt.Errorf("decode modifications: %w", err)
		}
	}
	return dec, nil
}

func insertRequest(ctx context.Context, tx *sql.Tx, req *Request) error {
	paramsJSON, err := marshalOpt(req.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	contextJSON, err := marshalOpt(req.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, action, description, params_json, context_json,
			risk_score, risk_category, requires_approval, auto_approve,
			status, priority, category, timeout_minutes,
			user_id, device_id, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID, req.Action, req.Description, paramsJSON, contextJSON,
		req.RiskScore, string(req.RiskCategory), req.RequiresApproval, req.AutoApprove,
		string(req.Status), string(req.Priority), string(req.Category), req.TimeoutMinutes,
		nullable(req.UserID), nullable(req.DeviceID), req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, dec *Decision) error {
	modsJSON, err := marshalOpt(dec.SuggestedModifications)
	if err != nil {
		return fmt.Errorf("marshal modifications: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_decisions (
			id, request_id, verdict, reason, confidence,
			modifications_json, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		dec.ID, dec.RequestID, string(dec.Verdict), dec.Reason, dec.Confidence,
		modsJSON, nullable(dec.UserID), dec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func marshalOpt(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
