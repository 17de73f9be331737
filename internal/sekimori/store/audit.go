package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry represents one audit log row.
type AuditEntry struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	TraceID      string         `json:"trace_id"`
	Actor        string         `json:"actor,omitempty"`
	Action       string         `json:"action"`
	RequestID    string         `json:"request_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       string         `json:"result"`
	ErrorMessage string         `json:"error,omitempty"`
}

// WriteAudit records a lifecycle event.  Payload values should already be
// redacted by the caller; the audit log is readable over the API.
func (s *Store) WriteAudit(ctx context.Context, traceID, actor, action, requestID, result string, payload map[string]any, errorMsg string) error {
	var payloadJSON sql.NullString
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(jsonBytes), Valid: true}
	}

	var actorNull, requestNull, errorNull sql.NullString
	if actor != "" {
		actorNull = sql.NullString{String: actor, Valid: true}
	}
	if requestID != "" {
		requestNull = sql.NullString{String: requestID, Valid: true}
	}
	if errorMsg != "" {
		errorNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, actor, action, request_id, payload_json, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, time.Now(), traceID, actorNull, action, requestNull, payloadJSON, result, errorNull)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// GetAuditLog retrieves the most recent audit entries, newest first.
func (s *Store) GetAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor, action, request_id, payload_json, result, error_message
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var actor, requestID, payloadJSON, errorMsg sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.TraceID, &actor,
			&entry.Action, &requestID, &payloadJSON, &entry.Result, &errorMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Actor = actor.String
		entry.RequestID = requestID.String
		entry.ErrorMessage = errorMsg.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
