package audit

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/dirsync/pkg/middleware"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

// Trail writes audit events to a SQL database.
type Trail struct {
	db *sql.DB
}

// NewTrail creates a trail over the given database, ensuring its table.
func NewTrail(db *sql.DB) (*Trail, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	t := &Trail{db: db}
	if err := t.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return t, nil
}

func (t *Trail) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		caller TEXT NOT NULL DEFAULT '',
		resource TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource);
	`
	_, err := t.db.Exec(query)
	return err
}

// Record persists one event. A zero timestamp is filled in with now.
func (t *Trail) Record(ctx context.Context, event *Event) error {
	if event.Action == "" {
		return fmt.Errorf("action is required")
	}
	if event.Status == "" {
		return fmt.Errorf("status is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := t.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			timestamp, action, status, caller, resource,
			ip_address, user_agent, request_id, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.Format(time.RFC3339Nano), event.Action, string(event.Status),
		event.Caller, event.Resource, event.IPAddress, event.UserAgent, event.RequestID, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// RecordRequest persists an event describing an API call, pulling the caller,
// client address and request id out of the request.
func (t *Trail) RecordRequest(r *http.Request, action, resource string, status EventStatus, opErr error) error {
	event := &Event{
		Action:    action,
		Status:    status,
		Caller:    middleware.CallerID(r.Context()),
		Resource:  resource,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: observability.GetRequestID(r.Context()),
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	}
	return t.Record(r.Context(), event)
}

// RecordDenial persists a gate rejection. caller is the verified-but-disallowed
// account, empty when the token never verified.
func (t *Trail) RecordDenial(r *http.Request, reason, caller string) error {
	return t.Record(r.Context(), &Event{
		Action:       ActionGateDenied,
		Status:       StatusDenied,
		Caller:       caller,
		Resource:     r.URL.Path,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
		RequestID:    observability.GetRequestID(r.Context()),
		ErrorMessage: reason,
	})
}

// RecordSweep persists the outcome of a background timestamp sweep.
func (t *Trail) RecordSweep(ctx context.Context, refreshed int, sweepErr error) error {
	event := &Event{
		Action:   ActionSweepRefresh,
		Status:   StatusSuccess,
		Resource: fmt.Sprintf("%d authorizables", refreshed),
	}
	if sweepErr != nil {
		event.Status = StatusFailure
		event.Resource = ""
		event.ErrorMessage = sweepErr.Error()
	}
	return t.Record(ctx, event)
}

// Query returns matching events, newest first.
func (t *Trail) Query(ctx context.Context, filters *Filters) ([]*Event, error) {
	if filters == nil {
		filters = &Filters{}
	}

	query := `
		SELECT id, timestamp, action, status, caller, resource,
		       ip_address, user_agent, request_id, error_message
		FROM audit_events WHERE 1=1`
	var args []interface{}

	if filters.Action != "" {
		query += " AND action = ?"
		args = append(args, filters.Action)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filters.Status))
	}
	if filters.Caller != "" {
		query += " AND caller = ?"
		args = append(args, filters.Caller)
	}
	if filters.Resource != "" {
		query += " AND resource = ?"
		args = append(args, filters.Resource)
	}
	if filters.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}
	if filters.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, filters.Until.UTC().Format(time.RFC3339Nano))
	}

	query += " ORDER BY timestamp DESC, id DESC"
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts, status string
		if err := rows.Scan(&e.ID, &ts, &e.Action, &status, &e.Caller, &e.Resource,
			&e.IPAddress, &e.UserAgent, &e.RequestID, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Status = EventStatus(status)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse audit timestamp %q: %w", ts, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
