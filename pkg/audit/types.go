// Package audit persists a trail of reconciliation and access events.
package audit

import "time"

// EventStatus is the recorded outcome of an audited action.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusDenied  EventStatus = "denied"
)

// Audit action constants.
const (
	ActionUserReconcile    = "user.reconcile"
	ActionPrincipalAdd     = "principal.add"
	ActionGroupExternalize = "group.externalize"
	ActionMigrationLink    = "migration.link"
	ActionMigrationStrip   = "migration.strip"
	ActionSweepRefresh     = "sweep.refresh"
	ActionGateDenied       = "gate.denied"
)

// Event is one audit record. Caller is the gate-verified account; Resource
// names the user or group the action targeted.
type Event struct {
	ID           int64       `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	Action       string      `json:"action"`
	Status       EventStatus `json:"status"`
	Caller       string      `json:"caller,omitempty"`
	Resource     string      `json:"resource,omitempty"`
	IPAddress    string      `json:"ipAddress,omitempty"`
	UserAgent    string      `json:"userAgent,omitempty"`
	RequestID    string      `json:"requestId,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// Filters narrows a trail query. Zero values match everything.
type Filters struct {
	Action   string
	Status   EventStatus
	Caller   string
	Resource string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}
