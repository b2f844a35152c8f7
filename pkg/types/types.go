// Package types defines the core domain models shared by the depot-reserve
// packages: work orders and their reservation results, scheduled jobs and the
// snapshot format used to persist the job registry.
package types

import (
	"time"
)

// ============================================================================
// Orders
// ============================================================================

// OrderID identifies a work order.
type OrderID string

// Built-in order type ids. New order types only need a new strategy
// registered under a fresh id.
const (
	OrderTypePicking   = 1 // outbound picking list
	OrderTypeRefilling = 2 // inbound refill of pick locations
	OrderTypeInventory = 3 // stock count / inventory order
)

// Order is a unit of warehouse work composed of rows.
type Order struct {
	ID     OrderID    `json:"id"`
	TypeID int        `json:"type_id"`
	Rows   []OrderRow `json:"rows"`
}

// OrderRow is a single line item within an order.
type OrderRow struct {
	RowNumber    int    `json:"row_number"`
	ProductRef   string `json:"product_ref"`
	RequestedQty int    `json:"requested_qty"`
	LocationRef  string `json:"location_ref,omitempty"` // empty: reserve from the product pool
}

// Outcome is the result of reserving a row, or of a whole order.
type Outcome string

const (
	OutcomeReserved Outcome = "RESERVED"
	OutcomePartial  Outcome = "PARTIAL"
	OutcomeRejected Outcome = "REJECTED"
)

// ReservationResult records what happened to one row.
type ReservationResult struct {
	RowNumber   int     `json:"row_number"`
	ReservedQty int     `json:"reserved_qty"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
}

// OrderOutcome is the stored result of dispatching one order.
type OrderOutcome struct {
	OrderID    OrderID             `json:"order_id"`
	TypeID     int                 `json:"type_id"`
	Outcome    Outcome             `json:"outcome"`
	Results    []ReservationResult `json:"results,omitempty"`
	Error      string              `json:"error,omitempty"` // routing error, if any
	ReservedAt time.Time           `json:"reserved_at"`
}

// ============================================================================
// Scheduled jobs
// ============================================================================

// JobID identifies a scheduled job.
type JobID string

// LastResult is the outcome of the most recent execution of a job.
type LastResult string

const (
	ResultNone  LastResult = "NONE"
	ResultOK    LastResult = "OK"
	ResultError LastResult = "ERROR"
)

// Trigger describes when a job runs: either a cron expression or a fixed
// interval. Exactly one of the two is set.
type Trigger struct {
	Cron  string        `json:"cron,omitempty" yaml:"cron,omitempty"`
	Every time.Duration `json:"every,omitempty" yaml:"every,omitempty"`
}

// String renders the trigger the way the console shows it.
func (t Trigger) String() string {
	if t.Cron != "" {
		return t.Cron
	}
	if t.Every > 0 {
		return "@every " + t.Every.String()
	}
	return ""
}

// ScheduledJob is the persistent record of a recurring background job.
type ScheduledJob struct {
	ID                 JobID      `json:"id"`
	Name               string     `json:"name"`
	Trigger            Trigger    `json:"trigger"`
	Enabled            bool       `json:"enabled"`
	Running            bool       `json:"running"`
	LastResult         LastResult `json:"last_result"`
	LastErrorMessage   string     `json:"last_error_message,omitempty"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
	InterruptRequested bool       `json:"interrupt_requested"`
	Deleted            bool       `json:"deleted,omitempty"` // terminal marker, record kept for history
}

// JobDefinition is the configuration-time description of a job.
type JobDefinition struct {
	ID      JobID   `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Trigger Trigger `json:"trigger" yaml:"trigger"`
	Enabled bool    `json:"enabled" yaml:"enabled"`
}

// VisualState is a presentation-only label derived from a job's flags.
type VisualState string

const (
	StateDisabled     VisualState = "DISABLED"
	StateWaiting      VisualState = "WAITING"
	StateRunning      VisualState = "RUNNING"
	StateSucceeded    VisualState = "SUCCEEDED"
	StateFailed       VisualState = "FAILED"
	StateInterrupting VisualState = "INTERRUPTING"
	StateInterrupted  VisualState = "INTERRUPTED"
)

// Color returns the console color used to render the label.
func (s VisualState) Color() string {
	switch s {
	case StateDisabled:
		return "gray"
	case StateWaiting:
		return "blue"
	case StateRunning:
		return "cyan"
	case StateSucceeded:
		return "green"
	case StateFailed:
		return "red"
	case StateInterrupting:
		return "orange"
	case StateInterrupted:
		return "yellow"
	default:
		return "white"
	}
}

// AllVisualStates lists every label in console display order.
var AllVisualStates = []VisualState{
	StateDisabled,
	StateWaiting,
	StateRunning,
	StateSucceeded,
	StateFailed,
	StateInterrupting,
	StateInterrupted,
}

// SnapshotData is the persisted form of the job registry.
type SnapshotData struct {
	Jobs      map[JobID]*ScheduledJob `json:"jobs"`       // every known job, deleted ones included
	SchemaVer int                     `json:"schema_ver"` // bumped on incompatible changes
	LastSeq   uint64                  `json:"last_seq"`   // last journal sequence folded into Jobs
}
