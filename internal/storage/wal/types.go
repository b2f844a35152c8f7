package wal

import "github.com/ChuLiYu/depot-reserve/pkg/types"

// ============================================================================
// WAL Type Definitions
// ============================================================================

// EventType names the registry transition an event records.
type EventType string

const (
	EventCreate          EventType = "CREATE"           // job registered or revived
	EventEnable          EventType = "ENABLE"           // job enabled
	EventDisable         EventType = "DISABLE"          // job disabled
	EventExecute         EventType = "EXECUTE"          // run handed to the pipeline
	EventInterrupt       EventType = "INTERRUPT"        // interrupt requested
	EventClearError      EventType = "CLEAR_ERROR"      // failed result acknowledged
	EventDelete          EventType = "DELETE"           // deleted marker set
	EventRestoreDefaults EventType = "RESTORE_DEFAULTS" // default definition restored
	EventFinish          EventType = "FINISH"           // run acknowledged by the pipeline
	EventRecover         EventType = "RECOVER"          // run lost on restart
)

// Event is one journal record. Job carries the full job state after the
// transition, so replay never needs earlier events to rebuild a job.
type Event struct {
	Seq       uint64              `json:"seq"`       // monotonically increasing, survives rotation
	Type      EventType           `json:"type"`      // transition kind
	JobID     types.JobID         `json:"job_id"`    // job the transition applies to
	Job       *types.ScheduledJob `json:"job"`       // state after the transition
	Timestamp int64               `json:"timestamp"` // Unix milliseconds
	Checksum  uint32              `json:"checksum"`  // CRC32 of the record with Checksum zeroed
}

// EventHandler applies a replayed event to system state. Returning an error
// aborts the replay.
type EventHandler func(event Event) error
