package jobmanager

import "github.com/ChuLiYu/depot-reserve/pkg/types"

// VisualStateOf derives the console label of a job. Checks run in priority
// order; the first match wins:
//
//	running && interruptRequested -> INTERRUPTING
//	running                       -> RUNNING
//	!enabled                      -> DISABLED
//	interruptRequested            -> INTERRUPTED
//	lastResult == ERROR           -> FAILED
//	lastResult == OK              -> SUCCEEDED
//	otherwise                     -> WAITING
func VisualStateOf(j types.ScheduledJob) types.VisualState {
	switch {
	case j.Running && j.InterruptRequested:
		return types.StateInterrupting
	case j.Running:
		return types.StateRunning
	case !j.Enabled:
		return types.StateDisabled
	case j.InterruptRequested:
		return types.StateInterrupted
	case j.LastResult == types.ResultError:
		return types.StateFailed
	case j.LastResult == types.ResultOK:
		return types.StateSucceeded
	default:
		return types.StateWaiting
	}
}
