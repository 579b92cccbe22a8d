package pipeline

// Event types published on the bus by a cycle.
const (
	EventCycleStarted  = "cycle.started"
	EventCycleFinished = "cycle.finished"
	EventCycleAborted  = "cycle.aborted"

	EventReserved         = "record.reserved"
	EventReserveFailed    = "record.reserve_failed"
	EventConflict         = "record.conflict"
	EventNotified         = "record.notified"
	EventNotifyFailed     = "record.notify_failed"
	EventCompensated      = "record.compensated"
	EventCompensateFailed = "record.compensate_failed"
)
