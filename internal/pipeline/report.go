package pipeline

import (
	"errors"
	"time"
)

// Report summarizes one cycle.
type Report struct {
	Scope     string
	StartedAt time.Time
	Took      time.Duration

	Retrieved int
	Unseen    int
	Notified  int
	Skipped   int // key conflict on reserve
	Failed    int // reserve or notify failure

	// Interrupted is set when the context ended before every unseen
	// record was dispatched. The rest is picked up by a later cycle.
	Interrupted bool

	Errors []error
}

// Err joins the per-record errors.
func (r Report) Err() error { return errors.Join(r.Errors...) }
