package fetch

// Outcome classifies how a tile finished.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Event is emitted after each tile completes, success or failure.
// Completed counts tiles finished so far; Total is the plan size.
type Event struct {
	TileID    string
	Outcome   Outcome
	Err       error
	Completed int
	Total     int
}

// ProgressSink receives per-tile completion events. The sink is owned by
// the caller; events are dispatched off the fetch hot path, so a slow
// sink delays event delivery but never tile downloads.
type ProgressSink interface {
	TileCompleted(Event)
}

// SinkFunc adapts a plain function to a ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) TileCompleted(e Event) { f(e) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) TileCompleted(Event) {}
