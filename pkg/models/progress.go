package models

// EventType tags a ProgressEvent.
type EventType string

const (
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
)

// ProgressEvent is emitted while a directory is being listed incrementally.
// A run produces zero or more progress events followed by exactly one done
// event. Total and Percent are nil when the entry count was not available.
type ProgressEvent struct {
	Event   EventType     `json:"event"`
	Path    string        `json:"path"`
	Scanned int           `json:"scanned,omitempty"`
	Total   *int          `json:"total,omitempty"`
	Percent *float64      `json:"percent,omitempty"`
	Batch   []ListingNode `json:"batch,omitempty"`
}

// NewProgressEvent builds a progress event for a completed batch.
func NewProgressEvent(path string, scanned int, total *int, batch []ListingNode) ProgressEvent {
	ev := ProgressEvent{
		Event:   EventProgress,
		Path:    path,
		Scanned: scanned,
		Total:   total,
		Batch:   batch,
	}
	if total != nil && *total > 0 {
		pct := float64(scanned) / float64(*total) * 100.0
		if pct > 100 {
			pct = 100
		}
		ev.Percent = &pct
	}
	return ev
}

// NewDoneEvent builds the terminal event of a listing run.
func NewDoneEvent(path string) ProgressEvent {
	return ProgressEvent{Event: EventDone, Path: path}
}
