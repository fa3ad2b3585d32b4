// Package events implements the in-process EventBus (C5): one bounded,
// single-subscriber channel per generation id, carrying the progress events
// produced by the Orchestrator and its subsidiary components.
package events

import "time"

// Status is the terminal/non-terminal status carried by an Event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether status ends a generation's event stream.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WarningType names a non-fatal condition attached to an event.
type WarningType string

const (
	WarningDataLossDetection WarningType = "data_loss_detection"
)

// PhaseInfo is the optional per-phase payload on an Event (§3).
type PhaseInfo struct {
	TotalPhases    int    `json:"total_phases,omitempty"`
	CurrentPhase   int    `json:"current_phase,omitempty"`
	Name           string `json:"name,omitempty"`
	FilesGenerated int    `json:"files_generated,omitempty"`
	TotalFiles     int    `json:"total_files,omitempty"`
	EntitiesCount  int    `json:"entities_count,omitempty"`
}

// Event is one progress notification for a generation (§3 Data Model). The
// wire envelope encodes Timestamp as seconds-since-epoch float64 (§6); the
// Wire method renders that.
type Event struct {
	GenerationID string       `json:"generation_id"`
	Status       Status       `json:"status"`
	Stage        string       `json:"stage"`
	Progress     float64      `json:"progress"`
	Message      string       `json:"message"`
	Phase        *PhaseInfo   `json:"phase_info,omitempty"`
	WarningType  WarningType  `json:"warning_type,omitempty"`
	Error        string       `json:"error,omitempty"`
	Timestamp    time.Time    `json:"-"`
}

// WireEvent is the JSON-serializable envelope matching §6's event wire
// format exactly (timestamp as a float).
type WireEvent struct {
	GenerationID string      `json:"generation_id"`
	Status       Status      `json:"status"`
	Stage        string      `json:"stage"`
	Progress     float64     `json:"progress"`
	Message      string      `json:"message"`
	Phase        *PhaseInfo  `json:"phase_info,omitempty"`
	WarningType  WarningType `json:"warning_type,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    float64     `json:"timestamp"`
}

// Wire renders e as the wire envelope.
func (e Event) Wire() WireEvent {
	return WireEvent{
		GenerationID: e.GenerationID,
		Status:       e.Status,
		Stage:        e.Stage,
		Progress:     e.Progress,
		Message:      e.Message,
		Phase:        e.Phase,
		WarningType:  e.WarningType,
		Error:        e.Error,
		Timestamp:    float64(e.Timestamp.UnixNano()) / 1e9,
	}
}

// New builds a non-terminal Event with the current time.
func New(generationID, stage string, progress float64, message string) Event {
	return Event{
		GenerationID: generationID,
		Status:       StatusProcessing,
		Stage:        stage,
		Progress:     progress,
		Message:      message,
		Timestamp:    time.Now(),
	}
}

// WithPhase attaches phase info, returning the same Event for chaining.
func (e Event) WithPhase(p PhaseInfo) Event {
	e.Phase = &p
	return e
}

// WithWarning attaches a warning type, returning the same Event for
// chaining.
func (e Event) WithWarning(w WarningType) Event {
	e.WarningType = w
	return e
}

// Completed builds the terminal success event.
func Completed(generationID, message string) Event {
	return Event{
		GenerationID: generationID,
		Status:       StatusCompleted,
		Stage:        "completed",
		Progress:     1.0,
		Message:      message,
		Timestamp:    time.Now(),
	}
}

// Failed builds the terminal failure event (§4.10, §7).
func Failed(generationID, stage, message, errMsg string) Event {
	return Event{
		GenerationID: generationID,
		Status:       StatusFailed,
		Stage:        stage,
		Progress:     0.0,
		Message:      message,
		Error:        errMsg,
		Timestamp:    time.Now(),
	}
}
