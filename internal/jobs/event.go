// Package jobs runs worksheet analysis and conversion in the background.
//
// Each submitted job gets its own goroutine and is tracked by a
// process-unique, increasing id. Callers observe a job through an event
// channel and may cancel it at any time:
//
//	id, _ := mgr.SubmitConvert(ctx, "/data/book.xlsx", opts)
//	events, unsubscribe, _ := mgr.Subscribe(id)
//	defer unsubscribe()
//	for ev := range events {
//		fmt.Println(ev.Type, ev.Percent, ev.Stage)
//	}
//
// Within one job, progress percentages never decrease and exactly one
// terminal event (completed, failed or cancelled) is delivered, after which
// the job's channels are closed.
package jobs

import (
	"time"

	"github.com/kcoder666/sheetflow/internal/core"
)

// EventType identifies an event.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventWorksheets EventType = "worksheetsDiscovered"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
)

// Terminal reports whether no further events follow t.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// Event is one message from a running job.
type Event struct {
	JobID      int64                      `json:"jobId"`
	Type       EventType                  `json:"type"`
	Percent    int                        `json:"percent"`
	Stage      string                     `json:"stage,omitempty"`
	Worksheets []core.WorksheetDescriptor `json:"worksheets,omitempty"`
	Result     any                        `json:"result,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Code       string                     `json:"code,omitempty"`
	Time       time.Time                  `json:"time"`
}
