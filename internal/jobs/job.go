package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/kcoder666/sheetflow/internal/core"
)

// Kind is the type of work a job performs.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindConvert Kind = "convert"
)

// State is a job's lifecycle state. Terminal states are final.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// listenerBuffer is the channel capacity given to each subscriber.
const listenerBuffer = 64

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID         int64                      `json:"id"`
	Kind       Kind                       `json:"kind"`
	Input      string                     `json:"input"`
	State      State                      `json:"state"`
	Percent    int                        `json:"percent"`
	Stage      string                     `json:"stage,omitempty"`
	Worksheets []core.WorksheetDescriptor `json:"worksheets,omitempty"`
	Conversion *core.ConvertResult        `json:"conversion,omitempty"`
	Listing    *core.WorksheetListing     `json:"listing,omitempty"`
	Error      string                     `json:"error,omitempty"`
	CreatedAt  time.Time                  `json:"createdAt"`
	FinishedAt *time.Time                 `json:"finishedAt,omitempty"`
}

// job is the manager's record of one submission. mu guards every field
// below it; event delivery happens while mu is held so events reach each
// listener in emission order and nothing slips out after the terminal one.
type job struct {
	id     int64
	kind   Kind
	input  string
	cancel context.CancelFunc
	done   chan struct{} // closed on the terminal state
	exited chan struct{} // closed when the goroutine returns

	// broadcast forwards events to manager-wide subscribers.
	broadcast func(Event)

	mu         sync.Mutex
	state      State
	percent    int
	stage      string
	worksheets []core.WorksheetDescriptor
	conversion *core.ConvertResult
	listing    *core.WorksheetListing
	errMsg     string
	code       string
	createdAt  time.Time
	finishedAt time.Time
	listeners  []chan Event
}

func newJob(id int64, kind Kind, input string, cancel context.CancelFunc, broadcast func(Event)) *job {
	return &job{
		id:        id,
		kind:      kind,
		input:     input,
		cancel:    cancel,
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		broadcast: broadcast,
		state:     StateCreated,
		createdAt: time.Now(),
	}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:         j.id,
		Kind:       j.kind,
		Input:      j.input,
		State:      j.state,
		Percent:    j.percent,
		Stage:      j.stage,
		Worksheets: j.worksheets,
		Conversion: j.conversion,
		Listing:    j.listing,
		Error:      j.errMsg,
		CreatedAt:  j.createdAt,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// subscribe registers a listener. The current progress is queued
// immediately; a listener added after the terminal state receives the
// terminal event and a closed channel.
func (j *job) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, listenerBuffer)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		ch <- j.terminalEventLocked()
		close(ch)
		return ch, func() {}
	}

	ch <- Event{JobID: j.id, Type: EventProgress, Percent: j.percent, Stage: j.stage, Time: time.Now()}
	if len(j.worksheets) > 0 {
		ch <- Event{JobID: j.id, Type: EventWorksheets, Percent: j.percent, Worksheets: j.worksheets, Time: time.Now()}
	}
	j.listeners = append(j.listeners, ch)

	return ch, func() { j.unsubscribe(ch) }
}

func (j *job) unsubscribe(ch chan Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, l := range j.listeners {
		if l == ch {
			j.listeners = append(j.listeners[:i], j.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// terminalEventLocked rebuilds the terminal event for late subscribers.
func (j *job) terminalEventLocked() Event {
	ev := Event{JobID: j.id, Percent: j.percent, Stage: j.stage, Error: j.errMsg, Code: j.code, Time: j.finishedAt}
	switch j.state {
	case StateCompleted:
		ev.Type = EventCompleted
		ev.Result = j.resultLocked()
	case StateFailed:
		ev.Type = EventFailed
		ev.Result = j.resultLocked()
	default:
		ev.Type = EventCancelled
	}
	return ev
}

func (j *job) resultLocked() any {
	if j.conversion != nil {
		return j.conversion
	}
	if j.listing != nil {
		return j.listing
	}
	return nil
}

func (j *job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateCreated {
		return false
	}
	j.state = StateRunning
	j.stage = "Starting"
	j.notifyLocked(Event{Type: EventProgress, Percent: 0, Stage: j.stage})
	return true
}

// progress emits a progress event. Percent is clamped to [previous, 99] so
// it never moves backwards and 100 is reserved for completion. Repeats of
// the same percent and stage are dropped.
func (j *job) progress(percent int, stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return
	}

	if percent > 99 {
		percent = 99
	}
	if percent < j.percent {
		percent = j.percent
	}
	if stage == "" {
		stage = j.stage
	}
	if percent == j.percent && stage == j.stage {
		return
	}
	j.percent, j.stage = percent, stage
	j.notifyLocked(Event{Type: EventProgress, Percent: percent, Stage: stage})
}

func (j *job) discovered(sheets []core.WorksheetDescriptor) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return
	}
	j.worksheets = sheets
	j.notifyLocked(Event{Type: EventWorksheets, Percent: j.percent, Stage: j.stage, Worksheets: sheets})
}

// finish moves the job to a terminal state and delivers the terminal
// event. It returns false if the job had already finished.
func (j *job) finish(state State, ev Event) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}

	j.state = state
	j.finishedAt = time.Now()
	j.errMsg = ev.Error
	j.code = ev.Code
	switch r := ev.Result.(type) {
	case *core.ConvertResult:
		j.conversion = r
	case *core.WorksheetListing:
		j.listing = r
	}
	if state == StateCompleted {
		j.percent = 100
	}
	ev.Percent = j.percent
	if ev.Stage == "" {
		ev.Stage = j.stage
	}

	j.notifyLocked(ev)
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
	close(j.done)
	return true
}

// notifyLocked delivers ev to every listener. Progress events are dropped
// for a listener whose buffer is full; other events displace the oldest
// queued event instead so they are never lost.
func (j *job) notifyLocked(ev Event) {
	ev.JobID = j.id
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for _, ch := range j.listeners {
		deliver(ch, ev)
	}
	if j.broadcast != nil {
		j.broadcast(ev)
	}
}

func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	if ev.Type == EventProgress {
		return
	}
	// Buffer full: drop the oldest event to make room.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
