package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/convert"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// Converter runs a multi-worksheet conversion.
type Converter interface {
	Convert(ctx context.Context, input string, opts core.ConvertOptions, progress convert.ProgressFunc) (core.ConvertResult, error)
}

// Manager owns the live job table. It is safe for concurrent use.
type Manager struct {
	converter Converter
	analyzer  Analyzer
	cfg       config.JobsConfig

	nextID atomic.Int64
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[int64]*job

	subsMu sync.Mutex
	subs   []chan Event
}

// DefaultRetention replaces a non-positive JobsConfig.Retention so a finished
// job stays fetchable after its goroutine exits.
const DefaultRetention = 5 * time.Minute

// NewManager creates a job manager.
func NewManager(converter Converter, analyzer Analyzer, cfg config.JobsConfig) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{
		converter: converter,
		analyzer:  analyzer,
		cfg:       cfg,
		jobs:      make(map[int64]*job),
	}
}

// SubmitAnalyze starts a worksheet listing job and returns its id.
// Invalid input is rejected before a job is created.
func (m *Manager) SubmitAnalyze(ctx context.Context, input string) (int64, error) {
	if err := checkInput(input); err != nil {
		return 0, err
	}
	return m.submit(ctx, KindAnalyze, input, func(ctx context.Context, j *job) {
		m.runAnalyze(ctx, j)
	}), nil
}

// SubmitConvert starts a conversion job and returns its id. Invalid input
// or options are rejected before a job is created.
func (m *Manager) SubmitConvert(ctx context.Context, input string, opts core.ConvertOptions) (int64, error) {
	if err := checkInput(input); err != nil {
		return 0, err
	}
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	opts.Worksheets = append([]string(nil), opts.Worksheets...)
	return m.submit(ctx, KindConvert, input, func(ctx context.Context, j *job) {
		m.runConvert(ctx, j, opts)
	}), nil
}

func checkInput(input string) error {
	info, err := os.Stat(input)
	if err != nil {
		return core.InvalidInputf("input file: %v", err)
	}
	if info.IsDir() {
		return core.InvalidInputf("input %s is a directory", input)
	}
	if !backend.IsSpreadsheet(input) {
		return core.InvalidInputf("unsupported file type %q", input)
	}
	return nil
}

// submit registers the job and starts its goroutine. The job context keeps
// the caller's values (request id) but not its cancellation.
func (m *Manager) submit(parent context.Context, kind Kind, input string, run func(context.Context, *job)) int64 {
	id := m.nextID.Add(1)
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	ctx = logging.ContextWithJobID(ctx, id)

	j := newJob(id, kind, input, cancel, m.broadcast)

	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	log := logging.FromContext(ctx)
	log.Info("job submitted", "kind", kind, "input", input)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(j.exited)
		defer cancel()
		defer m.cleanup(j)
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in job", "panic", r)
				err := fmt.Errorf("%w: %v", core.ErrJobFault, r)
				j.finish(StateFailed, Event{Type: EventFailed, Error: err.Error(), Code: core.MapError(err).Code})
			}
		}()

		if !j.start() {
			return
		}
		run(ctx, j)
	}()

	return id
}

func (m *Manager) runAnalyze(ctx context.Context, j *job) {
	log := logging.FromContext(ctx)

	sheets, err := m.analyzer.analyze(ctx, j.input, j.discovered, j.progress)
	if err != nil {
		m.fail(ctx, j, err, &core.WorksheetListing{Success: false, Worksheets: []core.WorksheetDescriptor{}, Error: err.Error()})
		return
	}

	listing := &core.WorksheetListing{Success: true, Worksheets: sheets}
	if j.finish(StateCompleted, Event{Type: EventCompleted, Stage: "Analysis complete", Result: listing}) {
		log.Info("job completed", "worksheets", len(sheets))
	}
}

func (m *Manager) runConvert(ctx context.Context, j *job, opts core.ConvertOptions) {
	log := logging.FromContext(ctx)

	res, err := m.converter.Convert(ctx, j.input, opts, func(p convert.Progress) {
		stage := fmt.Sprintf("Converting %s (%d/%d)", p.Sheet, p.SheetIndex+1, p.SheetCount)
		j.progress(int(p.Fraction()*100), stage)
	})
	for _, msg := range res.Errors {
		log.Warn("worksheet failed", "error", msg)
	}
	if err != nil {
		m.fail(ctx, j, err, &res)
		return
	}

	if j.finish(StateCompleted, Event{Type: EventCompleted, Stage: "Conversion complete", Result: &res}) {
		log.Info("job completed", "rows", res.TotalRows, "files", len(res.Files), "failed_worksheets", len(res.Errors))
	}
}

// fail finishes j as failed, or as cancelled when ctx was cancelled.
func (m *Manager) fail(ctx context.Context, j *job, err error, result any) {
	log := logging.FromContext(ctx)

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		if j.finish(StateCancelled, Event{Type: EventCancelled, Stage: "Cancelled"}) {
			log.Info("job cancelled")
		}
		return
	}

	msg := core.MapError(err)
	if j.finish(StateFailed, Event{Type: EventFailed, Stage: "Failed", Error: err.Error(), Code: msg.Code, Result: result}) {
		log.Warn("job failed", "error", err, "code", msg.Code)
	}
}

// Subscribe returns a channel of events for jobID, or for every job when
// jobID is 0. A job channel is closed after its terminal event; the
// returned function unsubscribes and closes the channel early.
func (m *Manager) Subscribe(jobID int64) (<-chan Event, func(), error) {
	if jobID == 0 {
		ch := make(chan Event, listenerBuffer)
		m.subsMu.Lock()
		m.subs = append(m.subs, ch)
		m.subsMu.Unlock()
		return ch, func() { m.unsubscribeAll(ch) }, nil
	}

	j, err := m.lookup(jobID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := j.subscribe()
	return ch, unsubscribe, nil
}

func (m *Manager) unsubscribeAll(ch chan Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) broadcast(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		deliver(ch, ev)
	}
}

// Cancel stops a job. The cancelled event is delivered at once; Cancel then
// waits up to the configured grace period for the job's goroutine to exit.
// Cancelling a finished job is a no-op.
func (m *Manager) Cancel(jobID int64) error {
	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	if !j.finish(StateCancelled, Event{Type: EventCancelled, Stage: "Cancelled"}) {
		return nil
	}
	j.cancel()
	slog.Info("job cancelled", "job_id", jobID)

	m.awaitExit(j)
	return nil
}

// CancelAll cancels every live job and returns how many were cancelled.
func (m *Manager) CancelAll() int {
	m.mu.RLock()
	live := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		live = append(live, j)
	}
	m.mu.RUnlock()

	n := 0
	for _, j := range live {
		if j.finish(StateCancelled, Event{Type: EventCancelled, Stage: "Cancelled"}) {
			j.cancel()
			n++
		}
	}
	for _, j := range live {
		m.awaitExit(j)
	}
	if n > 0 {
		slog.Info("cancelled all jobs", "count", n)
	}
	return n
}

func (m *Manager) awaitExit(j *job) {
	if m.cfg.CancelGrace <= 0 {
		<-j.exited
		return
	}
	timer := time.NewTimer(m.cfg.CancelGrace)
	defer timer.Stop()
	select {
	case <-j.exited:
	case <-timer.C:
		slog.Warn("job did not stop within grace period", "job_id", j.id, "grace", m.cfg.CancelGrace)
	}
}

// Get returns a snapshot of a job.
func (m *Manager) Get(jobID int64) (Snapshot, error) {
	j, err := m.lookup(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID int64) (Snapshot, error) {
	j, err := m.lookup(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// List returns snapshots of every tracked job, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Shutdown cancels every job and waits for their goroutines, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.CancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(jobID int64) (*job, error) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrJobNotFound, jobID)
	}
	return j, nil
}

// cleanup removes the job from tracking once the retention period after
// its goroutine exits has passed.
func (m *Manager) cleanup(j *job) {
	time.AfterFunc(m.cfg.Retention, func() {
		m.mu.Lock()
		delete(m.jobs, j.id)
		m.mu.Unlock()
	})
}
