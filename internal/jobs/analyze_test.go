package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/backend/enginetest"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/jobs"
)

func discoveredEvents(events []jobs.Event) [][]core.WorksheetDescriptor {
	var out [][]core.WorksheetDescriptor
	for _, ev := range events {
		if ev.Type == jobs.EventWorksheets {
			out = append(out, ev.Worksheets)
		}
	}
	return out
}

func TestAnalyze_TwoPasses(t *testing.T) {
	m := newManager(nil)
	all, unsubscribe, _ := m.Subscribe(0)
	defer unsubscribe()

	id, err := m.SubmitAnalyze(context.Background(), sampleWorkbook(t))
	if err != nil {
		t.Fatalf("SubmitAnalyze() error = %v", err)
	}
	events := untilTerminal(t, all, id)
	assertMonotonic(t, events)

	passes := discoveredEvents(events)
	if len(passes) != 2 {
		t.Fatalf("worksheetsDiscovered emitted %d times, want 2: %+v", len(passes), events)
	}

	quick, exact := passes[0], passes[1]
	if len(quick) != 3 || quick[0].Name != "Data" || quick[1].Name != "Empty" || quick[2].Name != "Five" {
		t.Fatalf("quick pass = %+v", quick)
	}
	if got := quick[0].Rows(); got != 4 {
		t.Errorf("quick Data rows = %d, want 4 (blank row counted)", got)
	}
	if got := exact[0].Rows(); got != 3 {
		t.Errorf("exact Data rows = %d, want 3", got)
	}
	if exact[0].Complexity != core.ComplexitySmall {
		t.Errorf("exact Data complexity = %q", exact[0].Complexity)
	}

	last := events[len(events)-1]
	listing, ok := last.Result.(*core.WorksheetListing)
	if last.Type != jobs.EventCompleted || !ok || !listing.Success || len(listing.Worksheets) != 3 {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestAnalyze_LargeFileUsesEngine(t *testing.T) {
	engine := backend.NewEngine(backend.Static(enginetest.Command(enginetest.OK)), core.NewProcessLimiter(1, time.Second), time.Minute)
	analyzer := jobs.Analyzer{
		Quick:              backend.NewMemory(),
		Exact:              backend.NewStream(),
		Engine:             engine,
		LargeFileThreshold: 1,
	}
	m := jobs.NewManager(nil, analyzer, testJobsConfig)
	all, unsubscribe, _ := m.Subscribe(0)
	defer unsubscribe()

	id, err := m.SubmitAnalyze(context.Background(), sampleWorkbook(t))
	if err != nil {
		t.Fatal(err)
	}
	events := untilTerminal(t, all, id)

	passes := discoveredEvents(events)
	if len(passes) != 1 || len(passes[0]) != 3 {
		t.Fatalf("passes = %+v, want one engine listing of 3 sheets", passes)
	}
	if events[len(events)-1].Type != jobs.EventCompleted {
		t.Errorf("terminal = %+v", events[len(events)-1])
	}
}

func TestAnalyze_UnreadableWithoutEngine(t *testing.T) {
	m := newManager(nil)

	id, err := m.SubmitAnalyze(context.Background(), emptyInput(t))
	if err != nil {
		t.Fatal(err)
	}
	events, unsubscribe, _ := m.Subscribe(id)
	defer unsubscribe()

	got := drain(t, events)
	last := got[len(got)-1]
	if last.Type != jobs.EventFailed || last.Code != "ENG001" {
		t.Errorf("terminal = %+v, want failed with ENG001", last)
	}
	if len(discoveredEvents(got)) != 0 {
		t.Errorf("unexpected worksheetsDiscovered: %+v", got)
	}
}
