package convert_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/backend/enginetest"
	"github.com/kcoder666/sheetflow/internal/convert"
	"github.com/kcoder666/sheetflow/internal/core"
)

func TestMain(m *testing.M) {
	if enginetest.IsHelper() {
		os.Exit(enginetest.Main(os.Args))
	}
	os.Exit(m.Run())
}

func sampleWorkbook(t *testing.T) string {
	t.Helper()
	return enginetest.WriteWorkbook(t, "sample.xlsx",
		enginetest.Sheet{Name: "Data", Rows: [][]any{
			{"name", "qty"},
			{"apple", 3},
			{"", ""},
			{"pear", 5},
		}},
		enginetest.Sheet{Name: "Empty"},
		enginetest.Sheet{Name: "Five", Rows: enginetest.NumberedRows(5)},
		enginetest.Sheet{Name: "Big", Rows: enginetest.NumberedRows(1200)},
	)
}

func fakeEngine(scenario string) *backend.Engine {
	return backend.NewEngine(backend.Static(enginetest.Command(scenario)), core.NewProcessLimiter(2, time.Second), time.Minute)
}

// unavailableSource fails every OpenRows the way the in-memory reader does
// for a workbook it cannot load.
type unavailableSource struct{ backend.RowSource }

func (unavailableSource) OpenRows(context.Context, string, string) (backend.RowIterator, error) {
	return nil, core.ErrSheetUnavailable
}

// blankSource opens every sheet as rows of empty cells, like an in-memory
// parser that lists a sheet but cannot materialize its values.
type blankSource struct{ backend.RowSource }

func (blankSource) OpenRows(context.Context, string, string) (backend.RowIterator, error) {
	return backend.NewSliceIterator([]core.Row{{"", ""}, {" ", ""}, {}}), nil
}

// brokenSource yields limit rows from the wrapped source and then fails.
type brokenSource struct {
	backend.RowSource
	limit int
}

func (s brokenSource) OpenRows(ctx context.Context, path, sheet string) (backend.RowIterator, error) {
	it, err := s.RowSource.OpenRows(ctx, path, sheet)
	if err != nil {
		return nil, err
	}
	return &brokenIterator{RowIterator: it, left: s.limit}, nil
}

type brokenIterator struct {
	backend.RowIterator
	left int
	err  error
}

func (it *brokenIterator) Next() bool {
	if it.left == 0 {
		it.err = errors.New("zip: checksum error")
		return false
	}
	it.left--
	return it.RowIterator.Next()
}

func (it *brokenIterator) Err() error { return it.err }

func readFiles(t *testing.T, files []core.OutputFile) []string {
	t.Helper()
	out := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, string(data))
	}
	return out
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStrategy_ConvertSheet_Memory(t *testing.T) {
	path := sampleWorkbook(t)
	dir := t.TempDir()
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})

	res, err := s.ConvertSheet(context.Background(), path, "Data", core.ConvertOptions{OutputDir: dir}, nil)
	if err != nil {
		t.Fatalf("ConvertSheet() error = %v", err)
	}
	if res.Tier != backend.TierMemory {
		t.Errorf("Tier = %q, want %q", res.Tier, backend.TierMemory)
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3 (empty row dropped)", res.Rows)
	}

	got := readFiles(t, res.Files)
	want := "name,qty\napple,3\npear,5\n"
	if len(got) != 1 || got[0] != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if filepath.Base(res.Files[0].Path) != "sample_Data.csv" {
		t.Errorf("output name = %q", filepath.Base(res.Files[0].Path))
	}
}

func TestStrategy_TierTransparency(t *testing.T) {
	path := sampleWorkbook(t)
	opts := func(dir string) core.ConvertOptions {
		return core.ConvertOptions{OutputDir: dir, MaxRows: 500}
	}

	tests := []struct {
		name     string
		strategy *convert.Strategy
		wantTier string
	}{
		{
			name:     "memory",
			strategy: convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{}),
			wantTier: backend.TierMemory,
		},
		{
			name:     "stream after memory fails",
			strategy: convert.NewStrategy(unavailableSource{backend.NewMemory()}, backend.NewStream(), nil, convert.Options{}),
			wantTier: backend.TierStream,
		},
		{
			name:     "engine after both fail",
			strategy: convert.NewStrategy(unavailableSource{backend.NewMemory()}, unavailableSource{backend.NewStream()}, fakeEngine(enginetest.OK), convert.Options{}),
			wantTier: backend.TierEngine,
		},
		{
			name:     "engine for large files",
			strategy: convert.NewStrategy(backend.NewMemory(), backend.NewStream(), fakeEngine(enginetest.OK), convert.Options{LargeFileThreshold: 1}),
			wantTier: backend.TierEngine,
		},
	}

	var reference []string
	var referenceNames []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			res, err := tt.strategy.ConvertSheet(context.Background(), path, "Big", opts(dir), nil)
			if err != nil {
				t.Fatalf("ConvertSheet() error = %v", err)
			}
			if res.Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", res.Tier, tt.wantTier)
			}
			if res.Rows != 1200 || len(res.Files) != 3 {
				t.Fatalf("Rows = %d, files = %d; want 1200 rows in 3 files", res.Rows, len(res.Files))
			}

			got := readFiles(t, res.Files)
			names := dirEntries(t, dir)
			if reference == nil {
				reference, referenceNames = got, names
				return
			}
			if strings.Join(names, ",") != strings.Join(referenceNames, ",") {
				t.Errorf("file names = %v, want %v", names, referenceNames)
			}
			for i := range got {
				if got[i] != reference[i] {
					t.Errorf("file %d differs from the in-memory output", i)
				}
			}
		})
	}
}

func TestStrategy_EmptyWorksheet(t *testing.T) {
	path := sampleWorkbook(t)
	dir := t.TempDir()
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})

	_, err := s.ConvertSheet(context.Background(), path, "Empty", core.ConvertOptions{OutputDir: dir}, nil)
	if !errors.Is(err, core.ErrEmptyWorksheet) {
		t.Fatalf("error = %v, want ErrEmptyWorksheet", err)
	}
	var wsErr *core.WorksheetError
	if !errors.As(err, &wsErr) || wsErr.Sheet != "Empty" {
		t.Errorf("error = %#v, want WorksheetError for Empty", err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("empty worksheet left files: %v", names)
	}
}

func TestStrategy_BlankTierFallsThrough(t *testing.T) {
	path := sampleWorkbook(t)
	blank := blankSource{backend.NewMemory()}

	tests := []struct {
		name     string
		strategy *convert.Strategy
		sheet    string
		wantTier string
		wantErr  error
	}{
		{
			name:     "stream after blank memory",
			strategy: convert.NewStrategy(blank, backend.NewStream(), nil, convert.Options{}),
			sheet:    "Five",
			wantTier: backend.TierStream,
		},
		{
			name:     "engine after blank readers",
			strategy: convert.NewStrategy(blank, blankSource{backend.NewStream()}, fakeEngine(enginetest.OK), convert.Options{}),
			sheet:    "Five",
			wantTier: backend.TierEngine,
		},
		{
			name:     "every tier empty",
			strategy: convert.NewStrategy(backend.NewMemory(), backend.NewStream(), fakeEngine(enginetest.OK), convert.Options{}),
			sheet:    "Empty",
			wantErr:  core.ErrEmptyWorksheet,
		},
		{
			name:     "blank then hard failure",
			strategy: convert.NewStrategy(blank, unavailableSource{backend.NewStream()}, fakeEngine(enginetest.Fail), convert.Options{}),
			sheet:    "Five",
			wantErr:  core.ErrWorksheetConversionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			res, err := tt.strategy.ConvertSheet(context.Background(), path, tt.sheet, core.ConvertOptions{OutputDir: dir}, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if names := dirEntries(t, dir); len(names) != 0 {
					t.Errorf("failed conversion left files: %v", names)
				}
				return
			}
			if err != nil {
				t.Fatalf("ConvertSheet() error = %v", err)
			}
			if res.Tier != tt.wantTier || res.Rows != 5 {
				t.Errorf("result = %+v, want 5 rows from %s", res, tt.wantTier)
			}
		})
	}
}

func TestStrategy_PartialFilesRemoved(t *testing.T) {
	path := sampleWorkbook(t)
	dir := t.TempDir()
	s := convert.NewStrategy(brokenSource{RowSource: backend.NewMemory(), limit: 700}, nil, fakeEngine(enginetest.Fail), convert.Options{})

	_, err := s.ConvertSheet(context.Background(), path, "Big", core.ConvertOptions{OutputDir: dir, MaxRows: 500}, nil)
	if !errors.Is(err, core.ErrWorksheetConversionFailed) {
		t.Fatalf("error = %v, want ErrWorksheetConversionFailed", err)
	}
	if names := dirEntries(t, dir); len(names) != 0 {
		t.Errorf("failed tiers left files: %v", names)
	}
}

func TestStrategy_FallbackAfterPartialRead(t *testing.T) {
	path := sampleWorkbook(t)
	dir := t.TempDir()
	s := convert.NewStrategy(brokenSource{RowSource: backend.NewMemory(), limit: 700}, backend.NewStream(), nil, convert.Options{})

	res, err := s.ConvertSheet(context.Background(), path, "Big", core.ConvertOptions{OutputDir: dir, MaxRows: 500}, nil)
	if err != nil {
		t.Fatalf("ConvertSheet() error = %v", err)
	}
	if res.Tier != backend.TierStream || res.Rows != 1200 {
		t.Errorf("result = %+v, want 1200 rows from stream", res)
	}
	if names := dirEntries(t, dir); len(names) != 3 {
		t.Errorf("files = %v, want 3", names)
	}
}

func TestStrategy_EngineUnavailableIsFatal(t *testing.T) {
	path := sampleWorkbook(t)
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{LargeFileThreshold: 1})

	res, err := s.Convert(context.Background(), path, core.ConvertOptions{
		Worksheets: []string{"Data", "Five"},
		OutputDir:  t.TempDir(),
	}, nil)
	if !errors.Is(err, core.ErrEngineUnavailable) {
		t.Fatalf("Convert() error = %v, want ErrEngineUnavailable", err)
	}
	var wsErr *core.WorksheetError
	if errors.As(err, &wsErr) {
		t.Error("engine unavailability must not be reported per worksheet")
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
}

func TestStrategy_Convert_PartialSuccess(t *testing.T) {
	path := sampleWorkbook(t)
	dir := t.TempDir()
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})

	res, err := s.Convert(context.Background(), path, core.ConvertOptions{
		Worksheets: []string{"Empty", "Five"},
		OutputDir:  dir,
	}, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !res.Success || res.TotalRows != 5 {
		t.Errorf("result = %+v, want success with 5 rows", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Empty: ") {
		t.Errorf("Errors = %q, want one entry for Empty", res.Errors)
	}
	if len(res.Files) != 1 || filepath.Base(res.Files[0].Path) != "sample_Five.csv" || res.Files[0].Rows != 5 {
		t.Errorf("Files = %+v", res.Files)
	}
}

func TestStrategy_Convert_AllFail(t *testing.T) {
	path := sampleWorkbook(t)
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})

	res, err := s.Convert(context.Background(), path, core.ConvertOptions{
		Worksheets: []string{"Empty"},
		OutputDir:  t.TempDir(),
	}, nil)
	if !errors.Is(err, core.ErrWorksheetConversionFailed) {
		t.Fatalf("Convert() error = %v, want ErrWorksheetConversionFailed", err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v, want failure with message", res)
	}
}

func TestStrategy_Convert_InvalidInput(t *testing.T) {
	path := sampleWorkbook(t)
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})

	tests := []struct {
		name  string
		input string
		opts  core.ConvertOptions
	}{
		{"no worksheets", path, core.ConvertOptions{OutputDir: t.TempDir()}},
		{"duplicate worksheet", path, core.ConvertOptions{Worksheets: []string{"Data", "Data"}, OutputDir: t.TempDir()}},
		{"missing input", filepath.Join(t.TempDir(), "gone.xlsx"), core.ConvertOptions{Worksheets: []string{"Data"}, OutputDir: t.TempDir()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Convert(context.Background(), tt.input, tt.opts, nil)
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("Convert() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestStrategy_Convert_Cancelled(t *testing.T) {
	path := sampleWorkbook(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{})
	_, err := s.Convert(ctx, path, core.ConvertOptions{Worksheets: []string{"Big"}, OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Convert() error = %v, want context.Canceled", err)
	}
}

func TestStrategy_Convert_ProgressIsMonotonic(t *testing.T) {
	path := sampleWorkbook(t)
	s := convert.NewStrategy(backend.NewMemory(), backend.NewStream(), nil, convert.Options{CheckInterval: 100})

	var fractions []float64
	_, err := s.Convert(context.Background(), path, core.ConvertOptions{
		Worksheets: []string{"Big", "Five"},
		OutputDir:  t.TempDir(),
	}, func(p convert.Progress) {
		fractions = append(fractions, p.Fraction())
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if len(fractions) < 3 {
		t.Fatalf("got %d progress updates, want several", len(fractions))
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("progress went backwards: %v", fractions)
		}
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		t.Errorf("final fraction = %v, want 1", last)
	}
}
