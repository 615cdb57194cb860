package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// waitDelay bounds how long Wait blocks for output pipes after the engine
// process has been killed.
const waitDelay = 2 * time.Second

// stderrTailLimit caps retained stderr.
const stderrTailLimit = 8 * 1024

var (
	readLineRe    = regexp.MustCompile(`^Read (\d+) rows`)
	createdLineRe = regexp.MustCompile(`^Created (.+) with (\d+) rows$`)
	successLineRe = regexp.MustCompile(`^SUCCESS: (\d+) rows`)
)

// EngineProgress is reported while a conversion subprocess runs.
type EngineProgress struct {
	Stage    string
	RowsRead int // 0 until the engine reports its row count
	Files    int // output files created so far
}

// ConvertRequest describes one sheet conversion by the engine.
type ConvertRequest struct {
	Input    string
	Sheet    string
	Output   string // first output file; parts follow as <base>_part<N>.csv
	MaxRows  int    // 0 = unlimited
	MaxBytes int64  // 0 = unlimited
}

// ConvertOutput is what the engine reported for a successful conversion.
type ConvertOutput struct {
	Files []core.OutputFile
	Rows  int
}

// Engine is the external engine adapter. Each call spawns one subprocess,
// gated by a ProcessLimiter.
type Engine struct {
	resolve ResolveFunc
	limiter *core.ProcessLimiter
	timeout time.Duration
}

// NewEngine creates an engine adapter. A zero timeout means no limit
// beyond the caller's context.
func NewEngine(resolve ResolveFunc, limiter *core.ProcessLimiter, timeout time.Duration) *Engine {
	if limiter == nil {
		limiter = core.NewProcessLimiter(core.DefaultMaxProcesses, core.DefaultMaxWait)
	}
	return &Engine{resolve: resolve, limiter: limiter, timeout: timeout}
}

func (e *Engine) Name() string { return TierEngine }

// Limiter exposes the subprocess limiter for status reporting.
func (e *Engine) Limiter() *core.ProcessLimiter { return e.limiter }

// listing is the JSON document printed by --list-sheets.
type listing struct {
	Success bool           `json:"success"`
	Sheets  []listingSheet `json:"sheets"`
	Error   string         `json:"error"`
}

type listingSheet struct {
	Name       string          `json:"name"`
	Columns    json.RawMessage `json:"columns"`
	Accessible *bool           `json:"accessible"`
	Rows       *int            `json:"rows"`
}

// columnCount accepts either a count or a list of column names.
func (s listingSheet) columnCount() int {
	if len(s.Columns) == 0 {
		return -1
	}
	var n int
	if err := json.Unmarshal(s.Columns, &n); err == nil {
		return n
	}
	var names []json.RawMessage
	if err := json.Unmarshal(s.Columns, &names); err == nil {
		return len(names)
	}
	return -1
}

// ListWorksheets runs the engine's sheet listing.
func (e *Engine) ListWorksheets(ctx context.Context, path string) ([]core.WorksheetDescriptor, error) {
	var stdout bytes.Buffer
	res, err := e.run(ctx, "list", []string{"--list-sheets", path}, func(line string) {
		stdout.WriteString(line)
		stdout.WriteByte('\n')
	})
	if err != nil {
		return nil, err
	}

	var doc listing
	if jerr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &doc); jerr != nil {
		if res.exitCode != 0 {
			return nil, res.failure("list", nil)
		}
		return nil, &core.EngineError{Op: "list", ExitCode: res.exitCode, Message: "invalid listing output", Err: jerr}
	}
	if res.exitCode != 0 || !doc.Success {
		msg := doc.Error
		if msg == "" {
			msg = res.stderrTail
		}
		return nil, &core.EngineError{Op: "list", ExitCode: res.exitCode, Message: msg, Err: res.waitErr}
	}

	out := make([]core.WorksheetDescriptor, 0, len(doc.Sheets))
	for _, s := range doc.Sheets {
		if s.Name == "" {
			continue
		}
		accessible := s.Accessible == nil || *s.Accessible
		rows := -1
		if s.Rows != nil {
			rows = *s.Rows
		}
		out = append(out, core.NewWorksheetDescriptor(s.Name, accessible, rows, s.columnCount()))
	}
	return out, nil
}

// ConvertSheet runs one sheet conversion. progress may be nil.
func (e *Engine) ConvertSheet(ctx context.Context, req ConvertRequest, progress func(EngineProgress)) (ConvertOutput, error) {
	args := []string{req.Input, req.Sheet, req.Output, formatLimit(int64(req.MaxRows)), formatMB(req.MaxBytes)}

	var (
		out      ConvertOutput
		rowsRead int
		success  bool
		errMsg   string
	)
	report := func(stage string) {
		if progress != nil {
			progress(EngineProgress{Stage: stage, RowsRead: rowsRead, Files: len(out.Files)})
		}
	}

	res, err := e.run(ctx, "convert", args, func(line string) {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ERROR:"):
			errMsg = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		case successLineRe.MatchString(line):
			m := successLineRe.FindStringSubmatch(line)
			out.Rows, _ = strconv.Atoi(m[1])
			success = true
		case createdLineRe.MatchString(line):
			m := createdLineRe.FindStringSubmatch(line)
			n, _ := strconv.Atoi(m[2])
			out.Files = append(out.Files, core.OutputFile{Path: m[1], Rows: n})
			report("writing")
		case readLineRe.MatchString(line):
			rowsRead, _ = strconv.Atoi(readLineRe.FindStringSubmatch(line)[1])
			report("read")
		case strings.HasPrefix(line, "Reading"):
			report("reading")
		}
	})
	if err != nil {
		return ConvertOutput{}, err
	}

	if res.exitCode != 0 || !success {
		if errMsg == "No data found" {
			return ConvertOutput{}, fmt.Errorf("%w: engine found no data", core.ErrEmptyWorksheet)
		}
		return ConvertOutput{}, res.failure("convert", errors.New(errMsg))
	}
	return out, nil
}

// ReadRows converts the sheet to a temporary CSV and reads the window from
// it. It is the slowest path and only used when nothing else can open the
// file. Rows are numbered after the engine drops blank rows, so row 0 is
// the first non-blank row.
func (e *Engine) ReadRows(ctx context.Context, path, sheet string, start, count int) ([]core.Row, error) {
	var rows []core.Row
	err := e.withTempCSV(ctx, path, sheet, func(out ConvertOutput) error {
		rows = make([]core.Row, 0, count)
		skipped := 0
		for _, file := range out.Files {
			if len(rows) >= count {
				break
			}
			if skipped+file.Rows <= start {
				skipped += file.Rows
				continue
			}
			got, err := readCSVWindow(file.Path, start-skipped, count-len(rows))
			if err != nil {
				return err
			}
			rows = append(rows, got...)
			skipped = start
		}
		return nil
	})
	return rows, err
}

// CountRows returns how many non-blank rows ReadRows can serve for sheet,
// header included. An empty sheet counts 0.
func (e *Engine) CountRows(ctx context.Context, path, sheet string) (int, error) {
	var n int
	err := e.withTempCSV(ctx, path, sheet, func(out ConvertOutput) error {
		n = out.Rows
		return nil
	})
	if errors.Is(err, core.ErrEmptyWorksheet) {
		return 0, nil
	}
	return n, err
}

func (e *Engine) withTempCSV(ctx context.Context, path, sheet string, fn func(ConvertOutput) error) error {
	dir, err := os.MkdirTemp("", "sheetflow-engine-read-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	out, err := e.ConvertSheet(ctx, ConvertRequest{
		Input:  path,
		Sheet:  sheet,
		Output: filepath.Join(dir, "sheet.csv"),
	}, nil)
	if err != nil {
		return err
	}
	return fn(out)
}

func readCSVWindow(path string, start, count int) ([]core.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows []core.Row
	for i := 0; len(rows) < count; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if i >= start {
			rows = append(rows, core.Row(rec))
		}
	}
	return rows, nil
}

type runResult struct {
	exitCode   int
	stderrTail string
	waitErr    error
}

func (r runResult) failure(op string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = r.stderrTail
	}
	if msg == "" && r.waitErr != nil {
		msg = r.waitErr.Error()
	}
	return &core.EngineError{Op: op, ExitCode: r.exitCode, Message: msg, Err: r.waitErr}
}

// run starts the engine with args and feeds each stdout line to onLine.
// A non-nil error means the process could not be run at all; exit status
// is reported through runResult.
func (e *Engine) run(ctx context.Context, op string, args []string, onLine func(string)) (runResult, error) {
	resolved, err := e.resolve(ctx)
	if err != nil {
		return runResult{}, err
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return runResult{}, err
	}
	defer e.limiter.Release()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx)
	logger.Debug("starting engine", "op", op, "mode", resolved.Mode, "path", resolved.Path)

	cmd := exec.CommandContext(ctx, resolved.Path, append(append([]string{}, resolved.Args...), args...)...)
	cmd.Env = append(os.Environ(), resolved.Env...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{}, fmt.Errorf("failed to create engine stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return runResult{}, &core.EngineUnavailableError{Tried: []string{fmt.Sprintf("%s (%v)", resolved.Path, err)}}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return runResult{}, ctxErr
	}

	res := runResult{stderrTail: lastLine(stderr.String(), nil), waitErr: waitErr}
	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		res.exitCode = exitErr.ExitCode()
	case waitErr != nil:
		res.exitCode = -1
	}
	if scanErr != nil && waitErr == nil {
		return runResult{}, fmt.Errorf("failed while reading engine output: %w", scanErr)
	}

	if res.exitCode != 0 {
		logger.Warn("engine exited with error", "op", op, "exit_code", res.exitCode, "stderr", res.stderrTail)
	}
	return res, nil
}

func formatLimit(n int64) string {
	if n <= 0 {
		return "None"
	}
	return strconv.FormatInt(n, 10)
}

func formatMB(n int64) string {
	if n <= 0 {
		return "None"
	}
	return strconv.FormatFloat(float64(n)/(1024*1024), 'f', -1, 64)
}

// lastLine returns the last non-blank line of s, falling back to err.
func lastLine(s string, err error) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
