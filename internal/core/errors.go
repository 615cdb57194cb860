package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Match with errors.Is.
var (
	// ErrInvalidInput rejects a request before any job is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSheetUnavailable is raised inside the tiers to trigger fallback.
	ErrSheetUnavailable = errors.New("sheet unavailable")

	// ErrEmptyWorksheet marks a worksheet with no non-empty rows.
	ErrEmptyWorksheet = errors.New("worksheet has no data rows")

	// ErrEngineUnavailable means the external engine could not be resolved.
	ErrEngineUnavailable = errors.New("conversion engine unavailable")

	// ErrWorksheetConversionFailed marks a worksheet every tier failed on.
	ErrWorksheetConversionFailed = errors.New("worksheet conversion failed")

	// ErrJobFault reports a crash inside a job's execution unit.
	ErrJobFault = errors.New("job fault")

	// ErrNotInitialized is returned by viewer operations without an open file.
	ErrNotInitialized = errors.New("reader not initialized")

	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrTooManyProcesses is returned when no engine slot frees up in time.
	ErrTooManyProcesses = errors.New("too many engine processes running, please try again later")
)

// InvalidInputf wraps ErrInvalidInput with a formatted reason.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// WorksheetError is a failure scoped to one worksheet. Its message starts
// with the sheet name so it can be reported as-is in a result's error list.
type WorksheetError struct {
	Sheet string
	Tier  string // adapter that produced the final error, "" if none ran
	Err   error
}

func (e *WorksheetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sheet, e.Err)
}

func (e *WorksheetError) Unwrap() error {
	return e.Err
}

// NewWorksheetError creates a WorksheetError.
func NewWorksheetError(sheet, tier string, err error) *WorksheetError {
	return &WorksheetError{Sheet: sheet, Tier: tier, Err: err}
}

// EngineError describes a failed engine subprocess invocation.
type EngineError struct {
	Op       string // "list" or "convert"
	ExitCode int
	Message  string // ERROR: line from stdout, or last stderr line
	Err      error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("engine %s failed (exit %d): %s", e.Op, e.ExitCode, msg)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// EngineUnavailableError lists every resolution attempt and how to fix it.
type EngineUnavailableError struct {
	Tried []string
}

// EngineInstallGuidance tells users how to make the fallback engine available.
const EngineInstallGuidance = "install Python 3 with pandas and openpyxl (pip install pandas openpyxl), " +
	"or set ENGINE_BINARY to a bundled engine executable"

func (e *EngineUnavailableError) Error() string {
	tried := "nothing"
	if len(e.Tried) > 0 {
		tried = strings.Join(e.Tried, "; ")
	}
	return fmt.Sprintf("%v (tried: %s): %s", ErrEngineUnavailable, tried, EngineInstallGuidance)
}

func (e *EngineUnavailableError) Unwrap() error {
	return ErrEngineUnavailable
}
