package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"invalid input", InvalidInputf("no worksheets"), "INP001"},
		{"wrapped empty worksheet", NewWorksheetError("Q1", "memory", ErrEmptyWorksheet), "SHT002"},
		{"sheet unavailable", fmt.Errorf("tier memory: %w", ErrSheetUnavailable), "SHT001"},
		{"engine unavailable", &EngineUnavailableError{Tried: []string{"python3"}}, "ENG001"},
		{"engine busy", ErrTooManyProcesses, "ENG002"},
		{"engine run failure", &EngineError{Op: "convert", ExitCode: 1, Message: "boom"}, "ENG003"},
		{"job fault", fmt.Errorf("%w: panic: nil map", ErrJobFault), "JOB001"},
		{"cancelled", fmt.Errorf("convert: %w", context.Canceled), "JOB003"},
		{"viewer closed", ErrNotInitialized, "VWR001"},
		{"missing file", errors.New("open /tmp/x.xlsx: no such file or directory"), "INP002"},
		{"excelize missing sheet", errors.New("sheet Nope does not exist"), "VWR002"},
		{"csv quote error", errors.New(`record on line 3: bare " in non-quoted-field`), "CSV001"},
		{"case insensitive", errors.New("Unsupported Encoding \"ebcdic\""), "CSV002"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_SentinelBeatsPattern(t *testing.T) {
	// The message mentions a CSV parse error but the wrapped sentinel wins.
	err := fmt.Errorf("parse error in sheet: %w", ErrEmptyWorksheet)
	if got := MapError(err).Code; got != "SHT002" {
		t.Errorf("MapError() code = %q, want SHT002", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrJobNotFound)
	want := "Job not found (Code: JOB002). The job may have expired. Please start a new one"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known sentinel is user facing", ErrNotInitialized, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorksheetError(t *testing.T) {
	err := NewWorksheetError("Sheet2", "stream", ErrEmptyWorksheet)
	if got, want := err.Error(), "Sheet2: worksheet has no data rows"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrEmptyWorksheet) {
		t.Error("errors.Is(err, ErrEmptyWorksheet) = false")
	}
	var wsErr *WorksheetError
	if !errors.As(fmt.Errorf("job: %w", err), &wsErr) || wsErr.Tier != "stream" {
		t.Errorf("errors.As() failed to recover tier, got %+v", wsErr)
	}
}

func TestEngineError(t *testing.T) {
	cause := errors.New("exit status 2")
	err := &EngineError{Op: "list", ExitCode: 2, Err: cause}
	if got, want := err.Error(), "engine list failed (exit 2): exit status 2"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap() should return the cause")
	}

	withMsg := &EngineError{Op: "convert", ExitCode: 1, Message: "Sheet 'X' not found", Err: cause}
	if got, want := withMsg.Error(), "engine convert failed (exit 1): Sheet 'X' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEngineUnavailableError(t *testing.T) {
	err := &EngineUnavailableError{Tried: []string{"bundled binary", "python3"}}
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatal("errors.Is(err, ErrEngineUnavailable) = false")
	}
	msg := err.Error()
	for _, want := range []string{"bundled binary; python3", "pip install pandas openpyxl"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
