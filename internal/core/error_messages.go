package core

// # Error Codes Reference
//
// Codes are grouped by category so users can quote them to support:
//
//	INP001 - Invalid request (ErrInvalidInput)
//	INP002 - File not found ("no such file")
//	INP003 - Unsupported file type ("unsupported file")
//
//	SHT001 - Worksheet unreadable (ErrSheetUnavailable)
//	SHT002 - Worksheet empty (ErrEmptyWorksheet)
//	SHT003 - Worksheet conversion failed (ErrWorksheetConversionFailed)
//
//	ENG001 - Engine not installed (ErrEngineUnavailable)
//	ENG002 - Engine busy (ErrTooManyProcesses)
//	ENG003 - Engine run failed ("engine convert failed", "engine list failed")
//
//	JOB001 - Job crashed (ErrJobFault)
//	JOB002 - Job not found (ErrJobNotFound)
//	JOB003 - Job cancelled (context.Canceled)
//	JOB004 - Job timed out (context.DeadlineExceeded)
//
//	VWR001 - No file open (ErrNotInitialized)
//	VWR002 - Sheet not found ("sheet not found", "does not exist")
//
//	CSV001 - Malformed CSV ("parse error", "bare \" in non-quoted-field")
//	CSV002 - Encoding problem ("encoding error", "unsupported encoding")
//
//	ERR000 - Unknown error
//
// Sentinels are matched with errors.Is before falling back to the
// case-insensitive message patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrInvalidInput, UserMessage{"The request is invalid", "Check the file path and conversion options", "INP001"}},
	{ErrEngineUnavailable, UserMessage{"The fallback conversion engine is not available", EngineInstallGuidance, "ENG001"}},
	{ErrTooManyProcesses, UserMessage{"The conversion engine is busy", "Please wait a moment and try again", "ENG002"}},
	{ErrEmptyWorksheet, UserMessage{"The worksheet contains no data", "Select a worksheet with at least one non-empty row", "SHT002"}},
	{ErrSheetUnavailable, UserMessage{"The worksheet could not be read", "Re-save the workbook and try again", "SHT001"}},
	{ErrWorksheetConversionFailed, UserMessage{"The worksheet could not be converted", "Check the job errors for details", "SHT003"}},
	{ErrJobFault, UserMessage{"The job stopped unexpectedly", "Please try again or contact support", "JOB001"}},
	{ErrJobNotFound, UserMessage{"Job not found", "The job may have expired. Please start a new one", "JOB002"}},
	{context.Canceled, UserMessage{"The job was cancelled", "Start a new job when ready", "JOB003"}},
	{context.DeadlineExceeded, UserMessage{"The job timed out", "Try a smaller file or raise ENGINE_TIMEOUT", "JOB004"}},
	{ErrNotInitialized, UserMessage{"No file is open in the viewer", "Open a file before reading pages", "VWR001"}},
}

var errorPatterns = []errorPattern{
	{"no such file", UserMessage{"File not found", "Verify the path points to an existing file", "INP002"}},
	{"unsupported file", UserMessage{"Unsupported file type", "Use a .xlsx, .xlsm or .csv file", "INP003"}},
	{"engine convert failed", UserMessage{"The conversion engine reported an error", "Check the engine output in the logs", "ENG003"}},
	{"engine list failed", UserMessage{"The conversion engine could not list worksheets", "Check the engine output in the logs", "ENG003"}},
	{"sheet not found", UserMessage{"Worksheet not found", "Pick one of the listed worksheets", "VWR002"}},
	{"does not exist", UserMessage{"Worksheet not found", "Pick one of the listed worksheets", "VWR002"}},
	{"parse error", UserMessage{"The CSV file is malformed", "Ensure quotes are balanced and rows are comma-separated", "CSV001"}},
	{"bare \" in non-quoted-field", UserMessage{"The CSV file is malformed", "Ensure quotes are balanced and rows are comma-separated", "CSV001"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file as UTF-8 or set VIEWER_CSV_ENCODING", "CSV002"}},
	{"unsupported encoding", UserMessage{"File encoding is not supported", "Use utf-8, windows-1252 or iso-8859-1", "CSV002"}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("sheet %q: %w", "Q1", ErrEmptyWorksheet))
//	// msg.Code == "SHT002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
