package core

import (
	"fmt"
	"strings"
)

// Complexity buckets a worksheet by row count so callers can size their
// worker allocation.
type Complexity string

const (
	ComplexitySmall  Complexity = "small"
	ComplexityMedium Complexity = "medium"
	ComplexityLarge  Complexity = "large"
)

// Row-count ladder for Complexity.
const (
	SmallRowLimit  = 1000
	MediumRowLimit = 10000
)

// ClassifyRows maps a row count onto the complexity ladder.
func ClassifyRows(rows int) Complexity {
	switch {
	case rows < SmallRowLimit:
		return ComplexitySmall
	case rows < MediumRowLimit:
		return ComplexityMedium
	default:
		return ComplexityLarge
	}
}

// WorksheetDescriptor describes one worksheet discovered during analysis.
// Descriptors are values; nothing mutates one after it is emitted.
type WorksheetDescriptor struct {
	// Name is unique within the workbook and never empty.
	Name string `json:"name"`
	// Accessible is false when no adapter could materialize the sheet.
	Accessible bool `json:"accessible"`
	// EstimatedRows is nil when the row count is not known yet.
	EstimatedRows *int `json:"estimatedRows,omitempty"`
	// EstimatedColumns is nil when the column count is not known yet.
	EstimatedColumns *int `json:"estimatedColumns,omitempty"`
	// Complexity is derived from EstimatedRows (small when unknown).
	Complexity Complexity `json:"complexity"`
}

// NewWorksheetDescriptor builds a descriptor. Negative counts mean unknown.
func NewWorksheetDescriptor(name string, accessible bool, rows, cols int) WorksheetDescriptor {
	d := WorksheetDescriptor{
		Name:       name,
		Accessible: accessible,
		Complexity: ComplexitySmall,
	}
	if rows >= 0 {
		d.EstimatedRows = &rows
		d.Complexity = ClassifyRows(rows)
	}
	if cols >= 0 {
		d.EstimatedColumns = &cols
	}
	return d
}

// Rows returns the estimated row count, or -1 when unknown.
func (d WorksheetDescriptor) Rows() int {
	if d.EstimatedRows == nil {
		return -1
	}
	return *d.EstimatedRows
}

// Row is one spreadsheet or CSV row. Missing cells are empty strings.
type Row []string

// IsEmpty reports whether every cell is empty after trimming whitespace.
func (r Row) IsEmpty() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// OutputFile records one file produced for a worksheet.
type OutputFile struct {
	Path string `json:"path"`
	Rows int    `json:"rowCount"`
}

// ConvertOptions configures a conversion request.
type ConvertOptions struct {
	// Worksheets is the ordered, non-empty set of sheets to convert.
	Worksheets []string `json:"worksheets"`
	// OutputDir receives every output file.
	OutputDir string `json:"outputDir"`
	// MaxRows caps rows per output file (0 = unlimited).
	MaxRows int `json:"maxRows,omitempty"`
	// MaxFileSize caps bytes per output file (0 = unlimited).
	MaxFileSize int64 `json:"maxFileSize,omitempty"`
}

// Validate checks the options and reports problems as ErrInvalidInput.
func (o ConvertOptions) Validate() error {
	if len(o.Worksheets) == 0 {
		return InvalidInputf("at least one worksheet must be selected")
	}
	seen := make(map[string]bool, len(o.Worksheets))
	for _, name := range o.Worksheets {
		if strings.TrimSpace(name) == "" {
			return InvalidInputf("worksheet name must not be empty")
		}
		if seen[name] {
			return InvalidInputf("worksheet %q selected twice", name)
		}
		seen[name] = true
	}
	if strings.TrimSpace(o.OutputDir) == "" {
		return InvalidInputf("output directory is required")
	}
	if o.MaxRows < 0 {
		return InvalidInputf("max rows must be positive, got %d", o.MaxRows)
	}
	if o.MaxFileSize < 0 {
		return InvalidInputf("max file size must be positive, got %d", o.MaxFileSize)
	}
	return nil
}

// ConvertResult is the outcome of a conversion job.
//
// Success stays true when only some worksheets failed; Errors then lists
// one "<sheet>: <reason>" entry per failed worksheet.
type ConvertResult struct {
	Success   bool         `json:"success"`
	TotalRows int          `json:"totalRows"`
	Files     []OutputFile `json:"files"`
	Errors    []string     `json:"errors,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// WorksheetListing is the outcome of an analysis job.
type WorksheetListing struct {
	Success    bool                  `json:"success"`
	Worksheets []WorksheetDescriptor `json:"worksheets"`
	Error      string                `json:"error,omitempty"`
}

// ColumnType is the inferred type of a column's values.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnNumber  ColumnType = "number"
	ColumnDate    ColumnType = "date"
	ColumnBoolean ColumnType = "boolean"
)

// Column describes one column of a viewed file.
type Column struct {
	Index int        `json:"index"`
	Name  string     `json:"name"`
	Type  ColumnType `json:"type"`
}

// PositionalColumnName is the fallback label for a column without a header.
func PositionalColumnName(index int) string {
	return fmt.Sprintf("Column %d", index+1)
}
