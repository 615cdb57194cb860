// Package core holds the domain vocabulary shared by the spreadsheet
// processing engine: worksheet descriptors, conversion options and results,
// the error taxonomy, and the small pieces of I/O plumbing every layer needs.
//
// # Architecture
//
// The engine is layered leaves-first:
//
//   - backend: three adapters (in-memory, streaming, external engine) behind
//     one interface.
//   - convert: the row-limited / size-limited writer and the tiered strategy
//     that sequences adapters per worksheet.
//   - jobs: the background job manager that runs analysis and conversion
//     requests in isolated goroutines and multiplexes their events.
//   - viewer: the streaming paginated reader for CSV and spreadsheet files.
//
// This package depends on none of them, so every layer can share its types
// without import cycles.
//
// # Error Handling
//
// Failures are classified with sentinel errors ([ErrInvalidInput],
// [ErrSheetUnavailable], [ErrEmptyWorksheet], [ErrEngineUnavailable],
// [ErrWorksheetConversionFailed], [ErrJobFault], [ErrNotInitialized]) and
// matched with errors.Is. [MapError] turns any error into a user message with
// a support code:
//
//   - INP001-INP003: invalid requests
//   - SHT001-SHT003: worksheet failures
//   - ENG001-ENG003: external engine failures
//   - JOB001-JOB004: job lifecycle
//   - VWR001-VWR002: viewer sessions
//   - CSV001-CSV002: delimited input problems
//
// # Streaming Input
//
// CSV input is wrapped with BOM skipping, UTF-8 sanitization (or legacy
// charset decoding) and byte counting via [WrapForStreaming], keeping memory
// at O(buffer size) regardless of file size.
package core
