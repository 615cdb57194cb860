// Package convert turns worksheets into delimited text files.
//
// A Writer splits one worksheet's rows across files bounded by a row count
// and/or a byte size. A Strategy picks the reader for each worksheet,
// falling back from the in-memory reader to the streaming reader to the
// external engine.
package convert

import (
	"strings"

	"github.com/kcoder666/sheetflow/internal/core"
)

// QuoteCell serializes one cell. Cells containing a comma, a double quote
// or a line break are wrapped in quotes with inner quotes doubled; all
// other cells are emitted verbatim.
func QuoteCell(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// SerializeRow renders row as one CSV record without the trailing newline.
func SerializeRow(row core.Row) string {
	switch len(row) {
	case 0:
		return ""
	case 1:
		return QuoteCell(row[0])
	}

	var b strings.Builder
	for i, cell := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(QuoteCell(cell))
	}
	return b.String()
}
