package core

// infer.go classifies cell text as number, date or boolean for column type
// inference in the viewer. Parsing tolerates the usual spreadsheet export
// noise: currency symbols, thousands separators, accounting negatives and
// Excel formula prefixes.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?%?$`)

// TwoDigitYearPivot controls 2-digit years: a year more than this many years
// in the future is moved back one century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
	}
)

// CleanCell trims whitespace, strips an Excel formula prefix (="...") and
// surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.Trim(s, `"'`)
}

// ParseNumber parses s as a decimal. Valid is false when s is not numeric.
func ParseNumber(s string) pgtype.Numeric {
	s = CleanCell(s)
	if s == "" {
		return pgtype.Numeric{}
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{}
	}
	s = strings.TrimSuffix(s, "%")

	// Numeric.Scan takes plain decimals only.
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pgtype.Numeric{}
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "-.") || strings.HasPrefix(s, "+.") {
		s = strings.Replace(s, ".", "0.", 1)
	}
	s = strings.TrimPrefix(s, "+")

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

// ParseDate parses s against the supported layouts. Four-digit years are
// tried first since they are unambiguous.
func ParseDate(s string) pgtype.Date {
	s = CleanCell(s)
	if s == "" {
		return pgtype.Date{}
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	return pgtype.Date{}
}

// ParseBool accepts true/false, yes/no and y/n in any case. Bare 1/0 are
// left to ParseNumber.
func ParseBool(s string) pgtype.Bool {
	switch strings.ToLower(CleanCell(s)) {
	case "true", "yes", "y":
		return pgtype.Bool{Bool: true, Valid: true}
	case "false", "no", "n":
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{}
	}
}

// InferColumnType picks the narrowest type every non-empty sample satisfies,
// in the order number, boolean, date. Columns with no non-empty sample are
// text.
func InferColumnType(samples []string) ColumnType {
	number, boolean, date := true, true, true
	seen := 0

	for _, s := range samples {
		if strings.TrimSpace(s) == "" {
			continue
		}
		seen++
		if number && !ParseNumber(s).Valid {
			number = false
		}
		if boolean && !ParseBool(s).Valid {
			boolean = false
		}
		if date && !ParseDate(s).Valid {
			date = false
		}
		if !number && !boolean && !date {
			return ColumnText
		}
	}

	switch {
	case seen == 0:
		return ColumnText
	case number:
		return ColumnNumber
	case boolean:
		return ColumnBoolean
	case date:
		return ColumnDate
	default:
		return ColumnText
	}
}

// InferColumns builds column descriptors from header names and sample rows.
// Blank header cells fall back to positional labels.
func InferColumns(header []string, samples []Row) []Column {
	width := len(header)
	for _, r := range samples {
		if len(r) > width {
			width = len(r)
		}
	}

	cols := make([]Column, width)
	values := make([]string, 0, len(samples))
	for i := range cols {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = PositionalColumnName(i)
		}

		values = values[:0]
		for _, r := range samples {
			if i < len(r) {
				values = append(values, r[i])
			}
		}
		cols[i] = Column{Index: i, Name: name, Type: InferColumnType(values)}
	}
	return cols
}
