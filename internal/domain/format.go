package domain

import (
	"fmt"
	"strings"
)

// FormatLine renders r in the fixed-width HPD layout. Trailing blanks from an
// empty flag are trimmed, as in the published files.
func FormatLine(r Record) string {
	line := fmt.Sprintf("%-3.3s%02d%04d%02d%-4.4s%-2.2s%04d%02d%04d%03d%04d%06d%-2.2s",
		r.RecordType, r.StateCode, r.StationIndex, r.Division,
		r.ElementType, r.ElementUnits, r.Year, r.Month, r.Day,
		r.ReportedValues, r.TimeOfValue, r.DataValue, r.Flag)
	return strings.TrimRight(line, " ")
}
