package domain

import "strings"

// MarkerPair is the open and close character of an annotated interval.
type MarkerPair struct {
	Open  rune
	Close rune
}

var (
	// DeletedMarkers delimit records that were later deleted.
	DeletedMarkers = MarkerPair{Open: '{', Close: '}'}

	// MissingMarkers delimit records that are marked missing.
	MissingMarkers = MarkerPair{Open: '[', Close: ']'}
)

// ResolveIntervals flags every position that falls inside an interval
// delimited by m in the ordered annotations.
//
// The i-th annotation containing m.Open is paired with the i-th annotation
// containing m.Close, and every position from the open up to the close is
// flagged. Pairing is positional only: when one marker outnumbers the other the
// surplus markers are left unpaired. Every marker, paired or not, flags its own
// position.
//
// The result always has len(annotations) entries.
func ResolveIntervals(annotations []string, m MarkerPair) []bool {
	flags := make([]bool, len(annotations))

	var starts, ends []int
	for i, a := range annotations {
		if strings.ContainsRune(a, m.Open) {
			starts = append(starts, i)
		}
		if strings.ContainsRune(a, m.Close) {
			ends = append(ends, i)
		}
	}

	n := min(len(starts), len(ends))
	for i := range n {
		for p := starts[i]; p < ends[i]; p++ {
			flags[p] = true
		}
	}

	for _, p := range starts {
		flags[p] = true
	}
	for _, p := range ends {
		flags[p] = true
	}

	return flags
}

// Annotations projects the flag column of records, preserving order.
func Annotations(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Flag
	}
	return out
}

// WasDeleted flags records inside a "{ ... }" deletion interval.
func WasDeleted(records []Record) []bool {
	return ResolveIntervals(Annotations(records), DeletedMarkers)
}

// IsMissing flags records inside a "[ ... ]" missing interval.
func IsMissing(records []Record) []bool {
	return ResolveIntervals(Annotations(records), MissingMarkers)
}
