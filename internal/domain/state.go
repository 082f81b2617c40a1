package domain

import (
	"fmt"
	"sort"
	"strings"
)

// State is an HPD state or territory, identified by its numeric state code.
type State struct {
	Name string
	Num  int
}

// Code returns the zero-padded two-digit code used for FTP and data directories.
func (s State) Code() string {
	return fmt.Sprintf("%02d", s.Num)
}

func (s State) String() string { return s.Name }

// states uses the abbreviations of the HPD documentation, which differ from
// USPS codes in a few places (GE for Georgia, IO for Iowa, TE/TA for
// Tennessee/Texas).
var states = map[string]int{
	"AL": 1, "AZ": 2, "AR": 3, "CA": 4, "CO": 5, "CT": 6, "DE": 7, "FL": 8,
	"GE": 9, "ID": 10, "IL": 11, "IN": 12, "IO": 13, "KA": 14, "KY": 15, "LO": 16,
	"ME": 17, "MD": 18, "MA": 19, "MI": 20, "MN": 21, "MS": 22, "MO": 23, "MT": 24,
	"NE": 25, "NV": 26, "NH": 27, "NJ": 28, "NM": 29, "NY": 30, "NC": 31, "ND": 32,
	"OH": 33, "OK": 34, "OR": 35, "PA": 36, "RI": 37, "SC": 38, "SD": 39, "TE": 40,
	"TA": 41, "UT": 42, "VT": 43, "VA": 44, "WA": 45, "WV": 46, "WI": 47, "WY": 48,
	"AK": 50, "HI": 51, "PR": 66, "VI": 67, "PI": 91,
}

// ParseState resolves a state abbreviation, case-insensitively.
func ParseState(name string) (State, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	num, ok := states[name]
	if !ok {
		return State{}, fmt.Errorf("unknown state %q", name)
	}
	return State{Name: name, Num: num}, nil
}

// ParseStates resolves a list of abbreviations, failing on the first unknown one.
func ParseStates(names []string) ([]State, error) {
	out := make([]State, 0, len(names))
	for _, n := range names {
		s, err := ParseState(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// StateNames returns all known abbreviations sorted by state code.
func StateNames() []string {
	names := make([]string, 0, len(states))
	for n := range states {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return states[names[i]] < states[names[j]] })
	return names
}
