// Command validate checks the transformed table of each state against the
// combined raw data it was derived from. It verifies row counts, positional
// field alignment, and that the deleted and missing flags recompute to the
// same values.
//
// Usage:
//
//	go run ./cmd/validate -data-dir data -states AZ,NM
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/precip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/pipeline"
)

// maxReported caps the number of mismatches recorded per phase.
const maxReported = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	hidden int
}

func (p *phase) errorf(format string, args ...any) {
	if len(p.errors) >= maxReported {
		p.hidden++
		return
	}
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "data", "pipeline data directory")
	stateList := flag.String("states", "AZ", "comma-separated state abbreviations")
	flag.Parse()

	states, err := domain.ParseStates(strings.Split(*stateList, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(2)
	}

	if code := run(*dataDir, states); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir string, states []domain.State) int {
	fmt.Println("=== HPD Transform Validation ===")

	allPassed := true
	for _, state := range states {
		if !validateState(dataDir, state) {
			allPassed = false
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateState(dataDir string, state domain.State) bool {
	paths := pipeline.PathsFor(dataDir, state)
	fmt.Printf("\n[%s] %s\n", state.Name, paths.Transformed)

	raw, err := loadCombined(paths.Combined)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  FATAL: load combined: %v\n", err)
		return false
	}
	table, err := csvfile.NewTable().Read(paths.Transformed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  FATAL: load transformed: %v\n", err)
		return false
	}

	phases := []*phase{
		validateRowCount(raw, table),
		validateFieldAlignment(raw, table),
		validateFlags(raw, table),
	}

	ok := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors)+p.hidden)
			ok = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	fmt.Printf("  Records: %d combined, %d transformed\n", len(raw), len(table))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n  --- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("    [%d] %s\n", i+1, e)
		}
		if p.hidden > 0 {
			fmt.Printf("    ... and %d more\n", p.hidden)
		}
	}
	return ok
}

func loadCombined(path string) ([]domain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return domain.ReadRecords(f)
}

// ── Validation phases ──

func validateRowCount(raw []domain.Record, table []domain.FlaggedRecord) *phase {
	p := &phase{name: "Row count"}
	if len(raw) != len(table) {
		p.errorf("combined has %d records, transformed has %d", len(raw), len(table))
	}
	return p
}

func validateFieldAlignment(raw []domain.Record, table []domain.FlaggedRecord) *phase {
	p := &phase{name: "Field alignment"}
	for i := range min(len(raw), len(table)) {
		if raw[i] != table[i].Record {
			p.errorf("row %d: combined %q, transformed %q", i+1, domain.FormatLine(raw[i]), domain.FormatLine(table[i].Record))
			continue
		}
		if !table[i].Date.Equal(raw[i].Date()) {
			p.errorf("row %d: date %s, want %s", i+1, table[i].Date.Format("2006-01-02"), raw[i].Date().Format("2006-01-02"))
		}
	}
	return p
}

func validateFlags(raw []domain.Record, table []domain.FlaggedRecord) *phase {
	p := &phase{name: "Deleted and missing flags"}
	annotations := domain.Annotations(raw)
	deleted := domain.ResolveIntervals(annotations, domain.DeletedMarkers)
	missing := domain.ResolveIntervals(annotations, domain.MissingMarkers)

	for i := range min(len(raw), len(table)) {
		if table[i].WasDeleted != deleted[i] {
			p.errorf("row %d: Was-Deleted %t, recomputed %t", i+1, table[i].WasDeleted, deleted[i])
		}
		if table[i].IsMissing != missing[i] {
			p.errorf("row %d: Is-Missing %t, recomputed %t", i+1, table[i].IsMissing, missing[i])
		}
	}
	return p
}
