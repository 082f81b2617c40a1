package domain

import "time"

// Summary describes the precipitation collected across usable records.
// Totals are in inches; HPD values are hundredths of an inch.
type Summary struct {
	Records        int       `json:"records"`
	Excluded       int       `json:"excluded"`
	Stations       int       `json:"stations"`
	StartYear      int       `json:"start_year"`
	EndYear        int       `json:"end_year"`
	TotalInches    float64   `json:"total_inches"`
	AveragePerYear float64   `json:"average_per_year_inches"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Summarize totals the usable records. Deleted, missing-valued (99999) and
// questionable records are excluded. The yearly average divides by the span
// between the first and last year, or by one when they coincide.
func Summarize(records []FlaggedRecord) Summary {
	s := Summary{GeneratedAt: clock.Now().UTC()}
	stations := make(map[int]struct{})
	var hundredths int64

	for _, r := range records {
		if !r.Usable() {
			s.Excluded++
			continue
		}
		s.Records++
		stations[r.StationIndex] = struct{}{}
		hundredths += int64(r.DataValue)
		if s.StartYear == 0 || r.Year < s.StartYear {
			s.StartYear = r.Year
		}
		if r.Year > s.EndYear {
			s.EndYear = r.Year
		}
	}

	s.Stations = len(stations)
	s.TotalInches = float64(hundredths) / 100
	if s.Records > 0 {
		span := max(s.EndYear-s.StartYear, 1)
		s.AveragePerYear = s.TotalInches / float64(span)
	}
	return s
}
