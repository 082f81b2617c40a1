package domain

import (
	"strings"
	"time"
)

const (
	// MissingValue is the HPD sentinel written in place of a data value that
	// was not recorded or was later deleted.
	MissingValue = 99999

	// QualityFlag marks a value as questionable.
	QualityFlag = "Q"

	// DailyTotalTime is the time of value carried by a station's daily total.
	DailyTotalTime = 2500
)

// Record is one parsed line of an HPD file.
type Record struct {
	RecordType     string `json:"record_type"`
	StateCode      int    `json:"state_code"`
	StationIndex   int    `json:"station_index"`
	Division       int    `json:"division"`
	ElementType    string `json:"element_type"`
	ElementUnits   string `json:"element_units"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Day            int    `json:"day"`
	ReportedValues int    `json:"reported_values"`
	TimeOfValue    int    `json:"time_of_value"`
	DataValue      int    `json:"data_value"`
	Flag           string `json:"flag,omitempty"`
}

// Date returns the observation date at midnight UTC.
func (r Record) Date() time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.Day, 0, 0, 0, 0, time.UTC)
}

// DailyTotal reports whether the record is a daily total rather than an
// hourly value.
func (r Record) DailyTotal() bool {
	return r.TimeOfValue == DailyTotalTime
}

// Questionable reports whether the flag marks the value as questionable.
func (r Record) Questionable() bool {
	return strings.Contains(r.Flag, QualityFlag)
}

// FlaggedRecord is a Record with its derived quality flags attached.
type FlaggedRecord struct {
	Record
	Date       time.Time `json:"date"`
	WasDeleted bool      `json:"was_deleted"`
	IsMissing  bool      `json:"is_missing"`
}

// Usable reports whether the record contributes to precipitation totals:
// it was not deleted, carries a real value, and is not questionable.
func (f FlaggedRecord) Usable() bool {
	return !f.WasDeleted && f.DataValue != MissingValue && !f.Questionable()
}

// AttachFlags zips records with their deleted and missing flags by position.
// All three slices must have the same length.
func AttachFlags(records []Record, deleted, missing []bool) []FlaggedRecord {
	out := make([]FlaggedRecord, len(records))
	for i, r := range records {
		out[i] = FlaggedRecord{
			Record:     r,
			Date:       r.Date(),
			WasDeleted: deleted[i],
			IsMissing:  missing[i],
		}
	}
	return out
}
