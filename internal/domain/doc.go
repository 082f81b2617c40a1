// Package domain models NOAA Hourly Precipitation Data (HPD) station records.
//
// # Data Source
//
// HPD files (dataset DSI-3240) are published per state on the NOAA FTP server
// under /pub/data/hourly_precip-3240/<state code>/ as compressed tar archives.
// Each archive holds fixed-width text files, one observation per line. The
// download stage extracts and concatenates them into a single combined file
// per state, which is the input of [ReadRecords].
//
// # Record Layout
//
// Columns are half-open byte ranges into the line:
//
//	[0,3)   record type          "HPD"
//	[3,5)   state code           "02" (Arizona)
//	[5,9)   cooperative station  "0080"
//	[9,11)  climate division     "00"
//	[11,15) element type         "HPCP"
//	[15,17) element units        "HT" (hundredths of inches), "HI"
//	[17,21) year
//	[21,23) month
//	[23,27) day
//	[27,30) reported value count
//	[30,34) time of value        HHMM, "2500" marks a daily total
//	[34,40) data value           hundredths of an inch, 99999 when missing
//	[40,42) flag                 annotation code, often blank
//
// See ftp://ftp.ncdc.noaa.gov/pub/data/hourly_precip-3240/dsi3240.pdf.
//
// # Flag Annotations
//
// The flag column carries single-character codes. Most describe the value on
// the line itself ("g" for a day that starts with zero, "Q" for questionable
// data). Two pairs delimit spans of records instead:
//
//	{ ... }   values between the brackets were deleted
//	[ ... ]   values between the brackets are missing
//
// Operators frequently re-open a deletion window before the previous one is
// closed, so a station's stream may read "{", "{", "}", ..., "}". Spans are
// resolved by pairing the i-th open with the i-th close over the whole
// sequence, see [ResolveIntervals]. Markers left over when the counts differ
// only flag their own record.
package domain
