package util

import (
	"time"
)

// Layouts for names derived from the wall clock.
const (
	DateFolderLayout = time.DateOnly     // 2006-01-02, used for export date buckets
	FileStampLayout  = "20060102_150405" // Matches the stamp charset
	humanTimeFormat  = "2 Jan 2006 15:04 MST"
)

// DateFolder returns the YYYY-MM-DD bucket for t in local time.
func DateFolder(t time.Time) string {
	return t.Local().Format(DateFolderLayout)
}

// FileStamp returns a [0-9_] timestamp for t in local time.
func FileStamp(t time.Time) string {
	return t.Local().Format(FileStampLayout)
}

// FormatHumanTime converts an RFC3339 timestamp to human-readable local time format.
func FormatHumanTime(rfc3339 string) string {
	if rfc3339 == "" || rfc3339 == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Local().Format(humanTimeFormat)
}
