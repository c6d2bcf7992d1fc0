package utils

import "time"

// Millis converts t to Unix milliseconds, the timestamp format stored in the tree.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// StartOfDayMillis returns midnight UTC of the day containing ms.
func StartOfDayMillis(ms int64) int64 {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}
