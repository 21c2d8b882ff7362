package utils

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
	}
	return t, nil
}

// NormalizeDate truncates t to the calendar day it falls on in UTC.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Nights counts the nights between two calendar dates.
func Nights(checkin, checkout time.Time) int {
	in, out := NormalizeDate(checkin), NormalizeDate(checkout)
	if !out.After(in) {
		return 0
	}
	return int(out.Sub(in).Hours() / 24)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
