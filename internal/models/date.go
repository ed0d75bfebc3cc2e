// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package models holds the domain types shared across healthsync packages:
// calendar dates, date ranges, sources and normalized metrics.
package models

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time component. The zero value is not a
// valid date.
type Date struct {
	t time.Time
}

// NewDate returns the calendar day of year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for constants; it panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// String formats d as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format(DateLayout) }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is later than o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// Start returns midnight of d in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), 0, 0, 0, 0, loc)
}

// End returns the last second of d in loc.
func (d Date) End(loc *time.Location) time.Time {
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), 23, 59, 59, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range is an inclusive span of calendar days.
type Range struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NewRange builds a validated range.
func NewRange(start, end Date) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// ParseRange parses two YYYY-MM-DD strings into a validated range.
func ParseRange(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, err
	}
	return NewRange(s, e)
}

// SingleDay returns the range covering only d.
func SingleDay(d Date) Range {
	return Range{Start: d, End: d}
}

// LastDays returns the range of n days ending on end, inclusive.
func LastDays(end Date, n int) Range {
	if n < 1 {
		n = 1
	}
	return Range{Start: end.AddDays(-(n - 1)), End: end}
}

// Validate checks that both ends are set and ordered.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("range start and end are required")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("range end %s is before start %s", r.End, r.Start)
	}
	return nil
}

// Days lists every day of the range in order.
func (r Range) Days() []Date {
	var days []Date
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (r Range) String() string {
	return r.Start.String() + "_to_" + r.End.String()
}
