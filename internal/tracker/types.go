// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package tracker

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// Decimal accepts wger decimal fields, which arrive as JSON strings, as well
// as plain numbers. It encodes as a number.
type Decimal float64

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*d = Decimal(f)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*d = Decimal(f)
	return nil
}

// Category is a wger measurement category.
type Category struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Measurement is one value under a category on a date.
type Measurement struct {
	ID       int     `json:"id,omitempty"`
	Category int     `json:"category"`
	Date     string  `json:"date"`
	Value    Decimal `json:"value"`
	Notes    string  `json:"notes"`
}

// WeightEntry is a body weight entry, unique per date.
type WeightEntry struct {
	ID     int     `json:"id,omitempty"`
	Date   string  `json:"date"`
	Weight Decimal `json:"weight"`
}

// page is the wger list envelope.
type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}
