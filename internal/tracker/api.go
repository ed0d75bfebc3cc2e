// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	categoryPath    = "/api/v2/measurement-category/"
	measurementPath = "/api/v2/measurement/"
	weightEntryPath = "/api/v2/weightentry/"

	// maxCategoryPages bounds pagination against a misbehaving server.
	maxCategoryPages = 50
)

// ListCategories returns every measurement category, following pagination.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var all []Category
	query := url.Values{"limit": {"100"}}
	offset := 0

	for i := 0; i < maxCategoryPages; i++ {
		query.Set("offset", strconv.Itoa(offset))

		var p page[Category]
		if err := c.do(ctx, http.MethodGet, categoryPath, query, nil, &p, c.timeout); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		all = append(all, p.Results...)
		if p.Next == nil || *p.Next == "" || len(p.Results) == 0 {
			return all, nil
		}
		offset += len(p.Results)
	}
	return all, nil
}

// CreateCategory creates a measurement category.
func (c *Client) CreateCategory(ctx context.Context, name, unit string) (*Category, error) {
	var created Category
	if err := c.do(ctx, http.MethodPost, categoryPath, nil, Category{Name: name, Unit: unit}, &created, c.timeout); err != nil {
		return nil, fmt.Errorf("create category %q (%s): %w", name, unit, err)
	}
	return &created, nil
}

// FindMeasurement returns the measurement for (categoryID, date), or nil.
func (c *Client) FindMeasurement(ctx context.Context, categoryID int, date string) (*Measurement, error) {
	query := url.Values{
		"category": {strconv.Itoa(categoryID)},
		"date":     {date},
	}
	var p page[Measurement]
	if err := c.do(ctx, http.MethodGet, measurementPath, query, nil, &p, c.timeout); err != nil {
		return nil, fmt.Errorf("find measurement: %w", err)
	}
	// The date filter is exact on current wger versions; filter again for older ones.
	for i := range p.Results {
		if p.Results[i].Category == categoryID && sameDay(p.Results[i].Date, date) {
			return &p.Results[i], nil
		}
	}
	return nil, nil
}

// CreateMeasurement posts a new measurement.
func (c *Client) CreateMeasurement(ctx context.Context, m Measurement) (*Measurement, error) {
	m.ID = 0
	var created Measurement
	if err := c.do(ctx, http.MethodPost, measurementPath, nil, m, &created, c.writeTimeout); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateMeasurement replaces the measurement with the given id.
func (c *Client) UpdateMeasurement(ctx context.Context, id int, m Measurement) (*Measurement, error) {
	m.ID = 0
	var updated Measurement
	if err := c.do(ctx, http.MethodPut, measurementPath+strconv.Itoa(id)+"/", nil, m, &updated, c.writeTimeout); err != nil {
		return nil, err
	}
	return &updated, nil
}

// FindWeightEntry returns the weight entry for date, or nil.
func (c *Client) FindWeightEntry(ctx context.Context, date string) (*WeightEntry, error) {
	var p page[WeightEntry]
	if err := c.do(ctx, http.MethodGet, weightEntryPath, url.Values{"date": {date}}, nil, &p, c.timeout); err != nil {
		return nil, fmt.Errorf("find weight entry: %w", err)
	}
	for i := range p.Results {
		if sameDay(p.Results[i].Date, date) {
			return &p.Results[i], nil
		}
	}
	return nil, nil
}

// CreateWeightEntry posts a new weight entry.
func (c *Client) CreateWeightEntry(ctx context.Context, w WeightEntry) (*WeightEntry, error) {
	w.ID = 0
	var created WeightEntry
	if err := c.do(ctx, http.MethodPost, weightEntryPath, nil, w, &created, c.weightTimeout); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateWeightEntry replaces the weight entry with the given id.
func (c *Client) UpdateWeightEntry(ctx context.Context, id int, w WeightEntry) (*WeightEntry, error) {
	w.ID = 0
	var updated WeightEntry
	if err := c.do(ctx, http.MethodPut, weightEntryPath+strconv.Itoa(id)+"/", nil, w, &updated, c.weightTimeout); err != nil {
		return nil, err
	}
	return &updated, nil
}

// sameDay compares a wger date or datetime field with a YYYY-MM-DD date.
func sameDay(remote, date string) bool {
	return strings.HasPrefix(remote, date)
}
