// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package registry resolves measurement categories by exact (name, unit)
// to tracker ids, creating missing ones. A Registry lives for one run.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/tracker"
)

var (
	// ErrCategoryCreateFailed means a missing category could not be created.
	ErrCategoryCreateFailed = errors.New("category create failed")

	// ErrCategoryListFailed means existing categories could not be listed,
	// so whether the category exists is unknown.
	ErrCategoryListFailed = errors.New("category list failed")
)

// CategoryCreateError carries the category and the underlying failure.
type CategoryCreateError struct {
	Key models.CategoryKey
	Err error
}

func (e *CategoryCreateError) Error() string {
	return fmt.Sprintf("create category %q (%s): %v", e.Key.Name, e.Key.Unit, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *CategoryCreateError) Unwrap() []error {
	return []error{ErrCategoryCreateFailed, e.Err}
}

// Remote is the subset of the tracker client the registry needs.
type Remote interface {
	ListCategories(ctx context.Context) ([]tracker.Category, error)
	CreateCategory(ctx context.Context, name, unit string) (*tracker.Category, error)
}

// Registry caches resolved ids and remembers failed creations for the run.
type Registry struct {
	remote Remote
	onNew  func(ctx context.Context, key models.CategoryKey, id int)

	mu     sync.Mutex
	ids    map[models.CategoryKey]int
	failed map[models.CategoryKey]error
	listed []tracker.Category
	loaded bool
}

// New creates an empty Registry.
func New(remote Remote) *Registry {
	return &Registry{
		remote: remote,
		ids:    make(map[models.CategoryKey]int),
		failed: make(map[models.CategoryKey]error),
	}
}

// OnCreate registers a callback invoked after a category is created remotely.
func (r *Registry) OnCreate(fn func(ctx context.Context, key models.CategoryKey, id int)) {
	r.onNew = fn
}

// Resolve returns the remote id of (name, unit). Names and units match
// exactly, without case folding. A failed creation is remembered and
// returned again for the rest of the run without another remote call.
func (r *Registry) Resolve(ctx context.Context, name, unit string) (int, error) {
	key := models.CategoryKey{Name: name, Unit: unit}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	if err, ok := r.failed[key]; ok {
		return 0, err
	}

	if !r.loaded {
		cats, err := r.remote.ListCategories(ctx)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("category", name).Str("unit", unit).Msg("Failed to list categories")
			return 0, fmt.Errorf("%w: %w", ErrCategoryListFailed, err)
		}
		r.listed = cats
		r.loaded = true
	}

	for _, cat := range r.listed {
		if cat.Name == name && cat.Unit == unit {
			r.ids[key] = cat.ID
			return cat.ID, nil
		}
	}

	created, err := r.remote.CreateCategory(ctx, name, unit)
	if err != nil {
		cerr := &CategoryCreateError{Key: key, Err: err}
		r.failed[key] = cerr
		logging.Ctx(ctx).Error().Err(err).Str("category", name).Str("unit", unit).Msg("Failed to create category")
		return 0, cerr
	}

	r.ids[key] = created.ID
	logging.Ctx(ctx).Info().Str("category", name).Str("unit", unit).Int("id", created.ID).Msg("Created category")
	if r.onNew != nil {
		r.onNew(ctx, key, created.ID)
	}
	return created.ID, nil
}
