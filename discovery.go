/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package einvoice

import (
	"context"
	"fmt"
	"time"

	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Mode selects how aggressively a listing request re-checks the cache.
type Mode int

const (
	ModeNormal Mode = iota
	ModePolling
	ModeRealtime
)

func (m Mode) String() string {
	switch m {
	case ModePolling:
		return "polling"
	case ModeRealtime:
		return "realtime"
	}
	return "normal"
}

// discoveryEntry is what the discovery cache stores for one incoming root.
type discoveryEntry struct {
	Listing    model.Listing
	RootPath   string
	DirModTime time.Time
}

// Updates is the cheap delta answer for real-time clients.
type Updates struct {
	HasStatusUpdates bool      `json:"has_status_updates"`
	HasNewFiles      bool      `json:"has_new_files"`
	LastStatusUpdate time.Time `json:"last_status_update"`
	LastFileChange   time.Time `json:"last_file_change"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e *Engine) cacheKey() string {
	return "einvoice:listing:" + e.walker.Root()
}

func (e *Engine) maxAge(mode Mode) time.Duration {
	if mode == ModePolling {
		return e.cfg.Cache.PollingMaxAge
	}
	return e.cfg.Cache.NormalMaxAge
}

// ListAll returns the merged listing, served from cache when the entry is young
// enough and neither the directory tree nor the status store changed since it was built.
// Real-time mode always rebuilds.
func (e *Engine) ListAll(ctx context.Context, mode Mode) (*model.Listing, error) {
	ctx, span := tracer.Start(ctx, "Listing documents")
	defer span.End()
	span.SetAttributes(attribute.String("mode", mode.String()))

	if mode != ModeRealtime {
		var entry discoveryEntry
		found, err := e.cache.Get(ctx, e.cacheKey(), &entry)
		if err != nil {
			logrus.WithError(err).Warn("discovery cache read failed")
		}
		if found && e.fresh(ctx, entry, mode) {
			listing := entry.Listing
			listing.FromCache = true
			span.SetAttributes(attribute.Bool("from_cache", true))
			return &listing, nil
		}
	}
	return e.Refresh(ctx, mode)
}

func (e *Engine) fresh(ctx context.Context, entry discoveryEntry, mode Mode) bool {
	if entry.RootPath != e.walker.Root() {
		return false
	}
	if e.now().Sub(entry.Listing.Timestamp) > e.maxAge(mode) {
		return false
	}
	latest, err := e.datasource.LatestStatusUpdate(ctx)
	if err != nil || latest.After(entry.Listing.LastStatusUpdate) {
		return false
	}
	dirMod, errs := e.walker.LatestModTime(ctx)
	if len(errs) > 0 || dirMod.After(entry.DirModTime) {
		return false
	}
	return true
}

// Refresh rebuilds the listing and stores it. Concurrent refreshes started after the
// same invalidation share one scan.
func (e *Engine) Refresh(ctx context.Context, mode Mode) (*model.Listing, error) {
	key := fmt.Sprintf("%s#%d", e.cacheKey(), e.generation.Load())
	v, err, _ := e.refreshes.Do(key, func() (interface{}, error) {
		return e.refresh(context.WithoutCancel(ctx), mode)
	})
	if err != nil {
		return nil, err
	}
	listing := *v.(*model.Listing)
	return &listing, nil
}

func (e *Engine) refresh(ctx context.Context, mode Mode) (*model.Listing, error) {
	ctx, span := tracer.Start(ctx, "Refreshing discovery")
	defer span.End()

	timestamp := e.now()
	lastUpdate, storeErr := e.datasource.LatestStatusUpdate(ctx)
	dirMod, _ := e.walker.LatestModTime(ctx)

	scan := e.walker.Walk(ctx)
	rec := e.reconcile(ctx, scan.Files)

	listing := &model.Listing{
		Files:            rec.files,
		Errors:           append(scan.Errors, rec.errs...),
		Summary:          scan.Summary,
		Timestamp:        timestamp,
		LastStatusUpdate: lastUpdate,
	}
	listing.Summary.Errors = len(listing.Errors)
	span.SetAttributes(
		attribute.Int("files", len(listing.Files)),
		attribute.Int("errors", listing.Summary.Errors),
	)

	// A degraded listing is served but never cached.
	if storeErr != nil || len(rec.errs) > 0 {
		return listing, nil
	}

	ttl := e.cfg.Cache.EntryTTL
	if mode == ModeRealtime {
		ttl = e.cfg.Cache.RealtimeTTL
	}
	entry := discoveryEntry{Listing: *listing, RootPath: e.walker.Root(), DirModTime: dirMod}
	if err := e.cache.Set(ctx, e.cacheKey(), entry, ttl); err != nil {
		logrus.WithError(err).Warn("discovery cache write failed")
	}
	return listing, nil
}

// Invalidate drops the cached listing so the next read rebuilds it.
func (e *Engine) Invalidate(ctx context.Context) {
	e.generation.Add(1)
	if err := e.cache.Delete(ctx, e.cacheKey()); err != nil {
		logrus.WithError(err).Warn("discovery cache invalidation failed")
	}
}

// RealTimeUpdates reports whether statuses or files changed after the given instants
// without walking the tree.
func (e *Engine) RealTimeUpdates(ctx context.Context, lastUpdate, lastFileCheck time.Time) (*Updates, error) {
	ctx, span := tracer.Start(ctx, "Checking real-time updates")
	defer span.End()

	latest, err := e.datasource.LatestStatusUpdate(ctx)
	if err != nil {
		return nil, err
	}
	dirMod, errs := e.walker.LatestModTime(ctx)
	for _, rec := range errs {
		logrus.WithFields(logrus.Fields{"scope": rec.Scope, "path": rec.Path}).Warn(rec.Message)
	}
	return &Updates{
		HasStatusUpdates: latest.After(lastUpdate),
		HasNewFiles:      dirMod.After(lastFileCheck),
		LastStatusUpdate: latest,
		LastFileChange:   dirMod,
		Timestamp:        e.now(),
	}, nil
}
