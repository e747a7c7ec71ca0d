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
	"sort"
	"time"

	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ScopeStatusStore marks listing errors raised by the status store rather than the filesystem.
const ScopeStatusStore = "status_store"

// reconciliation is the outcome of merging one scan against the status stores.
type reconciliation struct {
	files       []model.MergedFile
	corrections int
	errs        []model.ErrorRecord
}

// Corrections returns the status writes needed so every active record whose document
// number carries an Invalid inbound verdict takes that verdict. A verdict only applies
// when it was recorded after the submission it judges, so a corrected resubmission is
// not flipped back by the old verdict.
func Corrections(active []model.SubmissionStatus, dispositions []model.InboundDisposition) []model.StatusUpdate {
	verdicts := make(map[string]model.InboundDisposition, len(dispositions))
	for _, d := range dispositions {
		if d.Status.IsInvalid() {
			verdicts[d.DocumentNumber] = d
		}
	}
	var updates []model.StatusUpdate
	for _, rec := range active {
		if !rec.Status.IsActive() {
			continue
		}
		verdict, ok := verdicts[rec.DocumentNumber]
		if !ok || verdict.Status == rec.Status || !verdict.UpdatedAt.After(judgedAt(rec)) {
			continue
		}
		updates = append(updates, model.StatusUpdate{DocumentNumber: rec.DocumentNumber, Status: verdict.Status})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].DocumentNumber < updates[j].DocumentNumber })
	return updates
}

// judgedAt is the instant a verdict must postdate: the submission time when there is
// one, the last status write otherwise.
func judgedAt(rec model.SubmissionStatus) time.Time {
	if rec.DateSubmitted != nil {
		return *rec.DateSubmitted
	}
	return rec.UpdatedAt
}

// Dedupe keeps one file per Key, the one modified last.
func Dedupe(files []model.DiscoveredFile) []model.DiscoveredFile {
	latest := make(map[string]int, len(files))
	var out []model.DiscoveredFile
	for _, f := range files {
		key := f.Key()
		if i, ok := latest[key]; ok {
			if f.ModifiedTime.After(out[i].ModifiedTime) {
				out[i] = f
			}
			continue
		}
		latest[key] = len(out)
		out = append(out, f)
	}
	return out
}

// Merge left joins files against statuses, matching by document number first and by
// file name second. Files without a record are Pending. The result is newest first.
func Merge(files []model.DiscoveredFile, statuses []model.SubmissionStatus) []model.MergedFile {
	byNumber := make(map[string]model.SubmissionStatus, len(statuses))
	byName := make(map[string]model.SubmissionStatus, len(statuses))
	for _, s := range statuses {
		if prev, ok := byNumber[s.DocumentNumber]; !ok || s.UpdatedAt.After(prev.UpdatedAt) {
			byNumber[s.DocumentNumber] = s
		}
		if prev, ok := byName[s.FileName]; !ok || s.UpdatedAt.After(prev.UpdatedAt) {
			byName[s.FileName] = s
		}
	}

	out := make([]model.MergedFile, 0, len(files))
	for _, f := range files {
		merged := model.MergedFile{DiscoveredFile: f, Status: model.StatusPending}
		rec, ok := byNumber[f.DocumentNumber]
		if !ok || f.DocumentNumber == "" {
			rec, ok = byName[f.FileName]
		}
		if ok {
			applyStatus(&merged, rec)
		}
		out = append(out, merged)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModifiedTime.After(out[j].ModifiedTime)
	})
	return out
}

func applyStatus(m *model.MergedFile, rec model.SubmissionStatus) {
	m.Status = rec.Status
	if rec.UUID != "" {
		id := rec.UUID
		m.UUID = &id
	}
	if rec.SubmissionUID != "" {
		uid := rec.SubmissionUID
		m.SubmissionUID = &uid
	}
	m.LongID = rec.LongID
	m.DateSubmitted = rec.DateSubmitted
	m.DateCancelled = rec.DateCancelled
	m.CancelledBy = rec.CancelledBy
	m.CancellationReason = rec.CancellationReason
	updated := rec.UpdatedAt
	m.StatusUpdatedAt = &updated
}

// reconcile applies inbound corrections to the store and merges the scan against the
// corrected statuses. Store failures degrade to a Pending listing with an error record.
func (e *Engine) reconcile(ctx context.Context, discovered []model.DiscoveredFile) reconciliation {
	ctx, span := tracer.Start(ctx, "Reconciling discovered files")
	defer span.End()

	var result reconciliation
	storeError := func(op string, err error) {
		span.RecordError(err)
		logrus.WithError(err).WithField("op", op).Warn("status store unavailable during reconciliation")
		result.errs = append(result.errs, model.ErrorRecord{Scope: ScopeStatusStore, Path: op, Message: err.Error()})
	}

	active, err := e.datasource.ListActiveSubmissions(ctx)
	if err != nil {
		storeError("list_active", err)
	}
	dispositions, err := e.datasource.ListInvalidDispositions(ctx)
	if err != nil {
		storeError("list_dispositions", err)
	}
	if updates := Corrections(active, dispositions); len(updates) > 0 {
		n, err := e.datasource.BatchUpdateStatuses(ctx, updates)
		if err != nil {
			storeError("batch_update", err)
		}
		result.corrections = n
		logrus.WithField("corrections", n).Info("applied inbound status corrections")
	}

	files := Dedupe(discovered)
	numbers := make([]string, 0, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.DocumentNumber != "" {
			numbers = append(numbers, f.DocumentNumber)
		}
		names = append(names, f.FileName)
	}
	statuses, err := e.datasource.GetStatuses(ctx, numbers, names)
	if err != nil {
		storeError("get_statuses", err)
	}

	result.files = Merge(files, statuses)
	span.SetAttributes(
		attribute.Int("files", len(result.files)),
		attribute.Int("corrections", result.corrections),
	)
	return result
}
