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

package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/google/uuid"
)

// MemoryDataSource is an in-process status store with the same atomicity guarantees
// as the Postgres one. updatedAt values come from the store clock and never go backwards.
type MemoryDataSource struct {
	mu          sync.Mutex
	submissions map[string]model.SubmissionStatus
	inbound     map[string]model.InboundDisposition
	now         func() time.Time
	last        time.Time
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		submissions: make(map[string]model.SubmissionStatus),
		inbound:     make(map[string]model.InboundDisposition),
		now:         time.Now,
	}
}

// SetClock replaces the store clock.
func (m *MemoryDataSource) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// stamp returns a strictly increasing server timestamp. Callers hold mu.
func (m *MemoryDataSource) stamp() time.Time {
	t := m.now()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func clone(rec model.SubmissionStatus) model.SubmissionStatus {
	if rec.Error != nil {
		rec.Error = append(json.RawMessage(nil), rec.Error...)
	}
	return rec
}

// Seed stores rec as-is apart from updatedAt.
func (m *MemoryDataSource) Seed(rec model.SubmissionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	rec.UpdatedAt = m.stamp()
	m.submissions[rec.DocumentNumber] = clone(rec)
}

// SetDisposition records a downstream validator verdict.
func (m *MemoryDataSource) SetDisposition(disp model.InboundDisposition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	disp.UpdatedAt = m.stamp()
	m.inbound[disp.DocumentNumber] = disp
}

// Disposition returns the inbound record for documentNumber.
func (m *MemoryDataSource) Disposition(documentNumber string) (model.InboundDisposition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	disp, ok := m.inbound[documentNumber]
	return disp, ok
}

func (m *MemoryDataSource) GetSubmission(_ context.Context, documentNumber string) (*model.SubmissionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.submissions[documentNumber]
	if !ok {
		return nil, nil
	}
	rec = clone(rec)
	return &rec, nil
}

func (m *MemoryDataSource) ClaimForProcessing(_ context.Context, rec model.SubmissionStatus) (*model.SubmissionStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.submissions[rec.DocumentNumber]
	if ok && !existing.Status.Claimable() {
		existing = clone(existing)
		return &existing, false, nil
	}
	if ok {
		existing.FileName = rec.FileName
		existing.FilePath = rec.FilePath
		existing.Error = nil
		rec = existing
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = m.now()
	}
	rec.Status = model.StatusProcessing
	rec.UpdatedAt = m.stamp()
	m.submissions[rec.DocumentNumber] = clone(rec)
	return &rec, true, nil
}

func (m *MemoryDataSource) UpsertSubmission(_ context.Context, rec *model.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.submissions[rec.DocumentNumber]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.DateCancelled = existing.DateCancelled
		rec.CancelledBy = existing.CancelledBy
		rec.CancellationReason = existing.CancellationReason
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = m.now()
	}
	rec.UpdatedAt = m.stamp()
	m.submissions[rec.DocumentNumber] = clone(*rec)
	return nil
}

func (m *MemoryDataSource) GetStatuses(_ context.Context, documentNumbers, fileNames []string) ([]model.SubmissionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	numbers := make(map[string]bool, len(documentNumbers))
	for _, n := range documentNumbers {
		numbers[n] = true
	}
	names := make(map[string]bool, len(fileNames))
	for _, n := range fileNames {
		names[n] = true
	}
	var out []model.SubmissionStatus
	for _, rec := range m.submissions {
		if numbers[rec.DocumentNumber] || names[rec.FileName] {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryDataSource) ListActiveSubmissions(_ context.Context) ([]model.SubmissionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SubmissionStatus
	for _, rec := range m.submissions {
		if rec.Status.IsActive() {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (m *MemoryDataSource) BatchUpdateStatuses(_ context.Context, updates []model.StatusUpdate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, u := range updates {
		rec, ok := m.submissions[u.DocumentNumber]
		if !ok || rec.Status == u.Status || !rec.Status.IsActive() {
			continue
		}
		rec.Status = u.Status
		rec.UpdatedAt = m.stamp()
		m.submissions[u.DocumentNumber] = rec
		changed++
	}
	return changed, nil
}

func (m *MemoryDataSource) LatestStatusUpdate(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, rec := range m.submissions {
		if rec.UpdatedAt.After(latest) {
			latest = rec.UpdatedAt
		}
	}
	for _, disp := range m.inbound {
		if disp.UpdatedAt.After(latest) {
			latest = disp.UpdatedAt
		}
	}
	return latest, nil
}

func (m *MemoryDataSource) DeleteSubmission(_ context.Context, documentNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.submissions, documentNumber)
	return nil
}

func (m *MemoryDataSource) ListInvalidDispositions(_ context.Context) ([]model.InboundDisposition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InboundDisposition
	for _, disp := range m.inbound {
		if disp.Status.IsInvalid() {
			out = append(out, disp)
		}
	}
	return out, nil
}

func (m *MemoryDataSource) CancelDocument(_ context.Context, req model.CancelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.submissions[req.DocumentNumber]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "No submission status for "+req.DocumentNumber, nil)
	}
	cancelledAt := req.CancelledAt
	stamp := m.stamp()

	rec.Status = model.StatusCancelled
	rec.DateCancelled = &cancelledAt
	rec.CancelledBy = req.CancelledBy
	rec.CancellationReason = req.Reason
	rec.UpdatedAt = stamp
	m.submissions[req.DocumentNumber] = rec

	m.inbound[req.DocumentNumber] = model.InboundDisposition{
		DocumentNumber:     req.DocumentNumber,
		UUID:               req.UUID,
		Status:             model.StatusCancelled,
		DateCancelled:      &cancelledAt,
		CancelledBy:        req.CancelledBy,
		CancellationReason: req.Reason,
		UpdatedAt:          stamp,
	}
	return nil
}
