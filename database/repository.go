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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/einvoice/model"
)

// IDataSource is the status store consumed by the reconciler, the submission pipeline
// and the cancellation workflow.
type IDataSource interface {
	submission
	inbound
}

// submission covers the primary per-document lifecycle records.
type submission interface {
	GetSubmission(ctx context.Context, documentNumber string) (*model.SubmissionStatus, error)                 // Returns nil when no record exists
	ClaimForProcessing(ctx context.Context, rec model.SubmissionStatus) (*model.SubmissionStatus, bool, error) // Atomically flips a claimable record to Processing
	UpsertSubmission(ctx context.Context, rec *model.SubmissionStatus) error                                   // Inserts or replaces the record keyed by document number
	GetStatuses(ctx context.Context, documentNumbers, fileNames []string) ([]model.SubmissionStatus, error)    // Records matching either key
	ListActiveSubmissions(ctx context.Context) ([]model.SubmissionStatus, error)                               // Pending and Submitted records
	BatchUpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error)                        // Corrective writes, returns rows changed
	LatestStatusUpdate(ctx context.Context) (time.Time, error)                                                 // Newest updated_at across both stores
	DeleteSubmission(ctx context.Context, documentNumber string) error
}

// inbound covers the downstream validator's dispositions and the dual-store cancel.
type inbound interface {
	ListInvalidDispositions(ctx context.Context) ([]model.InboundDisposition, error)
	CancelDocument(ctx context.Context, req model.CancelRequest) error // Updates both stores in one transaction
}
