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

	"github.com/blnkfinance/einvoice/internal/apierror"
	"golang.org/x/sync/errgroup"
)

type BulkRequest struct {
	Documents []SubmitRequest `json:"documents"`
	Version   string          `json:"version"`
	Token     string          `json:"-"`
}

// BulkItemResult is the outcome for one document of a bulk request.
type BulkItemResult struct {
	ID             string             `json:"id"`
	DocumentNumber string             `json:"document_number,omitempty"`
	Status         string             `json:"status"`
	UUID           string             `json:"uuid,omitempty"`
	Error          *apierror.APIError `json:"error,omitempty"`
}

const BulkStatusQueued = "Queued"

// BulkSubmit submits every document, through the queue when one is configured and
// otherwise in-process with bounded concurrency. Per-document failures are reported in
// the results and never abort the rest.
func (e *Engine) BulkSubmit(ctx context.Context, req BulkRequest) ([]BulkItemResult, error) {
	ctx, span := tracer.Start(ctx, "Bulk submitting documents")
	defer span.End()

	if len(req.Documents) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "no documents to submit", nil)
	}

	results := make([]BulkItemResult, len(req.Documents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.Submission.BulkConcurrency, 1))

	for i, doc := range req.Documents {
		if doc.Version == "" {
			doc.Version = req.Version
		}
		doc.Token = req.Token
		g.Go(func() error {
			results[i] = e.submitOne(gctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (e *Engine) submitOne(ctx context.Context, doc SubmitRequest) BulkItemResult {
	item := BulkItemResult{ID: doc.ID, DocumentNumber: documentNumberOf(doc.ID)}
	fail := func(err error) BulkItemResult {
		apiErr := apierror.As(err)
		item.Status = string(apiErr.Code)
		item.Error = &apiErr
		return item
	}

	if e.queue != nil {
		if _, err := e.queue.EnqueueSubmission(ctx, doc, doc.Token); err != nil {
			return fail(err)
		}
		item.Status = BulkStatusQueued
		return item
	}

	result, err := e.Submit(ctx, doc)
	if err != nil {
		return fail(err)
	}
	item.DocumentNumber = result.DocumentNumber
	item.Status = string(result.Status)
	item.UUID = result.UUID
	return item
}
