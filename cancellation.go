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
	"strings"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/lhdn"
	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// CancelInput is an operator's cancellation request.
type CancelInput struct {
	ID          string `json:"id"`
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
	Token       string `json:"-"`
}

type CancelResult struct {
	DocumentNumber   string       `json:"document_number"`
	UUID             string       `json:"uuid"`
	Status           model.Status `json:"status"`
	DateCancelled    *time.Time   `json:"date_cancelled,omitempty"`
	AlreadyCancelled bool         `json:"already_cancelled"`
}

func (e *Engine) cancellationWindow() time.Duration {
	return time.Duration(e.cfg.Submission.CancellationWindowHours) * time.Hour
}

// WithinCancellationWindow reports whether a document submitted at submittedAt may
// still be cancelled at now. Exactly the window length is still allowed.
func WithinCancellationWindow(submittedAt, now time.Time, window time.Duration) bool {
	return now.Sub(submittedAt) <= window
}

// Cancel cancels a submitted document at the authority and then marks it Cancelled in
// both status stores. Expired windows are refused without calling the authority.
func (e *Engine) Cancel(ctx context.Context, in CancelInput) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "Cancelling document")
	defer span.End()

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "a cancellation reason is required", nil)
	}
	documentNumber := documentNumberOf(in.ID)
	span.SetAttributes(attribute.String("document_number", documentNumber))

	rec, err := e.datasource.GetSubmission(ctx, documentNumber)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("no submission found for %s", documentNumber), nil)
	}

	if rec.Status == model.StatusCancelled {
		return &CancelResult{
			DocumentNumber:   documentNumber,
			UUID:             rec.UUID,
			Status:           model.StatusCancelled,
			DateCancelled:    rec.DateCancelled,
			AlreadyCancelled: true,
		}, nil
	}
	if rec.Status != model.StatusSubmitted || rec.UUID == "" || rec.DateSubmitted == nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("document %s is %s and cannot be cancelled", documentNumber, rec.Status),
			map[string]interface{}{"document_number": documentNumber, "status": rec.Status})
	}

	now := e.now()
	if !WithinCancellationWindow(*rec.DateSubmitted, now, e.cancellationWindow()) {
		return nil, apierror.NewAPIError(apierror.ErrCancellationWindow,
			fmt.Sprintf("document %s can no longer be cancelled, the %d hour window has passed",
				documentNumber, e.cfg.Submission.CancellationWindowHours),
			map[string]interface{}{
				"document_number": documentNumber,
				"date_submitted":  rec.DateSubmitted,
				"elapsed_hours":   int(now.Sub(*rec.DateSubmitted).Hours()),
			})
	}

	already := false
	if _, err := e.authority.Cancel(ctx, in.Token, rec.UUID, reason); err != nil {
		if !lhdn.IsAlreadyCancelled(err) {
			span.RecordError(err)
			return nil, err
		}
		already = true
		logrus.WithField("document_number", documentNumber).Info("document already cancelled at LHDN, reconciling local state")
	}

	req := model.CancelRequest{
		DocumentNumber: documentNumber,
		UUID:           rec.UUID,
		Reason:         reason,
		CancelledBy:    in.CancelledBy,
		CancelledAt:    now,
	}
	if err := e.datasource.CancelDocument(context.WithoutCancel(ctx), req); err != nil {
		e.notify(ctx, "Cancellation not recorded", fmt.Errorf("%s cancelled at LHDN but not locally: %w", documentNumber, err))
		return nil, err
	}
	e.Invalidate(ctx)

	logrus.WithFields(logrus.Fields{
		"document_number": documentNumber,
		"uuid":            rec.UUID,
		"cancelled_by":    in.CancelledBy,
	}).Info("document cancelled")
	return &CancelResult{
		DocumentNumber:   documentNumber,
		UUID:             rec.UUID,
		Status:           model.StatusCancelled,
		DateCancelled:    &now,
		AlreadyCancelled: already,
	}, nil
}
