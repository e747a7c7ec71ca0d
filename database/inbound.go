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
	"database/sql"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ListInvalidDispositions returns the inbound verdicts whose status starts with Invalid.
func (d *Datasource) ListInvalidDispositions(ctx context.Context) ([]model.InboundDisposition, error) {
	ctx, span := tracer.Start(ctx, "Fetching invalid inbound dispositions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT document_number, uuid, status, date_cancelled, cancelled_by, cancellation_reason, updated_at
		FROM einvoice.inbound_statuses
		WHERE status LIKE 'Invalid%'
	`)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch inbound dispositions", err)
	}
	defer rows.Close()

	var out []model.InboundDisposition
	for rows.Next() {
		var (
			disp                         model.InboundDisposition
			docUUID, cancelledBy, reason sql.NullString
			dateCancelled                sql.NullTime
		)
		if err := rows.Scan(&disp.DocumentNumber, &docUUID, &disp.Status, &dateCancelled, &cancelledBy, &reason, &disp.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan inbound disposition", err)
		}
		disp.UUID = docUUID.String
		disp.CancelledBy = cancelledBy.String
		disp.CancellationReason = reason.String
		if dateCancelled.Valid {
			t := dateCancelled.Time
			disp.DateCancelled = &t
		}
		out = append(out, disp)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read inbound dispositions", err)
	}
	return out, nil
}

// CancelDocument stamps the cancellation onto the submission record and the inbound
// record inside one transaction. Either both rows change or neither does.
func (d *Datasource) CancelDocument(ctx context.Context, req model.CancelRequest) error {
	ctx, span := tracer.Start(ctx, "Cancelling document")
	defer span.End()
	span.SetAttributes(attribute.String("document_number", req.DocumentNumber))

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin cancellation", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logrus.WithError(rbErr).Error("failed to roll back cancellation")
			}
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE einvoice.submission_statuses
		SET status = 'Cancelled', date_cancelled = $2, cancelled_by = $3, cancellation_reason = $4, updated_at = NOW()
		WHERE document_number = $1
	`, req.DocumentNumber, req.CancelledAt, req.CancelledBy, req.Reason)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel submission status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel submission status", err)
	}
	if affected == 0 {
		err = apierror.NewAPIError(apierror.ErrNotFound, "No submission status for "+req.DocumentNumber, nil)
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO einvoice.inbound_statuses (document_number, uuid, status, date_cancelled, cancelled_by, cancellation_reason, updated_at)
		VALUES ($1, $2, 'Cancelled', $3, $4, $5, NOW())
		ON CONFLICT (document_number) DO UPDATE
		SET uuid = EXCLUDED.uuid, status = 'Cancelled', date_cancelled = EXCLUDED.date_cancelled,
			cancelled_by = EXCLUDED.cancelled_by, cancellation_reason = EXCLUDED.cancellation_reason, updated_at = NOW()
	`, req.DocumentNumber, nullString(req.UUID), req.CancelledAt, req.CancelledBy, req.Reason)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel inbound status", err)
	}

	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit cancellation", err)
	}
	return nil
}
