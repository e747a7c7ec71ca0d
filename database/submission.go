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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// batchSize caps the rows written per corrective round-trip.
const batchSize = 100

const submissionColumns = `id, document_number, uuid, submission_uid, long_id, file_name, file_path, status,
	date_submitted, date_cancelled, cancelled_by, cancellation_reason, error, created_at, updated_at`

var tracer = otel.Tracer("einvoice.database")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (model.SubmissionStatus, error) {
	var (
		rec                                         model.SubmissionStatus
		docUUID, submissionUID, longID, cancelledBy sql.NullString
		reason                                      sql.NullString
		dateSubmitted, dateCancelled                sql.NullTime
		errJSON                                     []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.DocumentNumber,
		&docUUID,
		&submissionUID,
		&longID,
		&rec.FileName,
		&rec.FilePath,
		&rec.Status,
		&dateSubmitted,
		&dateCancelled,
		&cancelledBy,
		&reason,
		&errJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.UUID = docUUID.String
	rec.SubmissionUID = submissionUID.String
	rec.LongID = longID.String
	rec.CancelledBy = cancelledBy.String
	rec.CancellationReason = reason.String
	if dateSubmitted.Valid {
		t := dateSubmitted.Time
		rec.DateSubmitted = &t
	}
	if dateCancelled.Valid {
		t := dateCancelled.Time
		rec.DateCancelled = &t
	}
	if len(errJSON) > 0 {
		rec.Error = json.RawMessage(errJSON)
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// GetSubmission returns the record for documentNumber, or nil when none exists.
func (d *Datasource) GetSubmission(ctx context.Context, documentNumber string) (*model.SubmissionStatus, error) {
	ctx, span := tracer.Start(ctx, "Fetching submission status")
	defer span.End()
	span.SetAttributes(attribute.String("document_number", documentNumber))

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM einvoice.submission_statuses
		WHERE document_number = $1
	`, documentNumber)
	rec, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch submission status", err)
	}
	return &rec, nil
}

// ClaimForProcessing inserts a Processing record or flips an existing claimable one in a
// single statement. When the existing record is not claimable it is returned with
// claimed=false and left untouched.
func (d *Datasource) ClaimForProcessing(ctx context.Context, rec model.SubmissionStatus) (*model.SubmissionStatus, bool, error) {
	ctx, span := tracer.Start(ctx, "Claiming submission")
	defer span.End()
	span.SetAttributes(attribute.String("document_number", rec.DocumentNumber))

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO einvoice.submission_statuses (id, document_number, file_name, file_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'Processing', NOW(), NOW())
		ON CONFLICT (document_number) DO UPDATE
		SET status = 'Processing', file_name = EXCLUDED.file_name, file_path = EXCLUDED.file_path,
			error = NULL, updated_at = NOW()
		WHERE submission_statuses.status = ANY($5) OR submission_statuses.status LIKE 'Invalid%'
		RETURNING `+submissionColumns,
		rec.ID, rec.DocumentNumber, rec.FileName, rec.FilePath, pq.Array(model.ClaimableStatuses),
	)
	claimed, err := scanSubmission(row)
	if err == nil {
		return &claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim submission", err)
	}

	existing, err := d.GetSubmission(ctx, rec.DocumentNumber)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpsertSubmission writes rec keyed by document number. updated_at is always set by the server.
func (d *Datasource) UpsertSubmission(ctx context.Context, rec *model.SubmissionStatus) error {
	ctx, span := tracer.Start(ctx, "Upserting submission status")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_number", rec.DocumentNumber),
		attribute.String("status", string(rec.Status)),
	)

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO einvoice.submission_statuses (id, document_number, uuid, submission_uid, long_id, file_name,
			file_path, status, date_submitted, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (document_number) DO UPDATE
		SET uuid = EXCLUDED.uuid, submission_uid = EXCLUDED.submission_uid, long_id = EXCLUDED.long_id,
			file_name = EXCLUDED.file_name, file_path = EXCLUDED.file_path, status = EXCLUDED.status,
			date_submitted = EXCLUDED.date_submitted, error = EXCLUDED.error, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		rec.ID,
		rec.DocumentNumber,
		nullString(rec.UUID),
		nullString(rec.SubmissionUID),
		nullString(rec.LongID),
		rec.FileName,
		rec.FilePath,
		rec.Status,
		rec.DateSubmitted,
		nullJSON(rec.Error),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save submission status", err)
	}
	return nil
}

// GetStatuses returns every record whose document number or file name is in the given sets.
func (d *Datasource) GetStatuses(ctx context.Context, documentNumbers, fileNames []string) ([]model.SubmissionStatus, error) {
	ctx, span := tracer.Start(ctx, "Fetching submission statuses")
	defer span.End()
	span.SetAttributes(attribute.Int("keys", len(documentNumbers)+len(fileNames)))

	if len(documentNumbers) == 0 && len(fileNames) == 0 {
		return nil, nil
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM einvoice.submission_statuses
		WHERE document_number = ANY($1) OR file_name = ANY($2)
		ORDER BY updated_at DESC
	`, pq.Array(documentNumbers), pq.Array(fileNames))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch submission statuses", err)
	}
	return collectSubmissions(rows)
}

// ListActiveSubmissions returns the records an inbound disposition may still correct.
func (d *Datasource) ListActiveSubmissions(ctx context.Context) ([]model.SubmissionStatus, error) {
	ctx, span := tracer.Start(ctx, "Fetching active submissions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM einvoice.submission_statuses
		WHERE status IN ('Pending', 'Submitted')
	`)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch active submissions", err)
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows *sql.Rows) ([]model.SubmissionStatus, error) {
	defer rows.Close()
	var out []model.SubmissionStatus
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan submission status", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read submission statuses", err)
	}
	return out, nil
}

// BatchUpdateStatuses applies corrective status writes in chunks of batchSize rows.
func (d *Datasource) BatchUpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error) {
	ctx, span := tracer.Start(ctx, "Batch updating submission statuses")
	defer span.End()
	span.SetAttributes(attribute.Int("updates", len(updates)))

	total := 0
	for start := 0; start < len(updates); start += batchSize {
		chunk := updates[start:min(start+batchSize, len(updates))]
		numbers := make([]string, len(chunk))
		statuses := make([]string, len(chunk))
		for i, u := range chunk {
			numbers[i] = u.DocumentNumber
			statuses[i] = string(u.Status)
		}
		result, err := d.Conn.ExecContext(ctx, `
			UPDATE einvoice.submission_statuses AS s
			SET status = u.status, updated_at = NOW()
			FROM unnest($1::text[], $2::text[]) AS u(document_number, status)
			WHERE s.document_number = u.document_number AND s.status <> u.status
				AND s.status IN ('Pending', 'Submitted')
		`, pq.Array(numbers), pq.Array(statuses))
		if err != nil {
			span.RecordError(err)
			return total, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to apply status batch at offset %d", start), err)
		}
		n, err := result.RowsAffected()
		if err == nil {
			total += int(n)
		}
	}
	return total, nil
}

// LatestStatusUpdate returns the newest updated_at across both status tables, or the zero time when both are empty.
func (d *Datasource) LatestStatusUpdate(ctx context.Context) (time.Time, error) {
	ctx, span := tracer.Start(ctx, "Fetching latest status update")
	defer span.End()

	var latest sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT GREATEST(
			(SELECT MAX(updated_at) FROM einvoice.submission_statuses),
			(SELECT MAX(updated_at) FROM einvoice.inbound_statuses)
		)
	`).Scan(&latest)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch latest status update", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// DeleteSubmission removes the record for documentNumber. Missing records are not an error.
func (d *Datasource) DeleteSubmission(ctx context.Context, documentNumber string) error {
	ctx, span := tracer.Start(ctx, "Deleting submission status")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `DELETE FROM einvoice.submission_statuses WHERE document_number = $1`, documentNumber)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete submission status", err)
	}
	return nil
}
