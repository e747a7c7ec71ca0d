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
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statusColumns = []string{
	"id", "document_number", "uuid", "submission_uid", "long_id", "file_name", "file_path", "status",
	"date_submitted", "date_cancelled", "cancelled_by", "cancellation_reason", "error", "created_at", "updated_at",
}

func newMockDatasource(t *testing.T) (*Datasource, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Datasource{Conn: db}, mock
}

func submittedRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(statusColumns).AddRow(
		"sub_1", "ARINV001", "U1", "S1", nil, "01_ARINV001_eInvoice_20250127100000.xlsx",
		"/data/Manual/AcmeCo/2025-01-27/01_ARINV001_eInvoice_20250127100000.xlsx", "Submitted",
		now, nil, nil, nil, nil, now, now,
	)
}

func TestGetSubmission_Found(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM einvoice.submission_statuses")).
		WithArgs("ARINV001").
		WillReturnRows(submittedRow(now))

	rec, err := ds.GetSubmission(context.Background(), "ARINV001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusSubmitted, rec.Status)
	assert.Equal(t, "U1", rec.UUID)
	assert.Equal(t, "", rec.LongID)
	require.NotNil(t, rec.DateSubmitted)
	assert.Nil(t, rec.DateCancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubmission_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM einvoice.submission_statuses")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(statusColumns))

	rec, err := ds.GetSubmission(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetSubmission_Error(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM einvoice.submission_statuses")).
		WithArgs("ARINV001").
		WillReturnError(errors.New("connection reset"))

	_, err := ds.GetSubmission(context.Background(), "ARINV001")
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}

func TestClaimForProcessing_Claimed(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(statusColumns).AddRow(
		"sub_1", "ARINV001", nil, nil, nil, "a.xlsx", "/data/a.xlsx", "Processing",
		nil, nil, nil, nil, nil, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (document_number) DO UPDATE")).
		WithArgs("sub_1", "ARINV001", "a.xlsx", "/data/a.xlsx", sqlmock.AnyArg()).
		WillReturnRows(rows)

	rec, claimed, err := ds.ClaimForProcessing(context.Background(), model.SubmissionStatus{
		ID: "sub_1", DocumentNumber: "ARINV001", FileName: "a.xlsx", FilePath: "/data/a.xlsx",
	})
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, model.StatusProcessing, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForProcessing_AlreadySubmitted(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (document_number) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows(statusColumns))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE document_number = $1")).
		WithArgs("ARINV001").
		WillReturnRows(submittedRow(now))

	rec, claimed, err := ds.ClaimForProcessing(context.Background(), model.SubmissionStatus{DocumentNumber: "ARINV001"})
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusSubmitted, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubmission(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()
	submitted := now.Add(-time.Minute)

	rec := &model.SubmissionStatus{
		ID:             "sub_1",
		DocumentNumber: "ARINV001",
		UUID:           "U1",
		SubmissionUID:  "S1",
		FileName:       "a.xlsx",
		FilePath:       "/data/a.xlsx",
		Status:         model.StatusSubmitted,
		DateSubmitted:  &submitted,
	}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO einvoice.submission_statuses")).
		WithArgs("sub_1", "ARINV001", "U1", "S1", nil, "a.xlsx", "/data/a.xlsx", "Submitted", submitted, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("sub_1", now, now))

	require.NoError(t, ds.UpsertSubmission(context.Background(), rec))
	assert.Equal(t, now, rec.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubmission_StoresErrorPayload(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	rec := &model.SubmissionStatus{
		DocumentNumber: "ARINV002",
		Status:         model.StatusRejected,
		Error:          []byte(`{"code":"CF321"}`),
	}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO einvoice.submission_statuses")).
		WithArgs(sqlmock.AnyArg(), "ARINV002", nil, nil, nil, "", "", "Rejected", nil, []byte(`{"code":"CF321"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("sub_2", now, now))

	require.NoError(t, ds.UpsertSubmission(context.Background(), rec))
	assert.Equal(t, "sub_2", rec.ID)
}

func TestGetStatuses(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE document_number = ANY($1) OR file_name = ANY($2)")).
		WillReturnRows(submittedRow(now))

	recs, err := ds.GetStatuses(context.Background(), []string{"ARINV001"}, []string{"a.xlsx"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ARINV001", recs[0].DocumentNumber)

	recs, err = ds.GetStatuses(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveSubmissions(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ('Pending', 'Submitted')")).
		WillReturnRows(submittedRow(now))

	recs, err := ds.ListActiveSubmissions(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBatchUpdateStatuses_Chunks(t *testing.T) {
	ds, mock := newMockDatasource(t)

	updates := make([]model.StatusUpdate, 250)
	for i := range updates {
		updates[i] = model.StatusUpdate{DocumentNumber: fmt.Sprintf("INV%03d", i), Status: "Invalid-Buyer"}
	}
	for _, n := range []int64{100, 100, 50} {
		mock.ExpectExec(regexp.QuoteMeta("AND s.status IN ('Pending', 'Submitted')")).
			WillReturnResult(sqlmock.NewResult(0, n))
	}

	changed, err := ds.BatchUpdateStatuses(context.Background(), updates)
	require.NoError(t, err)
	assert.Equal(t, 250, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchUpdateStatuses_Empty(t *testing.T) {
	ds, mock := newMockDatasource(t)
	changed, err := ds.BatchUpdateStatuses(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestStatusUpdate(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT GREATEST(")).
		WillReturnRows(sqlmock.NewRows([]string{"greatest"}).AddRow(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT GREATEST(")).
		WillReturnRows(sqlmock.NewRows([]string{"greatest"}).AddRow(nil))

	latest, err := ds.LatestStatusUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, latest)

	latest, err = ds.LatestStatusUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestDeleteSubmission(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM einvoice.submission_statuses")).
		WithArgs("ARINV001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.DeleteSubmission(context.Background(), "ARINV001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
