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
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cancelRequest() model.CancelRequest {
	return model.CancelRequest{
		DocumentNumber: "ARINV001",
		UUID:           "U1",
		Reason:         "duplicate",
		CancelledBy:    "ops@acme.test",
		CancelledAt:    time.Date(2025, 1, 28, 9, 0, 0, 0, time.UTC),
	}
}

func TestCancelDocument_UpdatesBothStores(t *testing.T) {
	ds, mock := newMockDatasource(t)
	req := cancelRequest()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE einvoice.submission_statuses")).
		WithArgs(req.DocumentNumber, req.CancelledAt, req.CancelledBy, req.Reason).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO einvoice.inbound_statuses")).
		WithArgs(req.DocumentNumber, req.UUID, req.CancelledAt, req.CancelledBy, req.Reason).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.CancelDocument(context.Background(), req))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelDocument_RollsBackWhenInboundFails(t *testing.T) {
	ds, mock := newMockDatasource(t)
	req := cancelRequest()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE einvoice.submission_statuses")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO einvoice.inbound_statuses")).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := ds.CancelDocument(context.Background(), req)
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelDocument_MissingRecord(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE einvoice.submission_statuses")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ds.CancelDocument(context.Background(), cancelRequest())
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInvalidDispositions(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"document_number", "uuid", "status", "date_cancelled", "cancelled_by", "cancellation_reason", "updated_at"}).
		AddRow("ARINV001", "U1", "Invalid-Buyer TIN", nil, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status LIKE 'Invalid%'")).WillReturnRows(rows)

	out, err := ds.ListInvalidDispositions(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.Status("Invalid-Buyer TIN"), out[0].Status)
	assert.True(t, out[0].Status.IsInvalid())
	assert.Nil(t, out[0].DateCancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
