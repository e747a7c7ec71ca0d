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
	"os"
	"testing"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func location(f model.DiscoveredFile) model.Location {
	return model.Location{Type: f.Type, Company: f.Company, Date: f.Date, FileName: f.FileName}
}

func TestContentPreviewsWithoutSubmitting(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoiceIssued(t, "ARINV300", "01/12/2024")

	result, err := te.Content(context.Background(), SubmitRequest{ID: f.FileName, Type: f.Type, Company: f.Company, Date: f.Date})
	require.NoError(t, err)
	assert.Equal(t, "ARINV300", result.Document.Header.InvoiceNumber)
	assert.Equal(t, "1100.00", result.Preview.TotalAmount)
	require.NotEmpty(t, result.Validation)
	assert.Equal(t, model.SectionHeader, result.Validation[0].Section)
	assert.Nil(t, result.Status)
	assert.Zero(t, te.authority.submits.Load())

	// The preview copy is written without the annotation sheet.
	wb, err := excelize.OpenFile(result.OutgoingPath)
	require.NoError(t, err)
	defer wb.Close()
	idx, err := wb.GetSheetIndex("LHDN")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	_, err = os.Stat(SummaryPath(result.OutgoingPath))
	assert.NoError(t, err)
}

func TestDeletePendingDocument(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoice(t, "ARINV301")
	te.ds.Seed(model.SubmissionStatus{DocumentNumber: "ARINV301", FileName: f.FileName, Status: model.StatusFailed})
	ctx := context.Background()

	require.NoError(t, te.Delete(ctx, location(f)))
	_, err := os.Stat(f.FilePath)
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, te.status(t, "ARINV301"))

	err = te.Delete(ctx, location(f))
	assert.Equal(t, apierror.ErrFileNotFound, apierror.CodeOf(err))
}

func TestDeleteSubmittedDocumentIsRefused(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoice(t, "ARINV302")
	seedSubmitted(te, "ARINV302", 0)

	err := te.Delete(context.Background(), location(f))
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	_, statErr := os.Stat(f.FilePath)
	assert.NoError(t, statErr)
}

func TestDeleteRejectsTraversal(t *testing.T) {
	te := newTestEngine(t)
	err := te.Delete(context.Background(), model.Location{Type: "..", Company: "AcmeCo", Date: "2025-01-27", FileName: "x.xlsx"})
	assert.Equal(t, apierror.ErrBadRequest, apierror.CodeOf(err))
}

func TestDetails(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.Details(ctx, "ARINV303", "token")
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))

	seedSubmitted(te, "ARINV303", 0)
	details, err := te.Details(ctx, "01_ARINV303_eInvoice_20250127100000.xlsx", "token")
	require.NoError(t, err)
	assert.Equal(t, "UUID-ARINV303", details["uuid"])
}
