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
	"encoding/json"
	"os"
	"testing"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/extract"
	"github.com/blnkfinance/einvoice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestSubmitEndToEnd(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoice(t, "ARINV001")
	ctx := context.Background()

	result, err := te.Submit(ctx, SubmitRequest{ID: f.FileName, Type: f.Type, Company: f.Company, Date: f.Date})
	require.NoError(t, err)
	assert.Equal(t, "ARINV001", result.DocumentNumber)
	assert.Equal(t, model.StatusSubmitted, result.Status)
	assert.NotEmpty(t, result.UUID)
	assert.NotEmpty(t, result.SubmissionUID)
	require.NotNil(t, result.DateSubmitted)
	assert.True(t, result.DateSubmitted.Equal(testNow))
	assert.Nil(t, result.ArtifactError)
	assert.Equal(t, []string{"ARINV001"}, te.authority.lastCodes)

	rec := te.status(t, "ARINV001")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusSubmitted, rec.Status)
	assert.Equal(t, result.UUID, rec.UUID)
	assert.Equal(t, f.FileName, rec.FileName)

	// The outgoing workbook carries the annotation sheet and a JSON summary.
	assert.Equal(t, te.OutgoingPath(f), result.OutgoingPath)
	wb, err := excelize.OpenFile(result.OutgoingPath)
	require.NoError(t, err)
	defer wb.Close()
	uuidCell, err := wb.GetCellValue(extract.AnnotationSheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, result.UUID, uuidCell)

	raw, err := os.ReadFile(SummaryPath(result.OutgoingPath))
	require.NoError(t, err)
	var summary ArtifactSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, ArtifactSummary{
		IssueDate:       "2025-01-27",
		IssueTime:       "10:22:44Z",
		InvoiceTypeCode: "01",
		InvoiceNo:       "ARINV001",
		UUID:            result.UUID,
	}, summary)

	listing, err := te.ListAll(ctx, ModeNormal)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, model.StatusSubmitted, listing.Files[0].Status)
	require.NotNil(t, listing.Files[0].UUID)
	assert.Equal(t, result.UUID, *listing.Files[0].UUID)
}

func TestSubmitByDocumentNumber(t *testing.T) {
	te := newTestEngine(t)
	te.writeInvoice(t, "ARINV002")

	result, err := te.Submit(context.Background(), SubmitRequest{ID: "ARINV002"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, result.Status)
}

func TestConcurrentSubmitIsRefused(t *testing.T) {
	te := newTestEngine(t)
	te.authority.entered = make(chan struct{}, 2)
	te.authority.gate = make(chan struct{})
	f := te.writeInvoice(t, "ARINV003")
	req := SubmitRequest{ID: f.FileName, Type: f.Type, Company: f.Company, Date: f.Date}
	ctx := context.Background()

	type outcome struct {
		result *SubmitResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := te.Submit(ctx, req)
		first <- outcome{r, err}
	}()
	<-te.authority.entered

	_, err := te.Submit(ctx, req)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrDuplicateSubmission, apierror.CodeOf(err))

	close(te.authority.gate)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, model.StatusSubmitted, got.result.Status)
	assert.EqualValues(t, 1, te.authority.submits.Load())
	assert.Equal(t, model.StatusSubmitted, te.status(t, "ARINV003").Status)
}

func TestResubmitOfSubmittedDocumentIsDuplicate(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoice(t, "ARINV004")
	ctx := context.Background()
	req := SubmitRequest{ID: f.FileName, Type: f.Type, Company: f.Company, Date: f.Date}

	first, err := te.Submit(ctx, req)
	require.NoError(t, err)

	_, err = te.Submit(ctx, req)
	require.Error(t, err)
	apiErr := apierror.As(err)
	assert.Equal(t, apierror.ErrDuplicateSubmission, apiErr.Code)
	details, ok := apiErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, model.StatusSubmitted, details["status"])
	assert.Equal(t, first.UUID, details["uuid"])
	assert.EqualValues(t, 1, te.authority.submits.Load())
}

func TestRejectedDocumentIsRecordedAndClaimableAgain(t *testing.T) {
	te := newTestEngine(t)
	te.authority.reject = true
	f := te.writeInvoice(t, "ARINV005")
	ctx := context.Background()
	req := SubmitRequest{ID: f.FileName, Type: f.Type, Company: f.Company, Date: f.Date}

	_, err := te.Submit(ctx, req)
	require.Error(t, err)
	apiErr := apierror.As(err)
	assert.Equal(t, apierror.ErrRejection, apiErr.Code)
	assert.Equal(t, "Invalid buyer TIN", apiErr.Message)

	rec := te.status(t, "ARINV005")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusRejected, rec.Status)
	assert.Contains(t, string(rec.Error), "REJECTION")
	assert.Empty(t, te.notifier.Titles())

	te.authority.reject = false
	result, err := te.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, result.Status)
	assert.Empty(t, te.status(t, "ARINV005").Error)
}

func TestAuthorityOutageMarksFailedAndNotifies(t *testing.T) {
	te := newTestEngine(t)
	te.authority.submitErr = apierror.NewAPIError(apierror.ErrSystem, "LHDN is unavailable", nil)
	f := te.writeInvoice(t, "ARINV006")

	_, err := te.Submit(context.Background(), SubmitRequest{ID: f.FileName})
	require.Error(t, err)
	assert.True(t, apierror.Retryable(err))

	rec := te.status(t, "ARINV006")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, []string{"Submission failed"}, te.notifier.Titles())
}

func TestValidationFailureNeverReachesAuthority(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoiceIssued(t, "ARINV007", "01/12/2024")

	_, err := te.Submit(context.Background(), SubmitRequest{ID: f.FileName})
	require.Error(t, err)
	apiErr := apierror.As(err)
	assert.Equal(t, apierror.ErrValidation, apiErr.Code)
	groups, ok := apiErr.Details.([]model.ValidationGroup)
	require.True(t, ok)
	assert.Equal(t, model.SectionHeader, groups[0].Section)

	assert.Zero(t, te.authority.submits.Load())
	assert.Equal(t, model.StatusFailed, te.status(t, "ARINV007").Status)
}

func TestPollCarriesLongID(t *testing.T) {
	te := newTestEngine(t)
	te.Config().LHDN.PollEnabled = true
	f := te.writeInvoice(t, "ARINV008")

	result, err := te.Submit(context.Background(), SubmitRequest{ID: f.FileName})
	require.NoError(t, err)
	assert.Equal(t, "LONG"+result.UUID, result.LongID)
	assert.Equal(t, result.LongID, te.status(t, "ARINV008").LongID)
}

func TestPollVerdictInvalidIsRejection(t *testing.T) {
	te := newTestEngine(t)
	te.Config().LHDN.PollEnabled = true
	te.authority.pollStatus = "Invalid"
	f := te.writeInvoice(t, "ARINV009")

	_, err := te.Submit(context.Background(), SubmitRequest{ID: f.FileName})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrRejection, apierror.CodeOf(err))
	assert.Equal(t, model.StatusRejected, te.status(t, "ARINV009").Status)
}

func TestUnknownDocumentIsNotFound(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Submit(context.Background(), SubmitRequest{ID: "NOPE"})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrFileNotFound, apierror.CodeOf(err))
	assert.Nil(t, te.status(t, "NOPE"))
}
