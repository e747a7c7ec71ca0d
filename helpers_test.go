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
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/database/mocks"
	"github.com/blnkfinance/einvoice/internal/extract/extracttest"
	"github.com/blnkfinance/einvoice/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 1, 28, 9, 30, 0, 0, time.UTC)

// fakeAuthority stands in for the LHDN client. Submit accepts every document unless
// reject or submitErr is set; gate, when non-nil, holds Submit until it is closed.
type fakeAuthority struct {
	mu          sync.Mutex
	submits     atomic.Int32
	cancels     atomic.Int32
	reject      bool
	submitErr   error
	cancelErr   error
	pollStatus  string
	lastUUID    string
	entered     chan struct{}
	gate        chan struct{}
	lastCodes   []string
}

func (f *fakeAuthority) Submit(ctx context.Context, _ string, docs []model.DocumentSubmission) (*model.SubmissionResponse, error) {
	f.submits.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &model.SubmissionResponse{SubmissionUID: "SUB" + gofakeit.LetterN(10)}
	for _, d := range docs {
		f.lastCodes = append(f.lastCodes, d.CodeNumber)
		if f.reject {
			resp.RejectedDocuments = append(resp.RejectedDocuments, model.RejectedDocument{
				InvoiceCodeNumber: d.CodeNumber,
				Error:             model.AuthorityError{Code: "BadArgument", Message: "Invalid buyer TIN"},
			})
			continue
		}
		f.lastUUID = gofakeit.LetterN(26)
		resp.AcceptedDocuments = append(resp.AcceptedDocuments, model.AcceptedDocument{
			UUID:              f.lastUUID,
			InvoiceCodeNumber: d.CodeNumber,
		})
	}
	return resp, nil
}

func (f *fakeAuthority) GetSubmission(_ context.Context, _, submissionUID string) (*model.SubmissionDetails, error) {
	return &model.SubmissionDetails{SubmissionUID: submissionUID, OverallStatus: "InProgress"}, nil
}

func (f *fakeAuthority) PollSubmission(_ context.Context, _, submissionUID string) (*model.SubmissionDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.pollStatus
	if status == "" {
		status = "Valid"
	}
	return &model.SubmissionDetails{
		SubmissionUID: submissionUID,
		DocumentCount: 1,
		OverallStatus: status,
		DocumentSummary: []model.DocumentSummary{{
			UUID:          f.lastUUID,
			SubmissionUID: submissionUID,
			LongID:        "LONG" + f.lastUUID,
			Status:        status,
		}},
	}, nil
}

func (f *fakeAuthority) Cancel(_ context.Context, _, uuid, _ string) (*model.CancelResponse, error) {
	f.cancels.Add(1)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &model.CancelResponse{UUID: uuid, Status: "Cancelled"}, nil
}

func (f *fakeAuthority) DocumentDetails(_ context.Context, _, uuid string) (map[string]interface{}, error) {
	return map[string]interface{}{"uuid": uuid, "status": "Valid"}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) NotifyError(_ context.Context, title string, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

// testClock is a settable engine clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	ds        *mocks.MemoryDataSource
	authority *fakeAuthority
	notifier  *recordingNotifier
	clock     *testClock
	root      string
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "incoming")
	cfg := config.Defaults("postgres://localhost/einvoice", root)
	cfg.Storage.OutgoingRoot = filepath.Join(base, "outgoing")
	cfg.Storage.DirTimeout = time.Second

	for _, category := range cfg.Storage.Categories {
		require.NoError(t, os.MkdirAll(filepath.Join(root, category), 0o755))
	}

	clock := &testClock{now: testNow}
	ds := mocks.NewMemoryDataSource()
	ds.SetClock(clock.Now)
	authority := &fakeAuthority{}
	notifier := &recordingNotifier{}

	all := append([]Option{
		WithAuthority(authority),
		WithNotifier(notifier),
		WithClock(clock.Now),
	}, opts...)
	e, err := New(cfg, ds, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return &testEngine{Engine: e, ds: ds, authority: authority, notifier: notifier, clock: clock, root: root}
}

// writeInvoice drops a valid workbook for documentNumber under Manual/AcmeCo/2025-01-27.
func (te *testEngine) writeInvoice(t *testing.T, documentNumber string) model.DiscoveredFile {
	t.Helper()
	return te.writeInvoiceIssued(t, documentNumber, "27/01/2025")
}

func (te *testEngine) writeInvoiceIssued(t *testing.T, documentNumber, issueDate string) model.DiscoveredFile {
	t.Helper()
	name := "01_" + documentNumber + "_eInvoice_20250127100000.xlsx"
	path := filepath.Join(te.root, "Manual", "AcmeCo", "2025-01-27", name)
	rows := extracttest.Rows(documentNumber, "1", issueDate, "1,100.00",
		extracttest.Item{Description: "Laptop", Quantity: "2", UnitPrice: "500", TaxType: "01", TaxRate: "10", TaxAmount: "100"},
	)
	require.NoError(t, extracttest.WriteWorkbook(path, rows))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return model.DiscoveredFile{
		Type:             "Manual",
		Company:          "AcmeCo",
		Date:             "2025-01-27",
		FileName:         name,
		FilePath:         path,
		Size:             info.Size(),
		ModifiedTime:     info.ModTime(),
		DocumentNumber:   documentNumber,
		DocumentTypeCode: model.DocTypeInvoice,
	}
}

func (te *testEngine) status(t *testing.T, documentNumber string) *model.SubmissionStatus {
	t.Helper()
	rec, err := te.ds.GetSubmission(context.Background(), documentNumber)
	require.NoError(t, err)
	return rec
}
