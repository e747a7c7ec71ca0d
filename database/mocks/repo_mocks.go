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

package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/einvoice/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Submission methods

func (m *MockDataSource) GetSubmission(ctx context.Context, documentNumber string) (*model.SubmissionStatus, error) {
	args := m.Called(ctx, documentNumber)
	rec, _ := args.Get(0).(*model.SubmissionStatus)
	return rec, args.Error(1)
}

func (m *MockDataSource) ClaimForProcessing(ctx context.Context, rec model.SubmissionStatus) (*model.SubmissionStatus, bool, error) {
	args := m.Called(ctx, rec)
	existing, _ := args.Get(0).(*model.SubmissionStatus)
	return existing, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) UpsertSubmission(ctx context.Context, rec *model.SubmissionStatus) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDataSource) GetStatuses(ctx context.Context, documentNumbers, fileNames []string) ([]model.SubmissionStatus, error) {
	args := m.Called(ctx, documentNumbers, fileNames)
	recs, _ := args.Get(0).([]model.SubmissionStatus)
	return recs, args.Error(1)
}

func (m *MockDataSource) ListActiveSubmissions(ctx context.Context) ([]model.SubmissionStatus, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]model.SubmissionStatus)
	return recs, args.Error(1)
}

func (m *MockDataSource) BatchUpdateStatuses(ctx context.Context, updates []model.StatusUpdate) (int, error) {
	args := m.Called(ctx, updates)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) LatestStatusUpdate(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDataSource) DeleteSubmission(ctx context.Context, documentNumber string) error {
	args := m.Called(ctx, documentNumber)
	return args.Error(0)
}

// Inbound methods

func (m *MockDataSource) ListInvalidDispositions(ctx context.Context) ([]model.InboundDisposition, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]model.InboundDisposition)
	return recs, args.Error(1)
}

func (m *MockDataSource) CancelDocument(ctx context.Context, req model.CancelRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
