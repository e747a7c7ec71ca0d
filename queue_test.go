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
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueNameIsStablePerDocument(t *testing.T) {
	q := &Queue{name: "lhdn_submissions", count: 5}
	queues := q.Queues()
	assert.Len(t, queues, 5)

	for _, doc := range []string{"ARINV001", "CN-77", "X"} {
		name := q.QueueName(doc)
		assert.Equal(t, name, q.QueueName(doc))
		assert.Contains(t, queues, name)
	}
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := RedisClientOpt(config.RedisConfig{Dns: "redis://:secret@cache.internal:6380/2,cache2:6379"})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	_, err = RedisClientOpt(config.RedisConfig{})
	assert.Error(t, err)
}

func submissionTaskOf(t *testing.T, req SubmitRequest, token string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(submissionTask{Request: req, Token: token})
	require.NoError(t, err)
	return asynq.NewTask(TaskSubmitDocument, payload)
}

func TestProcessSubmissionTask(t *testing.T) {
	te := newTestEngine(t)
	f := te.writeInvoice(t, "ARINV500")
	ctx := context.Background()

	require.NoError(t, te.ProcessSubmissionTask(ctx, submissionTaskOf(t, SubmitRequest{ID: f.FileName}, "token")))
	assert.Equal(t, model.StatusSubmitted, te.status(t, "ARINV500").Status)

	// A duplicate is final and must not be retried.
	err := te.ProcessSubmissionTask(ctx, submissionTaskOf(t, SubmitRequest{ID: f.FileName}, "token"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessSubmissionTaskRetriesOutages(t *testing.T) {
	te := newTestEngine(t)
	te.authority.submitErr = apierror.NewAPIError(apierror.ErrRateLimit, "slow down", nil)
	f := te.writeInvoice(t, "ARINV501")

	err := te.ProcessSubmissionTask(context.Background(), submissionTaskOf(t, SubmitRequest{ID: f.FileName}, "token"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, apierror.ErrRateLimit, apierror.CodeOf(err))
}

func TestProcessSubmissionTaskMalformedPayload(t *testing.T) {
	te := newTestEngine(t)
	err := te.ProcessSubmissionTask(context.Background(), asynq.NewTask(TaskSubmitDocument, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Defaults("postgres://localhost/einvoice", t.TempDir())
	cfg.Redis.Dns = mr.Addr()
	cfg.Queue.SubmissionQueue = "lhdn_submissions"
	cfg.Queue.NumberOfQueues = 2

	q, err := NewQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueSubmission(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	req := SubmitRequest{ID: "01_ARINV950_eInvoice_20250127100000.xlsx", Type: "Manual", Company: "AcmeCo", Date: "2025-01-27"}

	info, err := q.EnqueueSubmission(ctx, req, "token")
	require.NoError(t, err)
	assert.Equal(t, "ARINV950", info.ID)
	assert.Equal(t, q.QueueName("ARINV950"), info.Queue)
	assert.Equal(t, asynq.TaskStatePending, info.State)

	var queued submissionTask
	require.NoError(t, json.Unmarshal(info.Payload, &queued))
	assert.Equal(t, req, queued.Request)
	assert.Equal(t, "token", queued.Token)

	// Still waiting: refused.
	_, err = q.EnqueueSubmission(ctx, req, "token")
	require.Error(t, err)
	assert.Equal(t, apierror.ErrDuplicateSubmission, apierror.CodeOf(err))
}

func TestEnqueueSubmissionReleasesArchivedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	req := SubmitRequest{ID: "01_ARINV951_eInvoice_20250127100000.xlsx"}

	info, err := q.EnqueueSubmission(ctx, req, "token")
	require.NoError(t, err)
	require.NoError(t, q.Inspector.ArchiveTask(info.Queue, info.ID))

	again, err := q.EnqueueSubmission(ctx, req, "token")
	require.NoError(t, err)
	assert.Equal(t, "ARINV951", again.ID)
	assert.Equal(t, asynq.TaskStatePending, again.State)

	current, err := q.Inspector.GetTaskInfo(again.Queue, "ARINV951")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, current.State)
}
