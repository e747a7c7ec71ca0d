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
	"fmt"
	"hash/fnv"

	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/internal/apierror"
	redis_db "github.com/blnkfinance/einvoice/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TaskSubmitDocument is the asynq task type carrying one queued submission.
const TaskSubmitDocument = "einvoice:submit_document"

const taskMaxRetry = 5

// Queue fans bulk submissions out to worker processes through asynq.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	count     int
}

// submissionTask is the task payload. The bearer token travels with the task because
// the worker has no session of its own.
type submissionTask struct {
	Request SubmitRequest `json:"request"`
	Token   string        `json:"token"`
}

// RedisClientOpt converts the configured Redis DNS into asynq connection options.
func RedisClientOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	addrs := redis_db.Addresses(cfg.Dns)
	if len(addrs) == 0 {
		return asynq.RedisClientOpt{}, errors.New("queue requires a redis dns")
	}
	opts, err := redis_db.ParseRedisURL(addrs[0], cfg.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB, TLSConfig: opts.TLSConfig}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf.Redis)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      conf.Queue.SubmissionQueue,
		count:     max(conf.Queue.NumberOfQueues, 1),
	}, nil
}

// QueueName spreads documents over the configured queues. The same document number
// always lands on the same queue.
func (q *Queue) QueueName(documentNumber string) string {
	return fmt.Sprintf("%s_%d", q.name, hashDocumentNumber(documentNumber)%q.count+1)
}

// Queues lists every submission queue with equal priority, for the worker server.
func (q *Queue) Queues() map[string]int {
	queues := make(map[string]int, q.count)
	for i := 1; i <= q.count; i++ {
		queues[fmt.Sprintf("%s_%d", q.name, i)] = 1
	}
	return queues
}

func hashDocumentNumber(documentNumber string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(documentNumber))
	return int(hasher.Sum32() & 0x7fffffff)
}

// EnqueueSubmission queues req. A document still waiting or running in the queue is
// refused with DUPLICATE_SUBMISSION. A finished or archived task left under the same
// id is deleted first so the document can be queued again once it is fixed.
func (q *Queue) EnqueueSubmission(ctx context.Context, req SubmitRequest, token string) (*asynq.TaskInfo, error) {
	ctx, span := tracer.Start(ctx, "Queueing submission")
	defer span.End()

	documentNumber := documentNumberOf(req.ID)
	payload, err := json.Marshal(submissionTask{Request: req, Token: token})
	if err != nil {
		return nil, err
	}
	queue := q.QueueName(documentNumber)
	task := asynq.NewTask(TaskSubmitDocument, payload,
		asynq.TaskID(documentNumber),
		asynq.Queue(queue),
		asynq.MaxRetry(taskMaxRetry),
	)

	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		if err = q.releaseTaskID(queue, documentNumber); err == nil {
			info, err = q.Client.EnqueueContext(ctx, task)
		}
	}
	if err != nil {
		if apierror.Is(err, apierror.ErrDuplicateSubmission) {
			return nil, err
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, alreadyQueued(documentNumber)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrSubmissionInfrastructure, "failed to queue submission", err.Error())
	}
	logrus.WithFields(logrus.Fields{"document_number": documentNumber, "queue": info.Queue}).Info("submission queued")
	return info, nil
}

// releaseTaskID deletes the task holding id when it will never run again. A task that
// is pending, scheduled, retrying or active keeps the id and the caller is refused.
func (q *Queue) releaseTaskID(queue, id string) error {
	info, err := q.Inspector.GetTaskInfo(queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := q.Inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return err
		}
		logrus.WithFields(logrus.Fields{"document_number": id, "state": info.State.String()}).Info("released finished submission task")
		return nil
	}
	return alreadyQueued(id)
}

func alreadyQueued(documentNumber string) error {
	return apierror.NewAPIError(apierror.ErrDuplicateSubmission,
		fmt.Sprintf("document %s is already queued", documentNumber), nil)
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close queue inspector")
	}
	return q.Client.Close()
}

// ProcessSubmissionTask runs a queued submission. Only retryable failures are handed
// back to asynq for another attempt.
func (e *Engine) ProcessSubmissionTask(ctx context.Context, t *asynq.Task) error {
	var task submissionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logrus.WithError(err).Error("malformed submission task")
		return fmt.Errorf("decode submission task: %v: %w", err, asynq.SkipRetry)
	}
	task.Request.Token = task.Token

	result, err := e.Submit(ctx, task.Request)
	if err != nil {
		if apierror.Retryable(err) {
			logrus.WithError(err).WithField("id", task.Request.ID).Info("queued submission will be retried")
			return err
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.WithFields(logrus.Fields{"document_number": result.DocumentNumber, "uuid": result.UUID}).Info("queued submission completed")
	return nil
}
