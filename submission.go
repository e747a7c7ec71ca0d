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
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/classifier"
	"github.com/blnkfinance/einvoice/internal/extract"
	redlock "github.com/blnkfinance/einvoice/internal/lock"
	"github.com/blnkfinance/einvoice/internal/mapper"
	"github.com/blnkfinance/einvoice/internal/signer"
	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const submissionLockTTL = 10 * time.Minute

// Stage names one step of the submission state machine.
type Stage string

const (
	StageIdle           Stage = "Idle"
	StageChecking       Stage = "Checking"
	StageValidating     Stage = "Validating"
	StageMapping        Stage = "Mapping"
	StagePreparing      Stage = "Preparing"
	StageSubmitting     Stage = "Submitting"
	StageAwaitingResult Stage = "AwaitingResult"
	StageReconciling    Stage = "Reconciling"
	StageTerminal       Stage = "Terminal"
)

// SubmitRequest identifies one incoming document. ID is a file name or a document
// number; Type, Company and Date pin the file when several copies exist.
type SubmitRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Company string `json:"company"`
	Date    string `json:"date"`
	Version string `json:"version"`
	Token   string `json:"-"`
}

// SubmissionContext is threaded through every stage. Each stage returns an updated copy.
type SubmissionContext struct {
	Stage          Stage
	DocumentNumber string
	File           model.DiscoveredFile
	Classification classifier.Classification
	Version        string
	Token          string
	Claimed        bool

	Document *model.StructuredDocument
	Mapped   mapper.Document
	Envelope model.SubmissionEnvelope
	Response *model.SubmissionResponse
	Accepted *model.AcceptedDocument
	Details  *model.SubmissionDetails
	Status   *model.SubmissionStatus
}

// SubmitResult is returned for an accepted document.
type SubmitResult struct {
	DocumentNumber string             `json:"document_number"`
	Status         model.Status       `json:"status"`
	UUID           string             `json:"uuid"`
	SubmissionUID  string             `json:"submission_uid"`
	LongID         string             `json:"long_id,omitempty"`
	DateSubmitted  *time.Time         `json:"date_submitted,omitempty"`
	OutgoingPath   string             `json:"outgoing_path,omitempty"`
	ArtifactError  *apierror.APIError `json:"artifact_error,omitempty"`
}

type stageFunc func(ctx context.Context, sc SubmissionContext) (SubmissionContext, error)

// Submit runs one document through the pipeline. A document that is already Submitted,
// Processing or Cancelled is refused with DUPLICATE_SUBMISSION before anything is
// extracted or sent. Once the document is claimed every failure is persisted as
// Failed or Rejected.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "Submitting document")
	defer span.End()

	sc, err := e.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("document_number", sc.DocumentNumber))

	lock := e.locks("submit:" + sc.DocumentNumber)
	if err := lock.Lock(ctx, submissionLockTTL); err != nil {
		if errors.Is(err, redlock.ErrHeld) {
			return nil, apierror.NewAPIError(apierror.ErrDuplicateSubmission,
				fmt.Sprintf("document %s is already being submitted", sc.DocumentNumber),
				map[string]interface{}{"document_number": sc.DocumentNumber, "status": model.StatusProcessing})
		}
		return nil, apierror.NewAPIError(apierror.ErrSubmissionInfrastructure, "failed to acquire submission lock", err.Error())
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("document_number", sc.DocumentNumber).Warn("failed to release submission lock")
		}
	}()

	stages := []struct {
		stage Stage
		run   stageFunc
	}{
		{StageChecking, e.check},
		{StageValidating, e.validate},
		{StageMapping, e.mapDocument},
		{StagePreparing, e.prepare},
		{StageSubmitting, e.send},
		{StageAwaitingResult, e.awaitResult},
		{StageReconciling, e.record},
	}

	for _, s := range stages {
		sc.Stage = s.stage
		logrus.WithFields(logrus.Fields{"document_number": sc.DocumentNumber, "stage": s.stage}).Debug("submission stage")
		next, err := s.run(ctx, sc)
		if err != nil {
			span.RecordError(err)
			if sc.Claimed {
				e.recordFailure(ctx, sc, err)
			}
			return nil, err
		}
		sc = next
	}
	sc.Stage = StageTerminal

	result := &SubmitResult{
		DocumentNumber: sc.DocumentNumber,
		Status:         sc.Status.Status,
		UUID:           sc.Status.UUID,
		SubmissionUID:  sc.Status.SubmissionUID,
		LongID:         sc.Status.LongID,
		DateSubmitted:  sc.Status.DateSubmitted,
	}

	path, err := e.materialize(ctx, sc.File, sc.Document, sc.Status)
	if err != nil {
		apiErr := apierror.As(err)
		result.ArtifactError = &apiErr
		logrus.WithError(err).WithField("document_number", sc.DocumentNumber).Error("outgoing artifact failed after submission")
		e.notify(ctx, "Outgoing artifact failed", fmt.Errorf("%s: %w", sc.DocumentNumber, err))
	}
	result.OutgoingPath = path

	e.Invalidate(ctx)
	logrus.WithFields(logrus.Fields{
		"document_number": sc.DocumentNumber,
		"uuid":            result.UUID,
		"submission_uid":  result.SubmissionUID,
	}).Info("document submitted")
	return result, nil
}

// resolve locates the incoming file for req and classifies it.
func (e *Engine) resolve(ctx context.Context, req SubmitRequest) (SubmissionContext, error) {
	file, err := e.locateDocument(ctx, req.ID, req.Type, req.Company, req.Date)
	if err != nil {
		return SubmissionContext{}, err
	}
	c, err := classifier.Classify(file.FileName)
	if err != nil {
		return SubmissionContext{}, err
	}
	version := req.Version
	if version == "" {
		version = e.cfg.LHDN.SignatureVersion
	}
	return SubmissionContext{
		Stage:          StageIdle,
		DocumentNumber: c.DocumentNumber,
		File:           file,
		Classification: c,
		Version:        version,
		Token:          req.Token,
	}, nil
}

// check claims the document. Only one caller can flip a record to Processing.
func (e *Engine) check(ctx context.Context, sc SubmissionContext) (SubmissionContext, error) {
	existing, claimed, err := e.datasource.ClaimForProcessing(ctx, model.SubmissionStatus{
		DocumentNumber: sc.DocumentNumber,
		FileName:       sc.File.FileName,
		FilePath:       sc.File.FilePath,
	})
	if err != nil {
		return sc, err
	}
	if !claimed {
		details := map[string]interface{}{"document_number": sc.DocumentNumber}
		if existing != nil {
			details["status"] = existing.Status
			details["uuid"] = existing.UUID
			details["date_submitted"] = existing.DateSubmitted
		}
		return sc, apierror.NewAPIError(apierror.ErrDuplicateSubmission,
			fmt.Sprintf("document %s has already been submitted", sc.DocumentNumber), details)
	}
	sc.Claimed = true
	sc.Status = existing
	return sc, nil
}

func (e *Engine) validate(ctx context.Context, sc SubmissionContext) (SubmissionContext, error) {
	doc, err := extract.File(ctx, sc.File.FilePath, sc.Classification.Format)
	if err != nil {
		return sc, err
	}
	if doc.Header.InvoiceNumber == "" {
		doc.Header.InvoiceNumber = sc.DocumentNumber
	}
	if doc.Header.TypeCode == "" {
		doc.Header.TypeCode = sc.Classification.DocType
	}
	if err := e.validator.Check(doc); err != nil {
		return sc, err
	}
	sc.Document = doc
	return sc, nil
}

func (e *Engine) mapDocument(_ context.Context, sc SubmissionContext) (SubmissionContext, error) {
	mapped, err := mapper.Map(sc.Document, sc.Version)
	if err != nil {
		return sc, err
	}
	sc.Mapped = mapped
	return sc, nil
}

func (e *Engine) prepare(_ context.Context, sc SubmissionContext) (SubmissionContext, error) {
	env, err := signer.Prepare(sc.Mapped, sc.DocumentNumber, sc.Version, e.signer)
	if err != nil {
		return sc, err
	}
	sc.Envelope = env
	return sc, nil
}

func (e *Engine) send(ctx context.Context, sc SubmissionContext) (SubmissionContext, error) {
	resp, err := e.authority.Submit(ctx, sc.Token, sc.Envelope.Documents)
	if err != nil {
		return sc, err
	}
	sc.Response = resp

	for _, rejected := range resp.RejectedDocuments {
		if rejected.InvoiceCodeNumber == sc.DocumentNumber || len(resp.AcceptedDocuments) == 0 {
			return sc, apierror.NewAPIError(apierror.ErrRejection, rejectionMessage(rejected.Error), rejected.Error)
		}
	}
	for i, accepted := range resp.AcceptedDocuments {
		if accepted.InvoiceCodeNumber == sc.DocumentNumber || sc.Accepted == nil {
			sc.Accepted = &resp.AcceptedDocuments[i]
		}
	}
	if sc.Accepted == nil {
		return sc, apierror.NewAPIError(apierror.ErrSystem, "authority accepted no documents", resp)
	}
	return sc, nil
}

func rejectionMessage(ae model.AuthorityError) string {
	if ae.Message != "" {
		return ae.Message
	}
	for _, d := range ae.Details {
		if d.Message != "" {
			return d.Message
		}
	}
	return "document rejected by LHDN"
}

// awaitResult polls the submission when enabled. A poll that never settles leaves the
// accepted document Submitted without a long id.
func (e *Engine) awaitResult(ctx context.Context, sc SubmissionContext) (SubmissionContext, error) {
	if !e.cfg.LHDN.PollEnabled || sc.Response.SubmissionUID == "" {
		return sc, nil
	}
	details, err := e.authority.PollSubmission(ctx, sc.Token, sc.Response.SubmissionUID)
	if details != nil {
		sc.Details = details
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"document_number": sc.DocumentNumber,
			"submission_uid":  sc.Response.SubmissionUID,
		}).Warn("submission result not final, keeping accepted status")
		return sc, nil
	}
	for _, summary := range details.DocumentSummary {
		if summary.UUID != sc.Accepted.UUID {
			continue
		}
		switch summary.Status {
		case "Invalid", "Rejected":
			return sc, apierror.NewAPIError(apierror.ErrRejection,
				fmt.Sprintf("document %s was marked %s by LHDN validation", sc.DocumentNumber, summary.Status), summary)
		}
	}
	return sc, nil
}

func (sc SubmissionContext) longID() string {
	if sc.Details == nil || sc.Accepted == nil {
		return ""
	}
	for _, summary := range sc.Details.DocumentSummary {
		if summary.UUID == sc.Accepted.UUID {
			return summary.LongID
		}
	}
	return ""
}

func (e *Engine) record(ctx context.Context, sc SubmissionContext) (SubmissionContext, error) {
	submittedAt := e.now()
	rec := &model.SubmissionStatus{
		DocumentNumber: sc.DocumentNumber,
		UUID:           sc.Accepted.UUID,
		SubmissionUID:  sc.Response.SubmissionUID,
		LongID:         sc.longID(),
		FileName:       sc.File.FileName,
		FilePath:       sc.File.FilePath,
		Status:         model.StatusSubmitted,
		DateSubmitted:  &submittedAt,
	}
	if sc.Status != nil {
		rec.ID = sc.Status.ID
	}
	if err := e.datasource.UpsertSubmission(ctx, rec); err != nil {
		return sc, err
	}
	sc.Status = rec
	return sc, nil
}

// recordFailure persists the terminal status of a claimed document that did not make
// it through. The write is attempted even when ctx is already cancelled.
func (e *Engine) recordFailure(ctx context.Context, sc SubmissionContext, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	status := model.StatusFailed
	if apierror.Is(cause, apierror.ErrRejection) || apierror.Is(cause, apierror.ErrDuplicateSubmission) {
		status = model.StatusRejected
	}

	payload, err := json.Marshal(apierror.As(cause))
	if err != nil {
		payload = nil
	}
	rec := &model.SubmissionStatus{
		DocumentNumber: sc.DocumentNumber,
		FileName:       sc.File.FileName,
		FilePath:       sc.File.FilePath,
		Status:         status,
		Error:          payload,
	}
	if sc.Status != nil {
		rec.ID = sc.Status.ID
	}
	if sc.Response != nil {
		rec.SubmissionUID = sc.Response.SubmissionUID
	}

	fields := logrus.Fields{"document_number": sc.DocumentNumber, "stage": sc.Stage, "status": status}
	if err := e.datasource.UpsertSubmission(writeCtx, rec); err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to persist submission failure")
	}
	e.Invalidate(writeCtx)

	logrus.WithError(cause).WithFields(fields).Error("submission did not complete")
	if status == model.StatusFailed {
		e.notify(writeCtx, "Submission failed", fmt.Errorf("%s at %s: %w", sc.DocumentNumber, sc.Stage, cause))
	}
}
