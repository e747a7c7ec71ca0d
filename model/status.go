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

package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusSubmitted  Status = "Submitted"
	StatusRejected   Status = "Rejected"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
	StatusInvalid    Status = "Invalid"
)

// IsInvalid reports whether s is Invalid or one of the "Invalid..." verdicts
// written by the downstream validator.
func (s Status) IsInvalid() bool {
	return strings.HasPrefix(string(s), string(StatusInvalid))
}

// IsTerminal reports whether normal re-submission is disallowed for s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSubmitted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether s may still be corrected by an inbound disposition.
// Processing is excluded: it is the claim held by a running submission.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusSubmitted:
		return true
	}
	return false
}

// Claimable reports whether a submit request may flip a record in status s to Processing.
func (s Status) Claimable() bool {
	if s.IsInvalid() {
		return true
	}
	switch s {
	case StatusPending, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ClaimableStatuses lists the statuses Claimable accepts verbatim. Invalid verdicts
// are matched by prefix.
var ClaimableStatuses = []string{string(StatusPending), string(StatusFailed), string(StatusRejected)}

// SubmissionStatus is the persisted lifecycle record of one business document.
type SubmissionStatus struct {
	ID                 string          `json:"id"`
	DocumentNumber     string          `json:"document_number"`
	UUID               string          `json:"uuid,omitempty"`
	SubmissionUID      string          `json:"submission_uid,omitempty"`
	LongID             string          `json:"long_id,omitempty"`
	FileName           string          `json:"file_name"`
	FilePath           string          `json:"file_path"`
	Status             Status          `json:"status"`
	DateSubmitted      *time.Time      `json:"date_submitted,omitempty"`
	DateCancelled      *time.Time      `json:"date_cancelled,omitempty"`
	CancelledBy        string          `json:"cancelled_by,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Error              json.RawMessage `json:"error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// InboundDisposition is the later verdict recorded by the downstream validator for
// a document number.
type InboundDisposition struct {
	DocumentNumber     string     `json:"document_number"`
	UUID               string     `json:"uuid,omitempty"`
	Status             Status     `json:"status"`
	DateCancelled      *time.Time `json:"date_cancelled,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// StatusUpdate is one corrective write produced by reconciliation.
type StatusUpdate struct {
	DocumentNumber string `json:"document_number"`
	Status         Status `json:"status"`
}

// CancelRequest carries everything stamped onto both status stores on cancel.
type CancelRequest struct {
	DocumentNumber string    `json:"document_number"`
	UUID           string    `json:"uuid"`
	Reason         string    `json:"reason"`
	CancelledBy    string    `json:"cancelled_by"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
