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

// DocumentSubmission is one entry of the documents array posted to the authority.
type DocumentSubmission struct {
	Format       string `json:"format"`
	DocumentHash string `json:"documentHash"`
	CodeNumber   string `json:"codeNumber"`
	Document     string `json:"document"`
}

// SubmissionEnvelope is built fresh for every submission attempt and never persisted.
type SubmissionEnvelope struct {
	Version   string
	Payload   []byte
	Signed    bool
	Documents []DocumentSubmission
}

type SubmissionRequest struct {
	Documents []DocumentSubmission `json:"documents"`
}

type AcceptedDocument struct {
	UUID              string `json:"uuid"`
	InvoiceCodeNumber string `json:"invoiceCodeNumber"`
}

type RejectedDocument struct {
	InvoiceCodeNumber string         `json:"invoiceCodeNumber"`
	Error             AuthorityError `json:"error"`
}

// AuthorityError is the structured error body returned by the authority. It is kept
// verbatim on Rejected records.
type AuthorityError struct {
	Code         string           `json:"code,omitempty"`
	Message      string           `json:"message,omitempty"`
	Target       string           `json:"target,omitempty"`
	PropertyPath string           `json:"propertyPath,omitempty"`
	Details      []AuthorityError `json:"details,omitempty"`
}

type SubmissionResponse struct {
	SubmissionUID     string             `json:"submissionUid"`
	AcceptedDocuments []AcceptedDocument `json:"acceptedDocuments"`
	RejectedDocuments []RejectedDocument `json:"rejectedDocuments"`
}

type DocumentSummary struct {
	UUID          string `json:"uuid"`
	SubmissionUID string `json:"submissionUid"`
	LongID        string `json:"longId"`
	InternalID    string `json:"internalId"`
	Status        string `json:"status"`
}

type SubmissionDetails struct {
	SubmissionUID   string            `json:"submissionUid"`
	DocumentCount   int               `json:"documentCount"`
	OverallStatus   string            `json:"overallStatus"`
	DocumentSummary []DocumentSummary `json:"documentSummary"`
}

// Terminal reports whether the authority has finished validating the submission.
func (d *SubmissionDetails) Terminal() bool {
	switch d.OverallStatus {
	case "", "in progress", "InProgress", "In Progress":
		return false
	}
	return true
}

type CancelResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}
