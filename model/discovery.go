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
	"time"
)

// ExtractedFields is the preview of a document shown in the listing.
type ExtractedFields struct {
	IssueDate    string `json:"issue_date,omitempty"`
	IssueTime    string `json:"issue_time,omitempty"`
	BuyerInfo    string `json:"buyer_info,omitempty"`
	SupplierInfo string `json:"supplier_info,omitempty"`
	TotalAmount  string `json:"total_amount,omitempty"`
}

// DiscoveredFile is one candidate file found by a scan. It is never persisted.
type DiscoveredFile struct {
	Type             string          `json:"type"`
	Company          string          `json:"company"`
	Date             string          `json:"date"`
	FileName         string          `json:"file_name"`
	FilePath         string          `json:"file_path"`
	Size             int64           `json:"size"`
	ModifiedTime     time.Time       `json:"modified_time"`
	UploadedDate     time.Time       `json:"uploaded_date"`
	Extracted        ExtractedFields `json:"extracted_fields"`
	DocumentNumber   string          `json:"document_number"`
	DocumentTypeCode DocumentType    `json:"document_type_code"`
	DocumentType     string          `json:"document_type"`
}

// Key identifies a file for deduplication.
func (f DiscoveredFile) Key() string {
	if f.DocumentNumber != "" {
		return f.DocumentNumber
	}
	return f.FileName
}

// MergedFile is a DiscoveredFile left joined with its status record.
type MergedFile struct {
	DiscoveredFile
	Status             Status     `json:"status"`
	UUID               *string    `json:"uuid"`
	SubmissionUID      *string    `json:"submission_uid"`
	LongID             string     `json:"long_id,omitempty"`
	DateSubmitted      *time.Time `json:"date_submitted,omitempty"`
	DateCancelled      *time.Time `json:"date_cancelled,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	StatusUpdatedAt    *time.Time `json:"status_updated_at,omitempty"`
}

// ErrorRecord is a scan failure confined to one directory or file.
type ErrorRecord struct {
	Scope   string `json:"scope"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ScanSummary counts the outcome of one scan. Invalid files fail the name grammar;
// Errors are access or read failures.
type ScanSummary struct {
	TotalFiles int `json:"total_files"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Errors     int `json:"errors"`
}

// ScanResult is what one walk of the incoming root produces.
type ScanResult struct {
	Files   []DiscoveredFile `json:"files"`
	Errors  []ErrorRecord    `json:"errors"`
	Summary ScanSummary      `json:"summary"`
}

// Listing is the discovery response served to callers.
type Listing struct {
	Files            []MergedFile  `json:"files"`
	Errors           []ErrorRecord `json:"errors,omitempty"`
	Summary          ScanSummary   `json:"summary"`
	FromCache        bool          `json:"from_cache"`
	Timestamp        time.Time     `json:"timestamp"`
	LastStatusUpdate time.Time     `json:"last_status_update"`
}

// Location addresses one file inside the type/company/date hierarchy.
type Location struct {
	Type     string `json:"type"`
	Company  string `json:"company"`
	Date     string `json:"date"`
	FileName string `json:"file_name"`
}
