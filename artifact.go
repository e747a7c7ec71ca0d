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
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/extract"
	"github.com/blnkfinance/einvoice/model"
	"github.com/xuri/excelize/v2"
)

// ArtifactSummary is the JSON file written next to every outgoing copy.
type ArtifactSummary struct {
	IssueDate       string `json:"issueDate"`
	IssueTime       string `json:"issueTime"`
	InvoiceTypeCode string `json:"invoiceTypeCode"`
	InvoiceNo       string `json:"invoiceNo"`
	UUID            string `json:"uuid"`
}

// OutgoingPath mirrors f's location under the outgoing root.
func (e *Engine) OutgoingPath(f model.DiscoveredFile) string {
	return filepath.Join(e.cfg.Storage.OutgoingRoot, f.Type, f.Company, f.Date, f.FileName)
}

// SummaryPath is the sibling .json of an outgoing copy.
func SummaryPath(outgoing string) string {
	return strings.TrimSuffix(outgoing, filepath.Ext(outgoing)) + ".json"
}

// materialize writes the outgoing copy of f and its JSON summary. When rec is given the
// copy carries the authority identifiers: an annotation sheet in .xlsx workbooks and an
// annotation element under the root of .xml documents. Legacy .xls files are copied as
// is; their identifiers live in the JSON summary only.
func (e *Engine) materialize(ctx context.Context, f model.DiscoveredFile, doc *model.StructuredDocument, rec *model.SubmissionStatus) (string, error) {
	_, span := tracer.Start(ctx, "Materializing outgoing artifact")
	defer span.End()

	out := e.OutgoingPath(f)
	fail := func(err error) (string, error) {
		span.RecordError(err)
		return out, apierror.NewAPIError(apierror.ErrArtifactMaterialization,
			fmt.Sprintf("failed to write outgoing copy of %s", f.FileName), err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fail(err)
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(f.FileName)); {
	case rec != nil && ext == ".xlsx":
		err = annotateWorkbook(f.FilePath, out, rec)
	case rec != nil && ext == ".xml":
		err = annotateXML(f.FilePath, out, rec)
	default:
		err = copyFile(f.FilePath, out)
	}
	if err != nil {
		return fail(err)
	}

	summary := ArtifactSummary{InvoiceNo: f.DocumentNumber, InvoiceTypeCode: string(f.DocumentTypeCode)}
	if doc != nil {
		summary.IssueDate = doc.Header.IssueDate
		summary.IssueTime = doc.Header.IssueTime
		if doc.Header.InvoiceNumber != "" {
			summary.InvoiceNo = doc.Header.InvoiceNumber
		}
	}
	if rec != nil {
		summary.UUID = rec.UUID
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(SummaryPath(out), data, 0o644); err != nil {
		return fail(err)
	}
	return out, nil
}

// annotateWorkbook copies src to dst with a fresh annotation sheet.
func annotateWorkbook(src, dst string, rec *model.SubmissionStatus) error {
	wb, err := excelize.OpenFile(src)
	if err != nil {
		return err
	}
	defer wb.Close()

	if idx, err := wb.GetSheetIndex(extract.AnnotationSheet); err == nil && idx >= 0 {
		if err := wb.DeleteSheet(extract.AnnotationSheet); err != nil {
			return err
		}
	}
	if _, err := wb.NewSheet(extract.AnnotationSheet); err != nil {
		return err
	}

	submitted := ""
	if rec.DateSubmitted != nil {
		submitted = rec.DateSubmitted.UTC().Format(time.RFC3339)
	}
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Document Number", rec.DocumentNumber},
		{"UUID", rec.UUID},
		{"Submission UID", rec.SubmissionUID},
		{"Long ID", rec.LongID},
		{"Status", string(rec.Status)},
		{"Date Submitted", submitted},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := wb.SetSheetRow(extract.AnnotationSheet, cell, &row); err != nil {
			return err
		}
	}
	return wb.SaveAs(dst)
}

// xmlAnnotation is inserted as the first child of the root element of outgoing XML copies.
type xmlAnnotation struct {
	XMLName        xml.Name `xml:"urn:einvoice:annotation EInvoiceAnnotation"`
	DocumentNumber string   `xml:"DocumentNumber"`
	UUID           string   `xml:"UUID"`
	SubmissionUID  string   `xml:"SubmissionUID"`
	LongID         string   `xml:"LongID,omitempty"`
	Status         string   `xml:"Status"`
	DateSubmitted  string   `xml:"DateSubmitted,omitempty"`
}

// annotateXML copies src to dst with an annotation element right after the root start
// tag. The rest of the document is copied byte for byte.
func annotateXML(src, dst string, rec *model.SubmissionStatus) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	offset := int64(-1)
	for offset < 0 {
		tok, err := dec.RawToken()
		if err != nil {
			return fmt.Errorf("reading xml root: %w", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			offset = dec.InputOffset()
		}
	}
	if bytes.HasSuffix(bytes.TrimRight(raw[:offset], " \t\r\n"), []byte("/>")) {
		return errors.New("xml root element is empty")
	}

	annotation := xmlAnnotation{
		DocumentNumber: rec.DocumentNumber,
		UUID:           rec.UUID,
		SubmissionUID:  rec.SubmissionUID,
		LongID:         rec.LongID,
		Status:         string(rec.Status),
	}
	if rec.DateSubmitted != nil {
		annotation.DateSubmitted = rec.DateSubmitted.UTC().Format(time.RFC3339)
	}
	block, err := xml.Marshal(annotation)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) + len(block))
	buf.Write(raw[:offset])
	buf.Write(block)
	buf.Write(raw[offset:])
	return writeFileAtomic(dst, buf.Bytes())
}

func writeFileAtomic(dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
