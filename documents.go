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
	"fmt"
	"os"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/classifier"
	"github.com/blnkfinance/einvoice/internal/extract"
	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
)

// ContentResult is the extraction preview of one incoming document.
type ContentResult struct {
	File         model.DiscoveredFile      `json:"file"`
	Document     *model.StructuredDocument `json:"document"`
	Preview      model.ExtractedFields     `json:"preview"`
	Validation   []model.ValidationGroup   `json:"validation,omitempty"`
	Status       *model.SubmissionStatus   `json:"status,omitempty"`
	OutgoingPath string                    `json:"outgoing_path,omitempty"`
}

// documentNumberOf accepts either a file name or a bare document number.
func documentNumberOf(id string) string {
	if c, err := classifier.Classify(id); err == nil {
		return c.DocumentNumber
	}
	return id
}

// locateDocument finds the incoming file for id. With a full location the file name is
// resolved directly; otherwise every category is searched by document number.
func (e *Engine) locateDocument(ctx context.Context, id, typ, company, date string) (model.DiscoveredFile, error) {
	if id == "" {
		return model.DiscoveredFile{}, apierror.NewAPIError(apierror.ErrBadRequest, "document id is required", nil)
	}
	if typ == "" || company == "" || date == "" {
		return e.walker.Find(ctx, documentNumberOf(id))
	}

	c, err := classifier.Classify(id)
	if err != nil {
		return model.DiscoveredFile{}, err
	}
	path, info, err := e.walker.Locate(ctx, model.Location{Type: typ, Company: company, Date: date, FileName: id})
	if err != nil {
		return model.DiscoveredFile{}, err
	}
	return model.DiscoveredFile{
		Type:             typ,
		Company:          company,
		Date:             date,
		FileName:         id,
		FilePath:         path,
		Size:             info.Size(),
		ModifiedTime:     info.ModTime(),
		UploadedDate:     info.ModTime(),
		DocumentNumber:   c.DocumentNumber,
		DocumentTypeCode: c.DocType,
		DocumentType:     c.DocType.String(),
	}, nil
}

// Content extracts and validates one document and writes its un-annotated outgoing
// copy. Validation findings are returned, not raised.
func (e *Engine) Content(ctx context.Context, req SubmitRequest) (*ContentResult, error) {
	ctx, span := tracer.Start(ctx, "Previewing document content")
	defer span.End()

	file, err := e.locateDocument(ctx, req.ID, req.Type, req.Company, req.Date)
	if err != nil {
		return nil, err
	}
	c, err := classifier.Classify(file.FileName)
	if err != nil {
		return nil, err
	}
	doc, err := extract.File(ctx, file.FilePath, c.Format)
	if err != nil {
		return nil, err
	}
	file.Extracted = extract.PreviewOf(doc)

	result := &ContentResult{
		File:       file,
		Document:   doc,
		Preview:    file.Extracted,
		Validation: e.validator.Validate(doc),
	}
	if result.Status, err = e.datasource.GetSubmission(ctx, c.DocumentNumber); err != nil {
		return nil, err
	}

	path, err := e.materialize(ctx, file, doc, nil)
	if err != nil {
		logrus.WithError(err).WithField("file", file.FilePath).Warn("outgoing preview copy failed")
	}
	result.OutgoingPath = path
	return result, nil
}

// Delete removes an incoming file together with its status record. Documents that are
// Submitted or Processing cannot be deleted.
func (e *Engine) Delete(ctx context.Context, loc model.Location) error {
	ctx, span := tracer.Start(ctx, "Deleting document")
	defer span.End()

	path, _, err := e.walker.Locate(ctx, loc)
	if err != nil {
		return err
	}
	documentNumber := documentNumberOf(loc.FileName)

	rec, err := e.datasource.GetSubmission(ctx, documentNumber)
	if err != nil {
		return err
	}
	if rec != nil && (rec.Status == model.StatusSubmitted || rec.Status == model.StatusProcessing) {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("document %s is %s and cannot be deleted", documentNumber, rec.Status),
			map[string]interface{}{"document_number": documentNumber, "status": rec.Status})
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apierror.NewAPIError(apierror.ErrFileNotFound, fmt.Sprintf("file %s not found", loc.FileName), nil)
		}
		return apierror.NewAPIError(apierror.ErrDirectoryAccess, fmt.Sprintf("failed to delete %s", loc.FileName), err.Error())
	}
	if rec != nil {
		if err := e.datasource.DeleteSubmission(ctx, documentNumber); err != nil {
			return err
		}
	}
	e.Invalidate(ctx)
	logrus.WithFields(logrus.Fields{"document_number": documentNumber, "path": path}).Info("document deleted")
	return nil
}

// Details fetches the authority's view of a submitted document.
func (e *Engine) Details(ctx context.Context, id, token string) (map[string]interface{}, error) {
	ctx, span := tracer.Start(ctx, "Fetching document details")
	defer span.End()

	documentNumber := documentNumberOf(id)
	rec, err := e.datasource.GetSubmission(ctx, documentNumber)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.UUID == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("document %s has not been accepted by LHDN", documentNumber), nil)
	}
	return e.authority.DocumentDetails(ctx, token, rec.UUID)
}
