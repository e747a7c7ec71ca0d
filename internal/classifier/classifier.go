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

// Package classifier checks document file names against the export naming grammar
// <type>_<documentNumber>_eInvoice_<YYYYMMDDHHMMSS>.<xls|xlsx|xml>.
package classifier

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
)

const timestampLayout = "20060102150405"

var nameGrammar = regexp.MustCompile(`^(0[1-4]|1[1-4])_([A-Z0-9][A-Z0-9-]*[A-Z0-9])_eInvoice_(\d{14})$`)

// Format is the source format of a document, derived from its extension.
type Format string

const (
	FormatExcel Format = "excel"
	FormatXML   Format = "xml"
)

var extensions = map[string]Format{
	".xls":  FormatExcel,
	".xlsx": FormatExcel,
	".xml":  FormatXML,
}

type Classification struct {
	DocType        model.DocumentType
	DocumentNumber string
	Timestamp      time.Time
	Format         Format
	Extension      string
}

// Classify validates fileName and returns its parts. An unsupported extension yields
// INVALID_FILE_TYPE; any grammar or timestamp violation yields INVALID_FILE_FORMAT.
func Classify(fileName string) (Classification, error) {
	base := filepath.Base(fileName)
	ext := filepath.Ext(base)
	format, ok := extensions[strings.ToLower(ext)]
	if !ok {
		return Classification{}, apierror.NewAPIError(apierror.ErrInvalidFileType,
			fmt.Sprintf("unsupported file type %q", ext), nil)
	}

	stem := strings.TrimSuffix(base, ext)
	m := nameGrammar.FindStringSubmatch(stem)
	if m == nil {
		return Classification{}, apierror.NewAPIError(apierror.ErrInvalidFileFormat,
			fmt.Sprintf("file name %q does not match <type>_<number>_eInvoice_<YYYYMMDDHHMMSS>", base), nil)
	}

	docType, ok := model.ParseDocumentType(m[1])
	if !ok {
		return Classification{}, apierror.NewAPIError(apierror.ErrInvalidFileFormat,
			fmt.Sprintf("unknown document type %q", m[1]), nil)
	}

	ts, err := ParseTimestamp(m[3])
	if err != nil {
		return Classification{}, apierror.NewAPIError(apierror.ErrInvalidFileFormat, err.Error(), nil)
	}

	return Classification{
		DocType:        docType,
		DocumentNumber: m[2],
		Timestamp:      ts,
		Format:         format,
		Extension:      strings.ToLower(ext),
	}, nil
}

// ParseTimestamp parses a calendar valid YYYYMMDDHHMMSS value with a year in [2000, 2100].
func ParseTimestamp(s string) (time.Time, error) {
	// time.Parse rejects month 13, day 32, Feb 30 and hour 24.
	ts, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	if ts.Year() < 2000 || ts.Year() > 2100 {
		return time.Time{}, fmt.Errorf("timestamp year %d out of range", ts.Year())
	}
	return ts, nil
}

// IsValid reports whether fileName passes Classify.
func IsValid(fileName string) bool {
	_, err := Classify(fileName)
	return err == nil
}
