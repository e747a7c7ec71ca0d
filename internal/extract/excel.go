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

package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/xuri/excelize/v2"
)

// excelRecords reads the first data sheet. Row one holds column names and every
// following row is one line item; header columns repeat on every row, so the first
// data row provides the header record.
func excelRecords(r io.Reader) (record, []record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileType, "workbook cannot be opened", err.Error())
	}
	defer f.Close()

	sheet := ""
	for _, name := range f.GetSheetList() {
		if name != AnnotationSheet {
			sheet = name
			break
		}
	}
	if sheet == "" {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "workbook has no data sheet", nil)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rowRecords(rows)
}

func rowRecords(rows [][]string) (record, []record, error) {
	if len(rows) < 2 {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "workbook has no data rows", nil)
	}
	columns := make([]string, len(rows[0]))
	for i, c := range rows[0] {
		columns[i] = normalize(c)
	}

	var items []record
	for _, row := range rows[1:] {
		rec := record{}
		empty := true
		for i, v := range row {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				empty = false
			}
			rec[columns[i]] = v
		}
		if !empty {
			items = append(items, rec)
		}
	}
	if len(items) == 0 {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "workbook has no data rows", nil)
	}
	return items[0], items, nil
}
