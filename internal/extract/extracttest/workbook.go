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

// Package extracttest writes export workbooks for tests.
package extracttest

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/xuri/excelize/v2"
)

// Columns is the column layout of a standard export workbook.
var Columns = []string{
	"Invoice No", "Invoice Type Code", "Issue Date", "Issue Time", "Currency Code",
	"Supplier Name", "Supplier TIN", "Supplier BRN", "Supplier SST", "Supplier MSIC", "Supplier Business Activity",
	"Supplier Address 1", "Supplier City", "Supplier Postcode", "Supplier State", "Supplier Country",
	"Supplier Phone", "Supplier Email",
	"Buyer Name", "Buyer TIN", "Buyer BRN", "Buyer Address 1", "Buyer City", "Buyer Postcode",
	"Buyer State", "Buyer Country", "Buyer Phone", "Buyer Email",
	"Item ID", "Classification Code", "Description", "Quantity", "Unit Code", "Unit Price",
	"Tax Type", "Tax Rate", "Tax Amount", "Exemption Reason",
	"Payable Amount",
}

// Item is one line of a fixture workbook.
type Item struct {
	Description     string
	Quantity        string
	UnitPrice       string
	TaxType         string
	TaxRate         string
	TaxAmount       string
	ExemptionReason string
}

// Rows returns the data rows of a workbook for documentNumber issued on issueDate.
func Rows(documentNumber, typeCode, issueDate, payable string, items ...Item) [][]string {
	supplier := gofakeit.Company()
	buyer := gofakeit.Company()
	var rows [][]string
	for i, it := range items {
		rows = append(rows, []string{
			documentNumber, typeCode, issueDate, "10:22:44", "MYR",
			supplier, "C2584563200", "201901234567", "W10-1808-32000001", "46510", "Wholesale of computer hardware",
			gofakeit.Street(), "Kuala Lumpur", "50480", "14", "MYS",
			"+60123456789", "ar@supplier.example",
			buyer, "C25845632020", "202001234567", gofakeit.Street(), "Petaling Jaya", "46000",
			"10", "MYS", "+60198765432", "ap@buyer.example",
			strconv.Itoa(i + 1), "022", it.Description, it.Quantity, "C62", it.UnitPrice,
			it.TaxType, it.TaxRate, it.TaxAmount, it.ExemptionReason,
			payable,
		})
	}
	return rows
}

// WriteWorkbook saves an xlsx at path with Columns and rows on the first sheet.
func WriteWorkbook(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r, row := range rows {
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
