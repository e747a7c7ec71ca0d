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
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/classifier"
	"github.com/blnkfinance/einvoice/internal/extract/extracttest"
	"github.com/blnkfinance/einvoice/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "01_ARINV001_eInvoice_20250127100000.xlsx")
	rows := extracttest.Rows("ARINV001", "1", "27/01/2025", "1,234.56",
		extracttest.Item{Description: "Laptop", Quantity: "2", UnitPrice: "500", TaxType: "01", TaxRate: "10", TaxAmount: "100"},
		extracttest.Item{Description: "Support", Quantity: "1", UnitPrice: "134.56", TaxType: "E", ExemptionReason: "Exempt service"},
	)
	require.NoError(t, extracttest.WriteWorkbook(path, rows))

	doc, err := File(context.Background(), path, classifier.FormatExcel)
	require.NoError(t, err)

	assert.Equal(t, "ARINV001", doc.Header.InvoiceNumber)
	assert.Equal(t, model.DocTypeInvoice, doc.Header.TypeCode)
	assert.Equal(t, "2025-01-27", doc.Header.IssueDate)
	assert.Equal(t, "10:22:44Z", doc.Header.IssueTime)
	assert.Equal(t, "MYR", doc.Header.CurrencyCode)
	assert.Equal(t, "C2584563200", doc.Supplier.Identification.TIN)
	assert.Equal(t, "46510", doc.Supplier.IndustryCode)
	assert.Equal(t, "14", doc.Supplier.Address.StateCode)
	assert.Equal(t, "C25845632020", doc.Buyer.Identification.TIN)

	require.Len(t, doc.Items, 2)
	assert.True(t, doc.Items[0].Subtotal.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "022", doc.Items[0].ClassificationCode)
	assert.Equal(t, model.TaxTypeExempt, doc.Items[1].TaxType)
	assert.Equal(t, "Exempt service", doc.Items[1].ExemptionReason)

	assert.True(t, doc.Summary.PayableAmount.Equal(decimal.RequireFromString("1234.56")))
	assert.True(t, doc.Summary.LineExtensionAmount.Equal(decimal.RequireFromString("1134.56")))
	assert.True(t, doc.Summary.TaxTotal.Equal(decimal.NewFromInt(100)))
	require.Len(t, doc.Summary.TaxSubtotals, 2)
	assert.Equal(t, "01", doc.Summary.TaxSubtotals[0].TaxType)

	preview := PreviewOf(doc)
	assert.Equal(t, "1234.56", preview.TotalAmount)
	assert.Equal(t, doc.Buyer.RegistrationName, preview.BuyerInfo)
}

func TestFileMissing(t *testing.T) {
	_, err := File(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"), classifier.FormatExcel)
	assert.True(t, apierror.Is(err, apierror.ErrFileNotFound))
}

func TestReaderLegacyWorkbook(t *testing.T) {
	_, err := Reader(strings.NewReader("\xd0\xcf\x11\xe0 not a zip"), classifier.FormatExcel)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidFileType))
}

func TestRowRecords(t *testing.T) {
	_, _, err := rowRecords([][]string{{"Invoice No"}})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidFileFormat))

	header, items, err := rowRecords([][]string{
		{"Invoice No", "Quantity", ""},
		{"INV1", "3", "ignored"},
		{"", "", ""},
		{"INV1", "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV1", header.get("InvoiceNo"))
	assert.Len(t, items, 2)
	assert.Equal(t, "4", items[1].get("quantity"))
}

func TestBuildReportsUnreadableNumbers(t *testing.T) {
	_, err := build(record{"invoiceno": "INV1"}, []record{{"description": "x", "quantity": "two"}})
	require.Error(t, err)
	apiErr := apierror.As(err)
	assert.Equal(t, apierror.ErrInvalidFileFormat, apiErr.Code)
	findings := apiErr.Details.([]model.ValidationFinding)
	require.Len(t, findings, 1)
	assert.Equal(t, 1, findings[0].Row)
}

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<Document>
  <Header>
    <InvoiceNo>XINV9</InvoiceNo>
    <InvoiceTypeCode>02</InvoiceTypeCode>
    <IssueDate>2025-01-27</IssueDate>
    <IssueTime>10:22:44</IssueTime>
    <CurrencyCode>myr</CurrencyCode>
    <BillingReference>ARINV001</BillingReference>
  </Header>
  <Supplier>
    <Name>Acme Sdn Bhd</Name>
    <TIN>C2584563200</TIN>
    <BRN>201901234567</BRN>
  </Supplier>
  <Buyer>
    <Name>Beta Bhd</Name>
    <TIN>C25845632020</TIN>
  </Buyer>
  <Items>
    <Item>
      <Description>Returned laptop</Description>
      <Quantity>1</Quantity>
      <UnitPrice>500.00</UnitPrice>
      <ClassificationCode>022</ClassificationCode>
      <TaxType>06</TaxType>
    </Item>
  </Items>
  <Summary>
    <PayableAmount>500.00</PayableAmount>
  </Summary>
</Document>`

func TestReaderXML(t *testing.T) {
	doc, err := Reader(strings.NewReader(sampleXML), classifier.FormatXML)
	require.NoError(t, err)

	assert.Equal(t, "XINV9", doc.Header.InvoiceNumber)
	assert.Equal(t, model.DocTypeCreditNote, doc.Header.TypeCode)
	assert.Equal(t, "10:22:44Z", doc.Header.IssueTime)
	assert.Equal(t, "MYR", doc.Header.CurrencyCode)
	assert.Equal(t, "ARINV001", doc.Header.BillingReference)
	assert.Equal(t, "Acme Sdn Bhd", doc.Supplier.RegistrationName)
	assert.Equal(t, "201901234567", doc.Supplier.Identification.BRN)
	assert.Equal(t, "Beta Bhd", doc.Buyer.RegistrationName)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "022", doc.Items[0].ClassificationCode)
	assert.True(t, doc.Summary.PayableAmount.Equal(decimal.NewFromInt(500)))
}

func TestReaderMalformedXML(t *testing.T) {
	_, err := Reader(strings.NewReader("<Document><Header>"), classifier.FormatXML)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidFileFormat))
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "2025-01-27", normalizeDate("2025-01-27"))
	assert.Equal(t, "2025-01-27", normalizeDate("27/01/2025"))
	assert.Equal(t, "garbage", normalizeDate("garbage"))
	assert.Equal(t, "", normalizeDate(""))
	assert.Equal(t, "09:05:00Z", normalizeTime("09:05"))
	assert.Equal(t, "21:05:00Z", normalizeTime("9:05 PM"))
	assert.Equal(t, "01", padCode("1"))
	assert.Equal(t, "022", padCode("022"))
	assert.Equal(t, model.TaxTypeExempt, normalizeTaxType("Exempt"))
	assert.Equal(t, model.TaxTypeNotApplicable, normalizeTaxType("Not Applicable"))
	assert.Equal(t, "06", normalizeTaxType("6"))
}
