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

// Package extract turns an exported workbook or XML document into a
// model.StructuredDocument. Both formats are first reduced to a header record and
// one record per line item keyed by normalized column name, so the output shape does
// not depend on the source format.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/classifier"
	"github.com/blnkfinance/einvoice/model"
	"github.com/shopspring/decimal"
)

// AnnotationSheet is the sheet added to submitted workbooks. It is never read back as data.
const AnnotationSheet = "LHDN"

type record map[string]string

func (r record) get(keys ...string) string {
	for _, k := range keys {
		if v, ok := r[normalize(k)]; ok && v != "" {
			return v
		}
	}
	return ""
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// File reads and extracts the document at path.
func File(ctx context.Context, path string, format classifier.Format) (*model.StructuredDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierror.NewAPIError(apierror.ErrFileNotFound, fmt.Sprintf("file %s not found", path), nil)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Reader(bytes.NewReader(data), format)
}

// Reader extracts a document from r in the given format.
func Reader(r io.Reader, format classifier.Format) (*model.StructuredDocument, error) {
	var (
		header record
		items  []record
		err    error
	)
	switch format {
	case classifier.FormatExcel:
		header, items, err = excelRecords(r)
	case classifier.FormatXML:
		header, items, err = xmlRecords(r)
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidFileType, fmt.Sprintf("unsupported format %q", format), nil)
	}
	if err != nil {
		return nil, err
	}
	return build(header, items)
}

// Preview extracts the listing fields for a discovered file.
func Preview(ctx context.Context, path string, c classifier.Classification) (model.ExtractedFields, error) {
	doc, err := File(ctx, path, c.Format)
	if err != nil {
		return model.ExtractedFields{}, err
	}
	return PreviewOf(doc), nil
}

func PreviewOf(doc *model.StructuredDocument) model.ExtractedFields {
	fields := model.ExtractedFields{
		IssueDate:    doc.Header.IssueDate,
		IssueTime:    doc.Header.IssueTime,
		BuyerInfo:    doc.Buyer.RegistrationName,
		SupplierInfo: doc.Supplier.RegistrationName,
	}
	if !doc.Summary.PayableAmount.IsZero() {
		fields.TotalAmount = doc.Summary.PayableAmount.StringFixed(2)
	}
	return fields
}

func build(h record, items []record) (*model.StructuredDocument, error) {
	p := &parser{}
	doc := &model.StructuredDocument{
		Header:   p.header(h),
		Supplier: p.party(h, "Supplier"),
		Buyer:    p.party(h, "Buyer"),
	}
	if doc.Supplier.IndustryCode == "" {
		doc.Supplier.IndustryCode = h.get("MSIC", "MSICCode")
	}

	for i, it := range items {
		item, ok := p.item(it, i+1)
		if ok {
			doc.Items = append(doc.Items, item)
		}
	}
	doc.Summary = p.summary(h, doc.Items)

	if len(p.errs) > 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "document contains unreadable values", p.errs)
	}
	return doc, nil
}

type parser struct {
	errs []model.ValidationFinding
}

func (p *parser) decimal(r record, row int, keys ...string) decimal.Decimal {
	raw := r.get(keys...)
	if raw == "" {
		return decimal.Zero
	}
	cleaned := strings.NewReplacer(",", "", " ", "", "RM", "", "%", "").Replace(raw)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		p.errs = append(p.errs, model.ValidationFinding{Field: keys[0], Message: fmt.Sprintf("%q is not a number", raw), Row: row})
		return decimal.Zero
	}
	return d
}

func (p *parser) header(h record) model.Header {
	hdr := model.Header{
		InvoiceNumber:    h.get("InvoiceNo", "InvoiceNumber", "DocumentNumber"),
		TypeCode:         model.DocumentType(padCode(h.get("InvoiceTypeCode", "DocumentType", "TypeCode"))),
		TypeVersion:      h.get("InvoiceTypeVersion", "Version"),
		IssueDate:        normalizeDate(h.get("IssueDate", "InvoiceDate")),
		IssueTime:        normalizeTime(h.get("IssueTime", "InvoiceTime")),
		CurrencyCode:     strings.ToUpper(h.get("CurrencyCode", "Currency", "DocumentCurrencyCode")),
		TaxCurrencyCode:  strings.ToUpper(h.get("TaxCurrencyCode")),
		BillingReference: h.get("BillingReference", "OriginalInvoiceNo", "OriginalInvoiceRef"),
		PaymentMode:      h.get("PaymentMode", "PaymentMeans"),
		PaymentTerms:     h.get("PaymentTerms"),
	}
	if h.get("ExchangeRate") != "" {
		rate := p.decimal(h, 0, "ExchangeRate")
		hdr.ExchangeRate = &rate
	}
	start, end := normalizeDate(h.get("BillingPeriodStart", "PeriodStart")), normalizeDate(h.get("BillingPeriodEnd", "PeriodEnd"))
	freq := h.get("BillingFrequency", "PeriodDescription")
	if start != "" || end != "" || freq != "" {
		hdr.Period = &model.BillingPeriod{StartDate: start, EndDate: end, Description: freq}
	}
	return hdr
}

func (p *parser) party(h record, prefix string) model.Party {
	key := func(name string) string { return prefix + name }
	var lines []string
	for _, k := range []string{"Address1", "Address2", "Address3", "Address"} {
		if v := h.get(key(k), key("AddressLine"+strings.TrimPrefix(k, "Address"))); v != "" {
			lines = append(lines, v)
		}
	}
	return model.Party{
		RegistrationName: h.get(key("Name"), key("RegistrationName")),
		Identification: model.PartyIdentification{
			TIN: h.get(key("TIN")),
			BRN: h.get(key("BRN"), key("RegistrationNo")),
			SST: h.get(key("SST"), key("SSTNo")),
			TTX: h.get(key("TTX"), key("TTXNo")),
		},
		IndustryCode: h.get(key("MSIC"), key("MSICCode")),
		IndustryName: h.get(key("BusinessActivity"), key("BusinessActivityDescription")),
		Address: model.Address{
			Lines:       lines,
			City:        h.get(key("City")),
			PostalZone:  h.get(key("Postcode"), key("PostalZone")),
			StateCode:   padCode(h.get(key("State"), key("StateCode"))),
			CountryCode: strings.ToUpper(h.get(key("Country"), key("CountryCode"))),
		},
		Contact: model.Contact{
			Telephone: h.get(key("Phone"), key("Telephone"), key("ContactNumber")),
			Email:     h.get(key("Email")),
		},
	}
}

func (p *parser) item(r record, row int) (model.LineItem, bool) {
	if r.get("Description", "ItemDescription") == "" && r.get("Quantity") == "" &&
		r.get("UnitPrice") == "" && r.get("ClassificationCode", "Classification") == "" {
		return model.LineItem{}, false
	}
	item := model.LineItem{
		ID:                 r.get("ItemID", "LineID", "LineNo"),
		ClassificationCode: padCode(r.get("ClassificationCode", "Classification")),
		Description:        r.get("Description", "ItemDescription"),
		Quantity:           p.decimal(r, row, "Quantity"),
		UnitCode:           r.get("UnitCode", "UOM", "Measurement"),
		UnitPrice:          p.decimal(r, row, "UnitPrice"),
		Subtotal:           p.decimal(r, row, "Subtotal", "LineAmount", "TotalExcludingTax"),
		DiscountAmount:     p.decimal(r, row, "DiscountAmount", "Discount"),
		TaxType:            normalizeTaxType(r.get("TaxType", "TaxCategory")),
		TaxRate:            p.decimal(r, row, "TaxRate", "TaxPercent"),
		TaxAmount:          p.decimal(r, row, "TaxAmount"),
		TaxableAmount:      p.decimal(r, row, "TaxableAmount"),
		ExemptionReason:    r.get("ExemptionReason", "TaxExemptionReason", "TaxExemptionDetails"),
		ExemptedAmount:     p.decimal(r, row, "ExemptedAmount", "AmountExempted"),
		OriginCountry:      strings.ToUpper(r.get("OriginCountry", "CountryOfOrigin")),
	}
	if item.ID == "" {
		item.ID = fmt.Sprintf("%d", row)
	}
	if item.Subtotal.IsZero() {
		item.Subtotal = item.Quantity.Mul(item.UnitPrice).Sub(item.DiscountAmount)
	}
	if item.TaxableAmount.IsZero() {
		item.TaxableAmount = item.Subtotal
	}
	return item, true
}

// summary reads the document totals, deriving any missing total from the items.
// Tax subtotals are always grouped from the items by tax type.
func (p *parser) summary(h record, items []model.LineItem) model.Summary {
	var lineTotal, taxTotal decimal.Decimal
	var subtotals []model.TaxSubtotal
	index := map[string]int{}
	for _, it := range items {
		lineTotal = lineTotal.Add(it.Subtotal)
		taxTotal = taxTotal.Add(it.TaxAmount)
		i, ok := index[it.TaxType]
		if !ok {
			index[it.TaxType] = len(subtotals)
			subtotals = append(subtotals, model.TaxSubtotal{
				TaxType:         it.TaxType,
				Percent:         it.TaxRate,
				ExemptionReason: it.ExemptionReason,
			})
			i = len(subtotals) - 1
		}
		subtotals[i].TaxableAmount = subtotals[i].TaxableAmount.Add(it.TaxableAmount)
		subtotals[i].TaxAmount = subtotals[i].TaxAmount.Add(it.TaxAmount)
	}

	s := model.Summary{
		LineExtensionAmount: p.decimal(h, 0, "LineExtensionAmount", "TotalExcludingTax"),
		TaxExclusiveAmount:  p.decimal(h, 0, "TaxExclusiveAmount", "TotalNetAmount"),
		TaxInclusiveAmount:  p.decimal(h, 0, "TaxInclusiveAmount", "TotalIncludingTax"),
		AllowanceTotal:      p.decimal(h, 0, "AllowanceTotal", "TotalDiscount"),
		ChargeTotal:         p.decimal(h, 0, "ChargeTotal", "TotalCharge"),
		PayableRounding:     p.decimal(h, 0, "PayableRounding", "RoundingAmount"),
		PayableAmount:       p.decimal(h, 0, "PayableAmount", "TotalPayableAmount"),
		TaxTotal:            p.decimal(h, 0, "TotalTaxAmount", "TaxTotal"),
		TaxSubtotals:        subtotals,
	}
	if s.LineExtensionAmount.IsZero() {
		s.LineExtensionAmount = lineTotal
	}
	if s.TaxExclusiveAmount.IsZero() {
		s.TaxExclusiveAmount = s.LineExtensionAmount.Sub(s.AllowanceTotal).Add(s.ChargeTotal)
	}
	if s.TaxTotal.IsZero() {
		s.TaxTotal = taxTotal
	}
	if s.TaxInclusiveAmount.IsZero() {
		s.TaxInclusiveAmount = s.TaxExclusiveAmount.Add(s.TaxTotal)
	}
	if s.PayableAmount.IsZero() {
		s.PayableAmount = s.TaxInclusiveAmount.Add(s.PayableRounding)
	}
	return s
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006/01/02", "02-01-2006", "02.01.2006", "20060102", "01-02-06"}

// normalizeDate returns the value as YYYY-MM-DD, or unchanged if no layout matches.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	return s
}

var timeLayouts = []string{"15:04:05Z", "15:04:05", "15:04", "150405", "3:04:05 PM", "3:04 PM"}

// normalizeTime returns the value as HH:MM:SSZ, or unchanged if no layout matches.
func normalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04:05") + "Z"
		}
	}
	return s
}

// padCode restores the leading zero Excel drops from numeric codes such as "1" for "01".
func padCode(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		return "0" + s
	}
	return s
}

func normalizeTaxType(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "e", "exempt", "exempted", "tax exemption":
		return model.TaxTypeExempt
	case "not applicable", "n/a", "na":
		return model.TaxTypeNotApplicable
	}
	return padCode(s)
}
