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

// Package validator applies the business rules a document must pass before it is
// mapped. Findings are collected per section rather than stopping at the first one.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type Validator struct {
	maxIssueAge time.Duration
	now         func() time.Time
}

func New(maxIssueAgeDays int, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{maxIssueAge: time.Duration(maxIssueAgeDays) * 24 * time.Hour, now: now}
}

// Check returns a VALIDATION_ERROR carrying every group when doc fails any rule.
func (v *Validator) Check(doc *model.StructuredDocument) error {
	groups := v.Validate(doc)
	if len(groups) == 0 {
		return nil
	}
	count := 0
	for _, g := range groups {
		count += len(g.Findings)
	}
	return apierror.NewAPIError(apierror.ErrValidation,
		fmt.Sprintf("document failed %d validation rule(s)", count), groups)
}

// Validate returns the non-empty groups in Header, Items, Summary order.
func (v *Validator) Validate(doc *model.StructuredDocument) []model.ValidationGroup {
	var groups []model.ValidationGroup
	add := func(section string, findings []model.ValidationFinding) {
		if len(findings) > 0 {
			groups = append(groups, model.ValidationGroup{Section: section, Findings: findings})
		}
	}
	add(model.SectionHeader, v.header(doc))
	add(model.SectionItems, items(doc.Items))
	add(model.SectionSummary, summary(&doc.Summary))
	return groups
}

var documentTypes = []interface{}{
	model.DocTypeInvoice, model.DocTypeCreditNote, model.DocTypeDebitNote, model.DocTypeRefundNote,
	model.DocTypeSelfBilledInvoice, model.DocTypeSelfBilledCreditNote, model.DocTypeSelfBilledDebitNote,
	model.DocTypeSelfBilledRefundNote,
}

func (v *Validator) header(doc *model.StructuredDocument) []model.ValidationFinding {
	h := &doc.Header
	var findings []model.ValidationFinding

	err := validation.ValidateStruct(h,
		validation.Field(&h.InvoiceNumber, validation.Required),
		validation.Field(&h.TypeCode, validation.Required, validation.In(documentTypes...)),
		validation.Field(&h.IssueDate, validation.Required, validation.Date(dateLayout), validation.By(v.issueDateRule)),
		validation.Field(&h.IssueTime, validation.Required),
		validation.Field(&h.CurrencyCode, validation.Required, validation.Length(3, 3)),
		validation.Field(&h.BillingReference, validation.When(h.TypeCode.RequiresBillingReference(),
			validation.Required.Error("is required for credit, debit and refund notes"))),
	)
	findings = append(findings, toFindings("", err)...)
	findings = append(findings, party("supplier.", &doc.Supplier)...)
	findings = append(findings, party("buyer.", &doc.Buyer)...)
	return findings
}

func (v *Validator) issueDateRule(value interface{}) error {
	s, _ := value.(string)
	issued, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	now := v.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if issued.After(today) {
		return errors.New("cannot be in the future")
	}
	if today.Sub(issued) > v.maxIssueAge {
		return fmt.Errorf("must not be older than %d days", int(v.maxIssueAge.Hours()/24))
	}
	return nil
}

func party(prefix string, p *model.Party) []model.ValidationFinding {
	err := validation.ValidateStruct(p,
		validation.Field(&p.RegistrationName, validation.Required),
	)
	findings := toFindings(prefix, err)
	id := &p.Identification
	err = validation.ValidateStruct(id,
		validation.Field(&id.TIN, validation.Required),
	)
	return append(findings, toFindings(prefix+"identification.", err)...)
}

func items(lines []model.LineItem) []model.ValidationFinding {
	if len(lines) == 0 {
		return []model.ValidationFinding{{Field: "items", Message: "at least one line item is required"}}
	}
	var findings []model.ValidationFinding
	for i, it := range lines {
		row := i + 1
		add := func(field, msg string) {
			findings = append(findings, model.ValidationFinding{Field: field, Message: msg, Row: row})
		}
		if it.Description == "" {
			add("description", "cannot be blank")
		}
		if it.ClassificationCode == "" {
			add("classification_code", "cannot be blank")
		}
		if !it.Quantity.IsPositive() {
			add("quantity", "must be greater than zero")
		}
		if !it.UnitPrice.IsPositive() {
			add("unit_price", "must be greater than zero")
		}
		if it.TaxAmount.IsNegative() {
			add("tax_amount", "cannot be negative")
		}
		switch it.TaxType {
		case "":
			add("tax_type", "cannot be blank")
		case model.TaxTypeNotApplicable:
			if !it.TaxAmount.IsZero() {
				add("tax_amount", "must be zero when tax type is 06 (Not Applicable)")
			}
			if !it.TaxRate.IsZero() {
				add("tax_rate", "must be zero when tax type is 06 (Not Applicable)")
			}
		case model.TaxTypeExempt:
			if !it.TaxAmount.IsZero() {
				add("tax_amount", "must be zero when tax type is E (Exempt)")
			}
			if !it.TaxRate.IsZero() {
				add("tax_rate", "must be zero when tax type is E (Exempt)")
			}
			if it.ExemptionReason == "" {
				add("exemption_reason", "is required when tax type is E (Exempt)")
			}
		case model.TaxTypeSales, model.TaxTypeService, model.TaxTypeTourism,
			model.TaxTypeHighValue, model.TaxTypeLowValueGoods:
		default:
			add("tax_type", fmt.Sprintf("unknown tax type %q", it.TaxType))
		}
	}
	return findings
}

func summary(s *model.Summary) []model.ValidationFinding {
	var findings []model.ValidationFinding
	add := func(field, msg string) {
		findings = append(findings, model.ValidationFinding{Field: field, Message: msg})
	}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"line_extension_amount", s.LineExtensionAmount},
		{"tax_exclusive_amount", s.TaxExclusiveAmount},
		{"tax_inclusive_amount", s.TaxInclusiveAmount},
		{"payable_amount", s.PayableAmount},
		{"tax_total", s.TaxTotal},
	} {
		if f.value.IsNegative() {
			add(f.name, "cannot be negative")
		}
	}
	if len(s.TaxSubtotals) == 0 {
		add("tax_subtotals", "at least one tax subtotal is required")
	}
	for i, st := range s.TaxSubtotals {
		if st.TaxType == "" {
			findings = append(findings, model.ValidationFinding{
				Field: "tax_subtotals.tax_type", Message: "cannot be blank", Row: i + 1,
			})
		}
	}
	return findings
}

func toFindings(prefix string, err error) []model.ValidationFinding {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return []model.ValidationFinding{{Field: prefix, Message: err.Error()}}
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	findings := make([]model.ValidationFinding, 0, len(keys))
	for _, k := range keys {
		findings = append(findings, model.ValidationFinding{Field: prefix + k, Message: errs[k].Error()})
	}
	return findings
}
