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
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DocumentType is the two digit e-invoice type code used in file names and in the
// InvoiceTypeCode element of the submitted document.
type DocumentType string

const (
	DocTypeInvoice              DocumentType = "01"
	DocTypeCreditNote           DocumentType = "02"
	DocTypeDebitNote            DocumentType = "03"
	DocTypeRefundNote           DocumentType = "04"
	DocTypeSelfBilledInvoice    DocumentType = "11"
	DocTypeSelfBilledCreditNote DocumentType = "12"
	DocTypeSelfBilledDebitNote  DocumentType = "13"
	DocTypeSelfBilledRefundNote DocumentType = "14"
)

var documentTypeNames = map[DocumentType]string{
	DocTypeInvoice:              "Invoice",
	DocTypeCreditNote:           "Credit Note",
	DocTypeDebitNote:            "Debit Note",
	DocTypeRefundNote:           "Refund Note",
	DocTypeSelfBilledInvoice:    "Self-billed Invoice",
	DocTypeSelfBilledCreditNote: "Self-billed Credit Note",
	DocTypeSelfBilledDebitNote:  "Self-billed Debit Note",
	DocTypeSelfBilledRefundNote: "Self-billed Refund Note",
}

// ParseDocumentType returns the type for a two digit code, or false for unknown codes.
func ParseDocumentType(code string) (DocumentType, bool) {
	t := DocumentType(code)
	_, ok := documentTypeNames[t]
	return t, ok
}

func (t DocumentType) String() string {
	if name, ok := documentTypeNames[t]; ok {
		return name
	}
	return string(t)
}

// RequiresBillingReference reports whether the type amends an earlier invoice.
func (t DocumentType) RequiresBillingReference() bool {
	switch t {
	case DocTypeCreditNote, DocTypeDebitNote, DocTypeRefundNote,
		DocTypeSelfBilledCreditNote, DocTypeSelfBilledDebitNote, DocTypeSelfBilledRefundNote:
		return true
	}
	return false
}

// Tax type codes.
const (
	TaxTypeSales         = "01"
	TaxTypeService       = "02"
	TaxTypeTourism       = "03"
	TaxTypeHighValue     = "04"
	TaxTypeLowValueGoods = "05"
	TaxTypeNotApplicable = "06"
	TaxTypeExempt        = "E"
)

// Party identification scheme ids. Mapping always emits them in this order.
var PartyIDSchemes = []string{"TIN", "BRN", "SST", "TTX"}

type PartyIdentification struct {
	TIN string `json:"tin"`
	BRN string `json:"brn"`
	SST string `json:"sst"`
	TTX string `json:"ttx"`
}

// ByScheme returns the identifier for one of PartyIDSchemes.
func (p PartyIdentification) ByScheme(scheme string) string {
	switch scheme {
	case "TIN":
		return p.TIN
	case "BRN":
		return p.BRN
	case "SST":
		return p.SST
	case "TTX":
		return p.TTX
	}
	return ""
}

type Address struct {
	Lines       []string `json:"lines"`
	City        string   `json:"city"`
	PostalZone  string   `json:"postal_zone"`
	StateCode   string   `json:"state_code"`
	CountryCode string   `json:"country_code"`
}

type Contact struct {
	Telephone string `json:"telephone"`
	Email     string `json:"email"`
}

type Party struct {
	RegistrationName string              `json:"registration_name"`
	Identification   PartyIdentification `json:"identification"`
	IndustryCode     string              `json:"industry_code,omitempty"`
	IndustryName     string              `json:"industry_name,omitempty"`
	Address          Address             `json:"address"`
	Contact          Contact             `json:"contact"`
}

type BillingPeriod struct {
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

type Header struct {
	InvoiceNumber    string           `json:"invoice_number"`
	TypeCode         DocumentType     `json:"type_code"`
	TypeVersion      string           `json:"type_version"`
	IssueDate        string           `json:"issue_date"`
	IssueTime        string           `json:"issue_time"`
	CurrencyCode     string           `json:"currency_code"`
	TaxCurrencyCode  string           `json:"tax_currency_code,omitempty"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`
	Period           *BillingPeriod   `json:"period,omitempty"`
	BillingReference string           `json:"billing_reference,omitempty"`
	PaymentMode      string           `json:"payment_mode,omitempty"`
	PaymentTerms     string           `json:"payment_terms,omitempty"`
}

type LineItem struct {
	ID                 string          `json:"id"`
	ClassificationCode string          `json:"classification_code"`
	Description        string          `json:"description"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitCode           string          `json:"unit_code"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TaxType            string          `json:"tax_type"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TaxableAmount      decimal.Decimal `json:"taxable_amount"`
	ExemptionReason    string          `json:"exemption_reason,omitempty"`
	ExemptedAmount     decimal.Decimal `json:"exempted_amount"`
	OriginCountry      string          `json:"origin_country,omitempty"`
}

type TaxSubtotal struct {
	TaxType         string          `json:"tax_type"`
	TaxableAmount   decimal.Decimal `json:"taxable_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Percent         decimal.Decimal `json:"percent"`
	ExemptionReason string          `json:"exemption_reason,omitempty"`
}

type Summary struct {
	LineExtensionAmount decimal.Decimal `json:"line_extension_amount"`
	TaxExclusiveAmount  decimal.Decimal `json:"tax_exclusive_amount"`
	TaxInclusiveAmount  decimal.Decimal `json:"tax_inclusive_amount"`
	AllowanceTotal      decimal.Decimal `json:"allowance_total"`
	ChargeTotal         decimal.Decimal `json:"charge_total"`
	PayableRounding     decimal.Decimal `json:"payable_rounding"`
	PayableAmount       decimal.Decimal `json:"payable_amount"`
	TaxTotal            decimal.Decimal `json:"tax_total"`
	TaxSubtotals        []TaxSubtotal   `json:"tax_subtotals"`
}

// StructuredDocument is the format independent form of an invoice like document.
// Tabular and XML sources both extract into it.
type StructuredDocument struct {
	Header   Header     `json:"header"`
	Supplier Party      `json:"supplier"`
	Buyer    Party      `json:"buyer"`
	Items    []LineItem `json:"items"`
	Summary  Summary    `json:"summary"`
}

func (d *StructuredDocument) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
