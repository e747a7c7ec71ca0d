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

// Package mapper converts a StructuredDocument into the authority's UBL JSON form.
// Every leaf is an array of one object holding the value under "_" plus optional
// attributes. Amounts stay numeric; everything else is a string. Absent optional
// values are nil and removed by Clean before serialization.
package mapper

import (
	"fmt"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
	"github.com/shopspring/decimal"
)

// Document is the mapped UBL tree.
type Document = map[string]interface{}

// Keys stripped from baseline (unsigned) documents.
var SignatureKeys = []string{"UBLExtensions", "Signature"}

const (
	namespaceInvoice   = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	namespaceAggregate = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	namespaceBasic     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	RootElement        = "Invoice"
)

// Map builds the UBL tree for doc at the given envelope version ("1.0" or "1.1").
func Map(doc *model.StructuredDocument, version string) (Document, error) {
	if doc == nil {
		return nil, apierror.NewAPIError(apierror.ErrMapping, "no document to map", nil)
	}
	if _, ok := model.ParseDocumentType(string(doc.Header.TypeCode)); !ok {
		return nil, apierror.NewAPIError(apierror.ErrMapping, fmt.Sprintf("unknown document type %q", doc.Header.TypeCode), nil)
	}
	if version == "" {
		version = "1.0"
	}
	cur := doc.Header.CurrencyCode

	invoice := map[string]interface{}{
		"ID":                      Text(doc.Header.InvoiceNumber),
		"IssueDate":               Text(doc.Header.IssueDate),
		"IssueTime":               Text(doc.Header.IssueTime),
		"InvoiceTypeCode":         Value(string(doc.Header.TypeCode), "listVersionID", version),
		"DocumentCurrencyCode":    Text(cur),
		"TaxCurrencyCode":         Optional(doc.Header.TaxCurrencyCode),
		"InvoicePeriod":           Period(doc.Header.Period),
		"BillingReference":        BillingReference(doc.Header.BillingReference),
		"AccountingSupplierParty": []interface{}{map[string]interface{}{"Party": Party(&doc.Supplier, true)}},
		"AccountingCustomerParty": []interface{}{map[string]interface{}{"Party": Party(&doc.Buyer, false)}},
		"PaymentMeans":            PaymentMeans(doc.Header.PaymentMode),
		"PaymentTerms":            PaymentTerms(doc.Header.PaymentTerms),
		"TaxExchangeRate":         ExchangeRate(doc.Header),
		"TaxTotal":                TaxTotal(doc.Summary.TaxTotal, doc.Summary.TaxSubtotals, cur),
		"LegalMonetaryTotal":      MonetaryTotal(&doc.Summary, cur),
		"InvoiceLine":             Lines(doc.Items, cur),
	}
	if doc.Header.TaxCurrencyCode == "" {
		invoice["TaxCurrencyCode"] = Text(cur)
	}

	out := Document{
		"_D":        namespaceInvoice,
		"_A":        namespaceAggregate,
		"_B":        namespaceBasic,
		RootElement: []interface{}{invoice},
	}
	return Clean(out).(Document), nil
}

// Text wraps a required string leaf.
func Text(s string) []interface{} {
	return []interface{}{map[string]interface{}{"_": s}}
}

// Optional wraps s, or returns nil when s is empty.
func Optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return Text(s)
}

// Value wraps v with alternating attribute name/value pairs.
func Value(v interface{}, attrs ...string) []interface{} {
	leaf := map[string]interface{}{"_": v}
	for i := 0; i+1 < len(attrs); i += 2 {
		leaf[attrs[i]] = attrs[i+1]
	}
	return []interface{}{leaf}
}

// Amount wraps a monetary value as a number with its currency.
func Amount(d decimal.Decimal, currency string) []interface{} {
	return []interface{}{map[string]interface{}{"_": d.InexactFloat64(), "currencyID": currency}}
}

// Number wraps a unitless numeric value.
func Number(d decimal.Decimal) []interface{} {
	return []interface{}{map[string]interface{}{"_": d.InexactFloat64()}}
}

func Period(p *model.BillingPeriod) interface{} {
	if p == nil {
		return nil
	}
	return []interface{}{map[string]interface{}{
		"StartDate":   Optional(p.StartDate),
		"EndDate":     Optional(p.EndDate),
		"Description": Optional(p.Description),
	}}
}

func BillingReference(ref string) interface{} {
	if ref == "" {
		return nil
	}
	return []interface{}{map[string]interface{}{
		"InvoiceDocumentReference": []interface{}{map[string]interface{}{"ID": Text(ref)}},
	}}
}

func PaymentMeans(code string) interface{} {
	if code == "" {
		return nil
	}
	return []interface{}{map[string]interface{}{"PaymentMeansCode": Text(code)}}
}

func PaymentTerms(note string) interface{} {
	if note == "" {
		return nil
	}
	return []interface{}{map[string]interface{}{"Note": Text(note)}}
}

func ExchangeRate(h model.Header) interface{} {
	if h.ExchangeRate == nil || h.TaxCurrencyCode == "" || h.TaxCurrencyCode == h.CurrencyCode {
		return nil
	}
	return []interface{}{map[string]interface{}{
		"SourceCurrencyCode": Text(h.CurrencyCode),
		"TargetCurrencyCode": Text(h.TaxCurrencyCode),
		"CalculationRate":    Number(*h.ExchangeRate),
	}}
}

// PartyIdentification always emits TIN, BRN, SST and TTX in that order.
func PartyIdentification(id model.PartyIdentification) []interface{} {
	out := make([]interface{}, 0, len(model.PartyIDSchemes))
	for _, scheme := range model.PartyIDSchemes {
		out = append(out, map[string]interface{}{"ID": Value(id.ByScheme(scheme), "schemeID", scheme)})
	}
	return out
}

func Address(a model.Address) []interface{} {
	var lines []interface{}
	for _, l := range a.Lines {
		lines = append(lines, map[string]interface{}{"Line": Text(l)})
	}
	var addressLines interface{}
	if len(lines) > 0 {
		addressLines = lines
	}
	return []interface{}{map[string]interface{}{
		"CityName":             Text(a.City),
		"PostalZone":           Optional(a.PostalZone),
		"CountrySubentityCode": Text(a.StateCode),
		"AddressLine":          addressLines,
		"Country": []interface{}{map[string]interface{}{
			"IdentificationCode": Value(a.CountryCode, "listID", "ISO3166-1", "listAgencyID", "6"),
		}},
	}}
}

// Party maps a supplier (with industry classification) or buyer block.
func Party(p *model.Party, supplier bool) []interface{} {
	party := map[string]interface{}{
		"PartyIdentification": PartyIdentification(p.Identification),
		"PostalAddress":       Address(p.Address),
		"PartyLegalEntity":    []interface{}{map[string]interface{}{"RegistrationName": Text(p.RegistrationName)}},
		"Contact": []interface{}{map[string]interface{}{
			"Telephone":      Optional(p.Contact.Telephone),
			"ElectronicMail": Optional(p.Contact.Email),
		}},
	}
	if supplier {
		party["IndustryClassificationCode"] = Value(p.IndustryCode, "name", p.IndustryName)
	}
	return []interface{}{party}
}

func TaxCategory(taxType, exemptionReason string) []interface{} {
	return []interface{}{map[string]interface{}{
		"ID":                 Text(taxType),
		"TaxExemptionReason": Optional(exemptionReason),
		"TaxScheme": []interface{}{map[string]interface{}{
			"ID": Value("OTH", "schemeID", "UN/ECE 5153", "schemeAgencyID", "6"),
		}},
	}}
}

func TaxTotal(total decimal.Decimal, subtotals []model.TaxSubtotal, currency string) []interface{} {
	subs := make([]interface{}, 0, len(subtotals))
	for _, st := range subtotals {
		subs = append(subs, map[string]interface{}{
			"TaxableAmount": Amount(st.TaxableAmount, currency),
			"TaxAmount":     Amount(st.TaxAmount, currency),
			"Percent":       Number(st.Percent),
			"TaxCategory":   TaxCategory(st.TaxType, st.ExemptionReason),
		})
	}
	return []interface{}{map[string]interface{}{
		"TaxAmount":   Amount(total, currency),
		"TaxSubtotal": subs,
	}}
}

func MonetaryTotal(s *model.Summary, currency string) []interface{} {
	return []interface{}{map[string]interface{}{
		"LineExtensionAmount":   Amount(s.LineExtensionAmount, currency),
		"TaxExclusiveAmount":    Amount(s.TaxExclusiveAmount, currency),
		"TaxInclusiveAmount":    Amount(s.TaxInclusiveAmount, currency),
		"AllowanceTotalAmount":  optionalAmount(s.AllowanceTotal, currency),
		"ChargeTotalAmount":     optionalAmount(s.ChargeTotal, currency),
		"PayableRoundingAmount": optionalAmount(s.PayableRounding, currency),
		"PayableAmount":         Amount(s.PayableAmount, currency),
	}}
}

func optionalAmount(d decimal.Decimal, currency string) interface{} {
	if d.IsZero() {
		return nil
	}
	return Amount(d, currency)
}

// Line maps one invoice line.
func Line(it model.LineItem, currency string) map[string]interface{} {
	var origin interface{}
	if it.OriginCountry != "" {
		origin = []interface{}{map[string]interface{}{"IdentificationCode": Text(it.OriginCountry)}}
	}
	var allowance interface{}
	if !it.DiscountAmount.IsZero() {
		allowance = []interface{}{map[string]interface{}{
			"ChargeIndicator": Value("false"),
			"Amount":          Amount(it.DiscountAmount, currency),
		}}
	}
	return map[string]interface{}{
		"ID":                  Text(it.ID),
		"InvoicedQuantity":    Value(it.Quantity.InexactFloat64(), "unitCode", it.UnitCode),
		"LineExtensionAmount": Amount(it.Subtotal, currency),
		"AllowanceCharge":     allowance,
		"TaxTotal": []interface{}{map[string]interface{}{
			"TaxAmount": Amount(it.TaxAmount, currency),
			"TaxSubtotal": []interface{}{map[string]interface{}{
				"TaxableAmount": Amount(it.TaxableAmount, currency),
				"TaxAmount":     Amount(it.TaxAmount, currency),
				"Percent":       Number(it.TaxRate),
				"TaxCategory":   TaxCategory(it.TaxType, it.ExemptionReason),
			}},
		}},
		"Item": []interface{}{map[string]interface{}{
			"CommodityClassification": []interface{}{map[string]interface{}{
				"ItemClassificationCode": Value(it.ClassificationCode, "listID", "CLASS"),
			}},
			"Description":   Text(it.Description),
			"OriginCountry": origin,
		}},
		"Price":              []interface{}{map[string]interface{}{"PriceAmount": Amount(it.UnitPrice, currency)}},
		"ItemPriceExtension": []interface{}{map[string]interface{}{"Amount": Amount(it.Subtotal, currency)}},
	}
}

func Lines(items []model.LineItem, currency string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, Line(it, currency))
	}
	return out
}

// Clean removes nil values from maps and slices recursively. Maps and slices left
// empty by the removal are kept.
func Clean(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isNil(val) {
				continue
			}
			out[k] = Clean(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, val := range t {
			if isNil(val) {
				continue
			}
			out = append(out, Clean(val))
		}
		return out
	default:
		return v
	}
}

func isNil(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return t == nil
	case map[string]interface{}:
		return t == nil
	}
	return false
}

// StripSignature removes the signature blocks from the root element of a mapped document.
func StripSignature(doc Document) {
	roots, ok := doc[RootElement].([]interface{})
	if !ok {
		return
	}
	for _, r := range roots {
		if m, ok := r.(map[string]interface{}); ok {
			for _, k := range SignatureKeys {
				delete(m, k)
			}
		}
	}
}
