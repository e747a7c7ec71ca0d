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
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/blnkfinance/einvoice/internal/apierror"
)

var itemElements = map[string]bool{"item": true, "lineitem": true, "invoiceline": true}

// xmlRecords flattens an export document. Leaf elements outside an item element go
// to the header record, prefixed by their enclosing Supplier or Buyer element when
// there is one. Each Item, LineItem or InvoiceLine element becomes one item record.
func xmlRecords(r io.Reader) (record, []record, error) {
	dec := xml.NewDecoder(r)
	header := record{}
	var items []record
	var current record
	var stack []string
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "malformed XML document", err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := normalize(t.Name.Local)
			stack = append(stack, name)
			text.Reset()
			if itemElements[name] {
				current = record{}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			value := strings.TrimSpace(text.String())
			text.Reset()

			if itemElements[name] && current != nil {
				items = append(items, current)
				current = nil
				continue
			}
			if value == "" {
				continue
			}
			if current != nil {
				current[name] = value
				continue
			}
			key := name
			for _, parent := range stack {
				if parent == "supplier" || parent == "buyer" {
					key = parent + name
				}
			}
			if _, exists := header[key]; !exists {
				header[key] = value
			}
		}
	}
	if len(header) == 0 && len(items) == 0 {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidFileFormat, "empty XML document", nil)
	}
	return header, items, nil
}
