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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	dateLayout       = "2006-01-02"
	versionBaseline  = "1.0"
	versionSigned    = "1.1"
	maxBulkDocuments = 100
)

// Location pins a file inside the incoming tree. It is either fully set or empty.
type Location struct {
	Type    string `json:"type" form:"type"`
	Company string `json:"company" form:"company"`
	Date    string `json:"date" form:"date"`
}

type SubmitDocument struct {
	Location
	Version string `json:"version"`
}

type CancelDocument struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

type BulkDocument struct {
	ID string `json:"id"`
	Location
}

type BulkSubmit struct {
	Documents []BulkDocument `json:"documents"`
	Version   string         `json:"version"`
}

func allOrNone(l *Location) validation.RuleFunc {
	return func(value interface{}) error {
		set := 0
		for _, v := range []string{l.Type, l.Company, l.Date} {
			if v != "" {
				set++
			}
		}
		if set != 0 && set != 3 {
			return errors.New("type, company and date must be given together")
		}
		return nil
	}
}

func validateDate(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return errors.New("must be a date formatted as YYYY-MM-DD")
	}
	return nil
}

func (l *Location) ValidateLocation() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Type, validation.By(allOrNone(l))),
		validation.Field(&l.Date, validation.By(validateDate)),
	)
}

// ValidateFullLocation requires every part, as delete does.
func (l *Location) ValidateFullLocation() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Type, validation.Required),
		validation.Field(&l.Company, validation.Required),
		validation.Field(&l.Date, validation.Required, validation.By(validateDate)),
	)
}

func (s *SubmitDocument) ValidateSubmitDocument() error {
	if err := s.ValidateLocation(); err != nil {
		return err
	}
	return validation.ValidateStruct(s,
		validation.Field(&s.Version, validation.In(versionBaseline, versionSigned)),
	)
}

func (c *CancelDocument) ValidateCancelDocument() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Reason, validation.Required, validation.Length(1, 300)),
	)
}

func (b *BulkSubmit) ValidateBulkSubmit() error {
	err := validation.ValidateStruct(b,
		validation.Field(&b.Documents, validation.Required, validation.Length(1, maxBulkDocuments)),
		validation.Field(&b.Version, validation.In(versionBaseline, versionSigned)),
	)
	if err != nil {
		return err
	}
	for i := range b.Documents {
		d := &b.Documents[i]
		if d.ID == "" {
			return errors.New("documents: every document needs an id")
		}
		if err := d.ValidateLocation(); err != nil {
			return err
		}
	}
	return nil
}
