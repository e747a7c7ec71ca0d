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

package lhdn

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/model"
)

type knownError struct {
	code    apierror.ErrorCode
	message string
}

// Authority error codes with a dedicated operator message.
var knownErrors = map[string]knownError{
	"DS302":               {apierror.ErrDuplicateSubmission, "document was already submitted to LHDN"},
	"CF321":               {apierror.ErrRejection, "issue date is outside the accepted submission window"},
	"CF364":               {apierror.ErrRejection, "invalid item classification code"},
	"CF401":               {apierror.ErrRejection, "tax amounts do not add up"},
	"CF402":               {apierror.ErrRejection, "invalid or unsupported currency code"},
	"CF403":               {apierror.ErrRejection, "invalid TIN"},
	"CF404":               {apierror.ErrRejection, "invalid party identification"},
	"CF405":               {apierror.ErrRejection, "party identification does not match the TIN"},
	"OperationPeriodOver": {apierror.ErrCancellationWindow, "the cancellation period for this document is over"},
	"IncorrectState":      {apierror.ErrRejection, "document is not in a state that allows this operation"},
	"AUTH001":             {apierror.ErrAuth, "LHDN access token is invalid or expired"},
	"AUTH003":             {apierror.ErrAuth, "LHDN access token is not authorized for this taxpayer"},
}

// parseAuthorityError reads both the wrapped {"error": {...}} and the bare error body.
func parseAuthorityError(body []byte) model.AuthorityError {
	var wrapped struct {
		Error json.RawMessage `json:"error"`
	}
	var ae model.AuthorityError
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Error) > 0 {
		if err := json.Unmarshal(wrapped.Error, &ae); err == nil {
			return ae
		}
		var msg string
		if err := json.Unmarshal(wrapped.Error, &msg); err == nil {
			return model.AuthorityError{Message: msg}
		}
	}
	if err := json.Unmarshal(body, &ae); err == nil && (ae.Code != "" || ae.Message != "") {
		return ae
	}
	return model.AuthorityError{Message: strings.TrimSpace(string(body))}
}

func mapClientError(status int, body []byte) error {
	ae := parseAuthorityError(body)
	if known, ok := knownErrors[ae.Code]; ok {
		return apierror.NewAPIError(known.code, known.message, ae)
	}
	for _, d := range ae.Details {
		if known, ok := knownErrors[d.Code]; ok {
			return apierror.NewAPIError(known.code, known.message, ae)
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierror.NewAPIError(apierror.ErrAuth, "LHDN rejected the access token", ae)
	case http.StatusNotFound:
		return apierror.NewAPIError(apierror.ErrNotFound, "LHDN could not find the requested resource", ae)
	}
	msg := ae.Message
	if msg == "" {
		msg = fmt.Sprintf("LHDN rejected the request (HTTP %d)", status)
	}
	return apierror.NewAPIError(apierror.ErrRejection, msg, ae)
}

// IsAlreadyCancelled reports whether err is the authority's answer to cancelling a
// document that is already cancelled.
func IsAlreadyCancelled(err error) bool {
	if err == nil {
		return false
	}
	apiErr := apierror.As(err)
	ae, ok := apiErr.Details.(model.AuthorityError)
	if !ok {
		return false
	}
	if strings.Contains(strings.ToLower(ae.Message), "already cancelled") ||
		strings.Contains(strings.ToLower(ae.Message), "already canceled") {
		return true
	}
	for _, d := range ae.Details {
		if strings.Contains(strings.ToLower(d.Message), "already cancelled") {
			return true
		}
	}
	return false
}
