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

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	ErrInvalidFileType          ErrorCode = "INVALID_FILE_TYPE"
	ErrInvalidFileFormat        ErrorCode = "INVALID_FILE_FORMAT"
	ErrValidation               ErrorCode = "VALIDATION_ERROR"
	ErrMapping                  ErrorCode = "MAPPING_ERROR"
	ErrPreparation              ErrorCode = "PREPARATION_ERROR"
	ErrDuplicateSubmission      ErrorCode = "DUPLICATE_SUBMISSION"
	ErrAuth                     ErrorCode = "AUTH_ERROR"
	ErrRateLimit                ErrorCode = "RATE_LIMIT"
	ErrSystem                   ErrorCode = "SYSTEM_ERROR"
	ErrRejection                ErrorCode = "REJECTION"
	ErrCancellationWindow       ErrorCode = "CANCELLATION_WINDOW_EXPIRED"
	ErrFileNotFound             ErrorCode = "FILE_NOT_FOUND"
	ErrDirectoryAccess          ErrorCode = "DIRECTORY_ACCESS_ERROR"
	ErrArtifactMaterialization  ErrorCode = "EXCEL_UPDATE_ERROR"
	ErrSubmissionInfrastructure ErrorCode = "SUBMISSION_INFRASTRUCTURE_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Debug(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the code of the first APIError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return ""
}

// Is reports whether err carries an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether the operation may succeed if tried again later.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrRateLimit, ErrSystem, ErrDirectoryAccess, ErrSubmissionInfrastructure:
		return true
	}
	return false
}

// As extracts the APIError from err's chain. Errors without one become INTERNAL_SERVER_ERROR.
func As(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var apiErrPtr *APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr
	}
	return APIError{Code: ErrInternalServer, Message: err.Error()}
}

func MapErrorToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound, ErrFileNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrDuplicateSubmission:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest, ErrInvalidFileType, ErrInvalidFileFormat,
		ErrValidation, ErrMapping, ErrCancellationWindow:
		return http.StatusBadRequest
	case ErrAuth:
		return http.StatusUnauthorized
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrRejection:
		return http.StatusUnprocessableEntity
	case ErrSystem, ErrDirectoryAccess:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
