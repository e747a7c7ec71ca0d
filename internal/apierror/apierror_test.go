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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "NotFound Error",
			err:      apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Conflict Error",
			err:      apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "InvalidInput Error",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "InternalServerError",
			err:      apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil),
			expected: http.StatusInternalServerError,
		},
		{
			name:     "Duplicate Submission",
			err:      apierror.NewAPIError(apierror.ErrDuplicateSubmission, "already submitted", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "Validation Error",
			err:      apierror.NewAPIError(apierror.ErrValidation, "validation failed", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Wrapped Rate Limit",
			err:      fmt.Errorf("submit: %w", apierror.NewAPIError(apierror.ErrRateLimit, "slow down", nil)),
			expected: http.StatusTooManyRequests,
		},
		{
			name:     "Cancellation Window",
			err:      apierror.NewAPIError(apierror.ErrCancellationWindow, "too late", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Unknown Error",
			err:      errors.New("Unknown error"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}

func TestCodeOfAndRetryable(t *testing.T) {
	wrapped := fmt.Errorf("poll: %w", apierror.NewAPIError(apierror.ErrSystem, "bad gateway", nil))
	assert.Equal(t, apierror.ErrSystem, apierror.CodeOf(wrapped))
	assert.True(t, apierror.Is(wrapped, apierror.ErrSystem))
	assert.True(t, apierror.Retryable(wrapped))

	rejection := apierror.NewAPIError(apierror.ErrRejection, "rejected", nil)
	assert.False(t, apierror.Retryable(rejection))
	assert.False(t, apierror.Is(nil, apierror.ErrRejection))
	assert.Equal(t, apierror.ErrorCode(""), apierror.CodeOf(errors.New("plain")))
}

func TestAs(t *testing.T) {
	apiErr := apierror.As(errors.New("boom"))
	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "boom", apiErr.Message)

	details := map[string]string{"code": "DS302"}
	apiErr = apierror.As(fmt.Errorf("x: %w", apierror.NewAPIError(apierror.ErrDuplicateSubmission, "dup", details)))
	assert.Equal(t, apierror.ErrDuplicateSubmission, apiErr.Code)
	assert.Equal(t, details, apiErr.Details)
}
