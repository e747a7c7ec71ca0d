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

package pg_listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	tables []string
	data   []map[string]interface{}
	err    error
}

func (h *recordingHandler) HandleNotification(_ context.Context, table string, data map[string]interface{}) error {
	h.tables = append(h.tables, table)
	h.data = append(h.data, data)
	return h.err
}

func TestHandleNotification(t *testing.T) {
	h := &recordingHandler{}
	d := NewDBListener(ListenerConfig{}, h)

	d.handleNotification(context.Background(), `{"table":"submission_statuses","data":{"document_number":"INV-1","status":"Submitted"}}`)

	require.Len(t, h.tables, 1)
	assert.Equal(t, "submission_statuses", h.tables[0])
	assert.Equal(t, "INV-1", h.data[0]["document_number"])
}

func TestHandleNotificationIgnoresGarbage(t *testing.T) {
	h := &recordingHandler{}
	d := NewDBListener(ListenerConfig{}, h)

	d.handleNotification(context.Background(), "not json")
	assert.Empty(t, h.tables)
}

func TestHandleNotificationEmptyData(t *testing.T) {
	h := &recordingHandler{err: errors.New("boom")}
	d := NewDBListener(ListenerConfig{}, h)

	d.handleNotification(context.Background(), `{"table":"inbound_statuses"}`)
	require.Len(t, h.data, 1)
	assert.NotNil(t, h.data[0])
}

func TestListenerDefaults(t *testing.T) {
	d := NewDBListener(ListenerConfig{PgConnStr: "postgres://localhost/x"}, &recordingHandler{})
	assert.Positive(t, d.config.MinReconnect)
	assert.Greater(t, d.config.MaxReconnect, d.config.MinReconnect)
	assert.Positive(t, d.config.PingInterval)
}
