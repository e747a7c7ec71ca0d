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

package traces

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupOTelSDKInstallsProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")
	ctx := context.Background()

	shutdown, err := SetupOTelSDK(ctx, "einvoice-test")
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	_, ok = global.GetLoggerProvider().(*sdklog.LoggerProvider)
	assert.True(t, ok)

	_, span := otel.Tracer("test").Start(ctx, "noop")
	span.End()

	// Shutdown must be idempotent.
	_ = shutdown(ctx)
	assert.NoError(t, shutdown(ctx))
}

func TestLogrusHookLevels(t *testing.T) {
	h := NewLogrusHook("test", logrus.WarnLevel)
	assert.ElementsMatch(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}, h.Levels())

	entry := logrus.NewEntry(logrus.New()).WithField("document_number", "INV-1")
	entry.Level = logrus.WarnLevel
	entry.Message = "lhdn rate limited"
	assert.NoError(t, h.Fire(entry))
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, otellog.SeverityError, severity(logrus.ErrorLevel))
	assert.Equal(t, otellog.SeverityFatal, severity(logrus.PanicLevel))
	assert.Equal(t, otellog.SeverityTrace, severity(logrus.TraceLevel))
}
