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
	"fmt"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// LogrusHook forwards logrus entries at or above a level to the global OTel logger
// provider, so warnings and errors travel with the traces.
type LogrusHook struct {
	levels []logrus.Level
	logger otellog.Logger
}

// NewLogrusHook returns a hook for entries at minLevel or more severe.
func NewLogrusHook(name string, minLevel logrus.Level) *LogrusHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &LogrusHook{levels: levels, logger: global.GetLoggerProvider().Logger(name)}
}

func (h *LogrusHook) Levels() []logrus.Level {
	return h.levels
}

func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	var r otellog.Record
	r.SetTimestamp(entry.Time)
	r.SetBody(otellog.StringValue(entry.Message))
	r.SetSeverity(severity(entry.Level))
	r.SetSeverityText(entry.Level.String())
	for k, v := range entry.Data {
		r.AddAttributes(otellog.String(k, fmt.Sprint(v)))
	}

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, r)
	return nil
}

func severity(l logrus.Level) otellog.Severity {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return otellog.SeverityFatal
	case logrus.ErrorLevel:
		return otellog.SeverityError
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	}
	return otellog.SeverityTrace
}
