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

package einvoice

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// StartRefresher rebuilds the listing every storage.refresh_interval until ctx ends, so
// inbound corrections land without a user request. Operators are notified when a scan
// starts reporting errors.
func (e *Engine) StartRefresher(ctx context.Context) {
	interval := e.cfg.Storage.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reported := 0
	for {
		select {
		case <-ctx.Done():
			logrus.Info("discovery refresher stopped")
			return
		case <-ticker.C:
			listing, err := e.Refresh(ctx, ModeNormal)
			if err != nil {
				logrus.WithError(err).Error("scheduled discovery refresh failed")
				continue
			}
			errs := listing.Summary.Errors
			if errs > 0 && reported == 0 {
				e.notify(ctx, "Document scan errors",
					fmt.Errorf("%d scan errors under %s, first: %s", errs, e.walker.Root(), listing.Errors[0].Message))
			}
			reported = errs
			logrus.WithFields(logrus.Fields{
				"files":  len(listing.Files),
				"errors": errs,
			}).Debug("scheduled discovery refresh")
		}
	}
}

// HandleNotification drops the cached listing when another process changes a status
// row. It is the handler for the Postgres status listener.
func (e *Engine) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	logrus.WithFields(logrus.Fields{
		"table":           table,
		"document_number": data["document_number"],
		"status":          data["status"],
	}).Debug("status change notification")
	e.Invalidate(ctx)
	return nil
}
