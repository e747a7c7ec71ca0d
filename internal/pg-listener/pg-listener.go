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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Channel is the NOTIFY channel the status triggers publish on.
const Channel = "einvoice_status_change"

type NotificationHandler interface {
	HandleNotification(ctx context.Context, table string, data map[string]interface{}) error
}

type ListenerConfig struct {
	PgConnStr    string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

// DBListener relays status table notifications to a handler.
type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.MinReconnect <= 0 {
		config.MinReconnect = 10 * time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens until ctx is done.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, d.config.MinReconnect, d.config.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).Warn("status listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("listening on %s: %w", Channel, err)
	}
	logrus.Infof("listening for status notifications on channel '%s'", Channel)

	ticker := time.NewTicker(d.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; anything missed is caught by the cache max age.
			if n != nil {
				d.handleNotification(ctx, n.Extra)
			}
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("status listener ping failed")
			}
		}
	}
}

func (d *DBListener) handleNotification(ctx context.Context, extra string) {
	var payload NotificationPayload
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		logrus.WithError(err).Warn("unreadable status notification")
		return
	}
	if payload.Data == nil {
		payload.Data = map[string]interface{}{}
	}

	if err := d.handler.HandleNotification(ctx, payload.Table, payload.Data); err != nil {
		logrus.WithError(err).Warn("handling status notification")
	}
}
