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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/einvoice/internal/request"
	"github.com/sirupsen/logrus"
)

// Notifier reports operational failures to operators.
type Notifier interface {
	NotifyError(ctx context.Context, title string, err error)
}

// SlackNotifier posts failures to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewSlackNotifier returns a notifier posting to webhookURL. An empty URL turns it into a logger only.
func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client, now: time.Now}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func (s *SlackNotifier) message(title string, err error) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", s.now().Format(time.RFC822))}}},
	}}
}

// Send posts a single message and returns the webhook error, if any.
func (s *SlackNotifier) Send(ctx context.Context, title string, err error) error {
	req, reqErr := request.NewJSONRequest(ctx, http.MethodPost, s.webhookURL, "", s.message(title, err))
	if reqErr != nil {
		return reqErr
	}
	resp, _, doErr := request.Do(s.client, req)
	if doErr != nil {
		return doErr
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError logs err and, when a webhook is configured, posts it without blocking the caller.
func (s *SlackNotifier) NotifyError(ctx context.Context, title string, err error) {
	logrus.WithField("title", title).Error(err)
	if s.webhookURL == "" {
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if sendErr := s.Send(sendCtx, title, err); sendErr != nil {
			logrus.WithError(sendErr).Warn("slack notification failed")
		}
	}()
}
