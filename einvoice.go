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
	"embed"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/database"
	"github.com/blnkfinance/einvoice/internal/cache"
	"github.com/blnkfinance/einvoice/internal/extract"
	"github.com/blnkfinance/einvoice/internal/lhdn"
	redlock "github.com/blnkfinance/einvoice/internal/lock"
	"github.com/blnkfinance/einvoice/internal/notification"
	"github.com/blnkfinance/einvoice/internal/signer"
	"github.com/blnkfinance/einvoice/internal/validator"
	"github.com/blnkfinance/einvoice/internal/walker"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("einvoice")

// Engine wires discovery, reconciliation, submission and cancellation over one
// incoming root, one status store and one authority client.
type Engine struct {
	cfg        *config.Configuration
	datasource database.IDataSource
	cache      cache.Cache
	authority  lhdn.API
	locks      redlock.Factory
	walker     *walker.Walker
	validator  *validator.Validator
	signer     *signer.Signer
	notifier   notification.Notifier
	queue      *Queue
	now        func() time.Time

	walkerOpts []walker.Option
	refreshes  singleflight.Group
	generation atomic.Uint64
}

type Option func(*Engine)

func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithAuthority replaces the LHDN client.
func WithAuthority(api lhdn.API) Option {
	return func(e *Engine) { e.authority = api }
}

// WithLocks sets the submission lock factory, e.g. one backed by Redis.
func WithLocks(f redlock.Factory) Option {
	return func(e *Engine) { e.locks = f }
}

func WithNotifier(n notification.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithSigner(s *signer.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithQueue routes bulk submissions through the asynq queue.
func WithQueue(q *Queue) Option {
	return func(e *Engine) { e.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithWalkerOptions(opts ...walker.Option) Option {
	return func(e *Engine) { e.walkerOpts = append(e.walkerOpts, opts...) }
}

// New builds an engine from cfg. Collaborators that are not supplied through opts get
// process local defaults: an in-memory cache and lock, the HTTP authority client and a
// Slack notifier using the configured webhook.
func New(cfg *config.Configuration, ds database.IDataSource, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:        cfg,
		datasource: ds,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = cache.NewLocalCache(cfg.Cache.EntryTTL)
	}
	if e.authority == nil {
		e.authority = lhdn.New(cfg.LHDN)
	}
	if e.locks == nil {
		e.locks = redlock.NewMemoryFactory()
	}
	if e.notifier == nil {
		e.notifier = notification.NewSlackNotifier(cfg.Notification.Slack.WebhookUrl, nil)
	}
	if e.signer == nil && cfg.LHDN.CertificatePath != "" {
		s, err := signer.Load(cfg.LHDN.CertificatePath, cfg.LHDN.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		e.signer = s
	}

	clock := func() time.Time { return e.now() }
	e.validator = validator.New(cfg.Submission.MaxIssueAgeDays, clock)
	e.walker = walker.New(cfg.Storage, append([]walker.Option{walker.WithPreview(extract.Preview)}, e.walkerOpts...)...)

	logrus.WithFields(logrus.Fields{
		"incoming_root": cfg.Storage.IncomingRoot,
		"outgoing_root": cfg.Storage.OutgoingRoot,
		"signed":        e.signer != nil,
		"queued":        e.queue != nil,
	}).Info("e-invoice engine ready")
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Configuration {
	return e.cfg
}

// Close releases the queue client, if any.
func (e *Engine) Close() error {
	if e.queue != nil {
		return e.queue.Close()
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, title string, err error) {
	if e.notifier != nil {
		e.notifier.NotifyError(ctx, title, err)
	}
}
