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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"EINVOICE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"EINVOICE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"EINVOICE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"EINVOICE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"EINVOICE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"EINVOICE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"EINVOICE_DATA_SOURCE_DNS"`
	// ListenForChanges subscribes to status row notifications so other instances'
	// writes invalidate this instance's discovery cache.
	ListenForChanges bool `json:"listen_for_changes" envconfig:"EINVOICE_DATA_SOURCE_LISTEN_FOR_CHANGES"`
}

// RedisConfig is optional. When Dns is empty the discovery cache is process local,
// the submission lock falls back to the status store alone and bulk submits run inline.
type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"EINVOICE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"EINVOICE_REDIS_SKIP_TLS_VERIFY"`
}

// StorageConfig describes the network share the ERP export job writes to.
type StorageConfig struct {
	IncomingRoot    string        `json:"incoming_root" envconfig:"EINVOICE_STORAGE_INCOMING_ROOT"`
	OutgoingRoot    string        `json:"outgoing_root" envconfig:"EINVOICE_STORAGE_OUTGOING_ROOT"`
	Categories      []string      `json:"categories" envconfig:"EINVOICE_STORAGE_CATEGORIES"`
	DirTimeout      time.Duration `json:"dir_timeout" envconfig:"EINVOICE_STORAGE_DIR_TIMEOUT"`
	ScanConcurrency int           `json:"scan_concurrency" envconfig:"EINVOICE_STORAGE_SCAN_CONCURRENCY"`
	FileBatchSize   int           `json:"file_batch_size" envconfig:"EINVOICE_STORAGE_FILE_BATCH_SIZE"`
	RefreshInterval time.Duration `json:"refresh_interval" envconfig:"EINVOICE_STORAGE_REFRESH_INTERVAL"`
}

type CacheConfig struct {
	PollingMaxAge time.Duration `json:"polling_max_age" envconfig:"EINVOICE_CACHE_POLLING_MAX_AGE"`
	NormalMaxAge  time.Duration `json:"normal_max_age" envconfig:"EINVOICE_CACHE_NORMAL_MAX_AGE"`
	RealtimeTTL   time.Duration `json:"realtime_ttl" envconfig:"EINVOICE_CACHE_REALTIME_TTL"`
	EntryTTL      time.Duration `json:"entry_ttl" envconfig:"EINVOICE_CACHE_ENTRY_TTL"`
}

type LHDNConfig struct {
	BaseURL              string        `json:"base_url" envconfig:"EINVOICE_LHDN_BASE_URL"`
	Timeout              time.Duration `json:"timeout" envconfig:"EINVOICE_LHDN_TIMEOUT"`
	MaxAttempts          int           `json:"max_attempts" envconfig:"EINVOICE_LHDN_MAX_ATTEMPTS"`
	DefaultRateLimitWait time.Duration `json:"default_rate_limit_wait" envconfig:"EINVOICE_LHDN_DEFAULT_RATE_LIMIT_WAIT"`
	PollEnabled          bool          `json:"poll_enabled" envconfig:"EINVOICE_LHDN_POLL_ENABLED"`
	PollInitialDelay     time.Duration `json:"poll_initial_delay" envconfig:"EINVOICE_LHDN_POLL_INITIAL_DELAY"`
	PollMaxInterval      time.Duration `json:"poll_max_interval" envconfig:"EINVOICE_LHDN_POLL_MAX_INTERVAL"`
	PollMaxRetries       uint64        `json:"poll_max_retries" envconfig:"EINVOICE_LHDN_POLL_MAX_RETRIES"`
	SignatureVersion     string        `json:"signature_version" envconfig:"EINVOICE_LHDN_SIGNATURE_VERSION"`
	CertificatePath      string        `json:"certificate_path" envconfig:"EINVOICE_LHDN_CERTIFICATE_PATH"`
	PrivateKeyPath       string        `json:"private_key_path" envconfig:"EINVOICE_LHDN_PRIVATE_KEY_PATH"`
}

type SubmissionConfig struct {
	MaxIssueAgeDays         int `json:"max_issue_age_days" envconfig:"EINVOICE_SUBMISSION_MAX_ISSUE_AGE_DAYS"`
	CancellationWindowHours int `json:"cancellation_window_hours" envconfig:"EINVOICE_SUBMISSION_CANCELLATION_WINDOW_HOURS"`
	BulkConcurrency         int `json:"bulk_concurrency" envconfig:"EINVOICE_SUBMISSION_BULK_CONCURRENCY"`
}

type QueueConfig struct {
	Enabled         bool   `json:"enabled" envconfig:"EINVOICE_QUEUE_ENABLED"`
	SubmissionQueue string `json:"submission_queue" envconfig:"EINVOICE_QUEUE_SUBMISSION_QUEUE"`
	NumberOfQueues  int    `json:"number_of_queues" envconfig:"EINVOICE_QUEUE_NUMBER_OF_QUEUES"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"EINVOICE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"EINVOICE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"EINVOICE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"EINVOICE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"EINVOICE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"EINVOICE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Storage         StorageConfig    `json:"storage"`
	Cache           CacheConfig      `json:"cache"`
	LHDN            LHDNConfig       `json:"lhdn"`
	Submission      SubmissionConfig `json:"submission"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("einvoice", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called einvoice.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "E-Invoice Middleware"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if strings.TrimSpace(cnf.Storage.IncomingRoot) == "" {
		log.Println("Error: Incoming root is empty. It's a required field.")
		return errors.New("storage incoming root is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Storage.IncomingRoot = strings.TrimSpace(cnf.Storage.IncomingRoot)
	cnf.Storage.OutgoingRoot = strings.TrimSpace(cnf.Storage.OutgoingRoot)
	cnf.LHDN.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.LHDN.BaseURL), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Storage.applyDefaults()
	cnf.Cache.applyDefaults()
	cnf.LHDN.applyDefaults()
	cnf.Submission.applyDefaults()

	if cnf.Queue.SubmissionQueue == "" {
		cnf.Queue.SubmissionQueue = "lhdn_submissions"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 5
	}
	if cnf.Queue.Enabled && cnf.Redis.Dns == "" {
		log.Println("Warning: Queue enabled without a redis DNS. Bulk submissions will run inline.")
		cnf.Queue.Enabled = false
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (s *StorageConfig) applyDefaults() {
	if s.OutgoingRoot == "" {
		s.OutgoingRoot = strings.TrimRight(s.IncomingRoot, "/\\") + "_outgoing"
		log.Printf("Warning: Outgoing root not specified. Using %s", s.OutgoingRoot)
	}
	if len(s.Categories) == 0 {
		s.Categories = []string{"Manual", "Schedule"}
	}
	if s.DirTimeout <= 0 {
		s.DirTimeout = 10 * time.Second
	}
	if s.ScanConcurrency <= 0 {
		s.ScanConcurrency = 4
	}
	if s.FileBatchSize <= 0 {
		s.FileBatchSize = 10
	}
	if s.RefreshInterval <= 0 {
		s.RefreshInterval = 5 * time.Minute
	}
}

func (c *CacheConfig) applyDefaults() {
	if c.PollingMaxAge <= 0 {
		c.PollingMaxAge = 10 * time.Second
	}
	if c.NormalMaxAge <= 0 {
		c.NormalMaxAge = 30 * time.Second
	}
	if c.RealtimeTTL <= 0 {
		c.RealtimeTTL = 15 * time.Second
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = 60 * time.Second
	}
}

func (l *LHDNConfig) applyDefaults() {
	if l.BaseURL == "" {
		l.BaseURL = "https://preprod-api.myinvois.hasil.gov.my"
		log.Printf("Warning: LHDN base url not specified. Using sandbox %s", l.BaseURL)
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = 5
	}
	if l.DefaultRateLimitWait <= 0 {
		l.DefaultRateLimitWait = time.Second
	}
	if l.PollInitialDelay <= 0 {
		l.PollInitialDelay = 5 * time.Second
	}
	if l.PollMaxInterval <= 0 {
		l.PollMaxInterval = 5 * time.Second
	}
	if l.PollMaxRetries == 0 {
		l.PollMaxRetries = 10
	}
	if l.SignatureVersion == "" {
		l.SignatureVersion = "1.0"
	}
}

func (s *SubmissionConfig) applyDefaults() {
	if s.MaxIssueAgeDays <= 0 {
		s.MaxIssueAgeDays = 7
	}
	if s.CancellationWindowHours <= 0 {
		s.CancellationWindowHours = 72
	}
	if s.BulkConcurrency <= 0 {
		s.BulkConcurrency = 3
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// Defaults returns a configuration with every default applied on top of the given
// required values. It is used by tests and the scan command.
func Defaults(dns, incomingRoot string) *Configuration {
	cnf := &Configuration{
		DataSource: DataSourceConfig{Dns: dns},
		Storage:    StorageConfig{IncomingRoot: incomingRoot},
	}
	_ = cnf.validateAndAddDefaults()
	return cnf
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
