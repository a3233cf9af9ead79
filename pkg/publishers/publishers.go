package publishers

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/samvad-hq/samvad-digest-feeds/internal/configfile"
)

const (
	// Supported publisher types.
	TypeSQS    = "sqs"
	TypeSNS    = "sns"
	TypePubSub = "pubsub"
	TypeHTTP   = "http"

	httpDefaultMethod         = "POST"
	httpDefaultTimeoutSeconds = 5
)

// configFile represents the structure of the publishers configuration file.
type configFile struct {
	Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
}

// PublisherConfig represents a single publisher entry declared in config files.
type PublisherConfig struct {
	ID      string               `json:"id" yaml:"id"`
	Type    string               `json:"type" yaml:"type"`
	Enabled *bool                `json:"enabled" yaml:"enabled"`
	SQS     *SQSPublisherConfig  `json:"sqs" yaml:"sqs"`
	SNS     *SNSPublisherConfig  `json:"sns" yaml:"sns"`
	PubSub  *GCPQueueConfig      `json:"pubsub" yaml:"pubsub"`
	HTTP    *HTTPPublisherConfig `json:"http" yaml:"http"`
}

// AWSCredentials are optional static credentials; empty means the default chain.
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
}

// SQSPublisherConfig holds AWS SQS specific settings.
type SQSPublisherConfig struct {
	QueueURL    string         `json:"uri" yaml:"uri"`
	Region      string         `json:"region" yaml:"region"`
	Endpoint    string         `json:"endpoint" yaml:"endpoint"`
	Credentials AWSCredentials `json:"credentials" yaml:"credentials"`
}

// SNSPublisherConfig holds AWS SNS specific settings.
type SNSPublisherConfig struct {
	TopicARN    string         `json:"topic_arn" yaml:"topic_arn"`
	Region      string         `json:"region" yaml:"region"`
	Endpoint    string         `json:"endpoint" yaml:"endpoint"`
	Credentials AWSCredentials `json:"credentials" yaml:"credentials"`
}

// GCPQueueConfig holds Google Cloud Pub/Sub settings.
type GCPQueueConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// HTTPPublisherConfig holds generic HTTP sink settings.
type HTTPPublisherConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ConfigRegistry materializes publisher definitions loaded from config files.
type ConfigRegistry struct {
	mu         sync.RWMutex
	publishers []PublisherConfig
	idx        map[string]PublisherConfig
}

// LoadRegistry loads the publisher registry from a YAML/JSON file.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	var file configFile
	if err := configfile.Load(path, "publishers", &file); err != nil {
		return nil, err
	}
	if len(file.Publishers) == 0 {
		return nil, errors.New("publishers file contains no publishers entries")
	}

	reg := &ConfigRegistry{idx: make(map[string]PublisherConfig, len(file.Publishers))}
	for i, raw := range file.Publishers {
		cfg := sanitizePublisherConfig(raw)
		if err := validatePublisherConfig(cfg); err != nil {
			return nil, fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if _, exists := reg.idx[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate publisher id %q", cfg.ID)
		}
		reg.publishers = append(reg.publishers, cfg)
		reg.idx[cfg.ID] = cfg
	}
	return reg, nil
}

func trimSpace(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

func sanitizePublisherConfig(cfg PublisherConfig) PublisherConfig {
	trimSpace(&cfg.ID, &cfg.Type)
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.Enabled == nil {
		cfg.Enabled = lo.ToPtr(true)
	}

	if cfg.SQS != nil {
		c := *cfg.SQS
		trimSpace(&c.QueueURL, &c.Region, &c.Endpoint)
		c.Credentials = sanitizeCredentials(c.Credentials)
		cfg.SQS = &c
	}
	if cfg.SNS != nil {
		c := *cfg.SNS
		trimSpace(&c.TopicARN, &c.Region, &c.Endpoint)
		c.Credentials = sanitizeCredentials(c.Credentials)
		cfg.SNS = &c
	}
	if cfg.PubSub != nil {
		c := *cfg.PubSub
		trimSpace(&c.ProjectID, &c.Topic, &c.CredentialsFile)
		cfg.PubSub = &c
	}
	if cfg.HTTP != nil {
		c := *cfg.HTTP
		trimSpace(&c.URL, &c.Method)
		c.Method = strings.ToUpper(c.Method)
		if c.Method == "" {
			c.Method = httpDefaultMethod
		}
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = httpDefaultTimeoutSeconds
		}
		c.Headers = lo.PickBy(
			lo.MapEntries(c.Headers, func(k, v string) (string, string) {
				return strings.TrimSpace(k), strings.TrimSpace(v)
			}),
			func(k, v string) bool { return k != "" && v != "" },
		)
		if len(c.Headers) == 0 {
			c.Headers = nil
		}
		cfg.HTTP = &c
	}
	return cfg
}

func sanitizeCredentials(c AWSCredentials) AWSCredentials {
	trimSpace(&c.AccessKeyID, &c.SecretAccessKey, &c.SessionToken)
	return c
}

// field pairs a dotted config key with its value for required checks.
type field struct {
	key   string
	value string
}

// requireFields reports the first empty field of publisher id.
func requireFields(id string, fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required for publisher %q", f.key, id)
		}
	}
	return nil
}

func validatePublisherConfig(cfg PublisherConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	block := func(present bool) error {
		if !present {
			return fmt.Errorf("%s config required for publisher %q", cfg.Type, cfg.ID)
		}
		return nil
	}

	switch cfg.Type {
	case "":
		return fmt.Errorf("type is required for publisher %q", cfg.ID)
	case TypeSQS:
		if err := block(cfg.SQS != nil); err != nil {
			return err
		}
		return errors.Join(
			requireFields(cfg.ID, field{"sqs.uri", cfg.SQS.QueueURL}, field{"sqs.region", cfg.SQS.Region}),
			validateCredentials(cfg.ID, cfg.SQS.Credentials),
		)
	case TypeSNS:
		if err := block(cfg.SNS != nil); err != nil {
			return err
		}
		return errors.Join(
			requireFields(cfg.ID, field{"sns.topic_arn", cfg.SNS.TopicARN}, field{"sns.region", cfg.SNS.Region}),
			validateCredentials(cfg.ID, cfg.SNS.Credentials),
		)
	case TypePubSub:
		if err := block(cfg.PubSub != nil); err != nil {
			return err
		}
		return requireFields(cfg.ID, field{"pubsub.project_id", cfg.PubSub.ProjectID}, field{"pubsub.topic", cfg.PubSub.Topic})
	case TypeHTTP:
		if err := block(cfg.HTTP != nil); err != nil {
			return err
		}
		return requireFields(cfg.ID, field{"http.url", cfg.HTTP.URL})
	default:
		return fmt.Errorf("unsupported publisher type %q for publisher %q", cfg.Type, cfg.ID)
	}
}

func validateCredentials(id string, c AWSCredentials) error {
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("credentials for publisher %q need both access_key_id and secret_access_key", id)
	}
	return nil
}

// ByID returns the publisher config by id.
func (r *ConfigRegistry) ByID(id string) (PublisherConfig, bool) {
	if r == nil {
		return PublisherConfig{}, false
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return PublisherConfig{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.idx[id]
	return cfg, ok
}

// All returns all configured publishers.
func (r *ConfigRegistry) All() []PublisherConfig {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PublisherConfig, len(r.publishers))
	copy(out, r.publishers)
	return out
}

// Enabled returns publishers that are enabled.
func (r *ConfigRegistry) Enabled() []PublisherConfig {
	return lo.Filter(r.All(), func(cfg PublisherConfig, _ int) bool {
		return cfg.EnabledValue()
	})
}

// EnabledValue returns enabled flag defaulting to true.
func (cfg PublisherConfig) EnabledValue() bool {
	if cfg.Enabled == nil {
		return true
	}
	return *cfg.Enabled
}
