// Package kafka publishes new-code announcements to a Kafka topic using franz-go.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds Kafka notifier configuration.
type Config struct {
	Brokers []string
	Topic   string
	Format  string // "json" (default) or "msgpack"
	TLS     bool
	SASL    *SASLConfig
	Logger  *slog.Logger
}

// Notifier produces one record per announced code, keyed by the code.
type Notifier struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *kgo.Client
}

// New creates a Kafka notifier. The client is created on first use.
func New(cfg Config) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "notify", "type", "kafka"),
	}
}

// NewFactory returns the factory for the "kafka" notifier type.
func NewFactory() notify.Factory {
	return func(params map[string]string, logger *slog.Logger) (notify.Notifier, error) {
		brokers := params["brokers"]
		if brokers == "" {
			return nil, fmt.Errorf("kafka notifier: brokers param is required")
		}

		topic := params["topic"]
		if topic == "" {
			return nil, fmt.Errorf("kafka notifier: topic param is required")
		}

		format := strings.ToLower(params["format"])
		switch format {
		case "", "json":
			format = "json"
		case "msgpack":
		default:
			return nil, fmt.Errorf("kafka notifier: unsupported format %q (supported: json, msgpack)", params["format"])
		}

		var sasl *SASLConfig
		if mech := params["sasl_mechanism"]; mech != "" {
			switch strings.ToLower(mech) {
			case "plain", "scram-sha-256", "scram-sha-512":
			default:
				return nil, fmt.Errorf("kafka notifier: unsupported sasl_mechanism %q (supported: plain, scram-sha-256, scram-sha-512)", mech)
			}
			sasl = &SASLConfig{
				Mechanism: strings.ToLower(mech),
				User:      params["sasl_user"],
				Password:  params["sasl_password"],
			}
		}

		var brokerList []string
		for b := range strings.SplitSeq(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokerList = append(brokerList, b)
			}
		}

		return New(Config{
			Brokers: brokerList,
			Topic:   topic,
			Format:  format,
			TLS:     params["tls"] == "true",
			SASL:    sasl,
			Logger:  logger,
		}), nil
	}
}

func (n *Notifier) Name() string { return "kafka" }

func (n *Notifier) connect() (*kgo.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(n.cfg.Brokers...),
		kgo.DefaultProduceTopic(n.cfg.Topic),
		kgo.AllowAutoTopicCreation(),
	}
	if n.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if n.cfg.SASL != nil {
		mech, err := buildSASLMechanism(n.cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	n.logger.Info("kafka producer started", "brokers", n.cfg.Brokers, "topic", n.cfg.Topic)
	n.client = client
	return client, nil
}

// encode returns the record value and its content type.
func encode(format string, r codes.Record) ([]byte, string, error) {
	if format == "msgpack" {
		v, err := msgpack.Marshal(notify.NewPayload(r))
		return v, "application/msgpack", err
	}
	v, err := notify.Marshal(r)
	return v, "application/json", err
}

// record builds the Kafka record for r.
func record(topic, format string, r codes.Record) (*kgo.Record, error) {
	value, contentType, err := encode(format, r)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(r.Code),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "source", Value: []byte(r.Source)},
			{Key: "content-type", Value: []byte(contentType)},
		},
	}, nil
}

func (n *Notifier) Notify(ctx context.Context, r codes.Record) error {
	rec, err := record(n.cfg.Topic, n.cfg.Format, r)
	if err != nil {
		return err
	}
	client, err := n.connect()
	if err != nil {
		return err
	}
	if err := client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

// Close flushes and closes the producer, if one was created.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		n.client.Close()
		n.client = nil
	}
	return nil
}

// buildSASLMechanism constructs the appropriate SASL mechanism.
func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{User: cfg.User, Pass: cfg.Password}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}
