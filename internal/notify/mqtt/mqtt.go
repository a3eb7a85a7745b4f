// Package mqtt publishes new-code announcements to an MQTT broker.
package mqtt

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/logging"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/notify"
)

// Config holds MQTT notifier configuration.
type Config struct {
	Broker   string // tcp://host:1883, ssl://host:8883, ws://...
	Topic    string
	ClientID string
	Username string
	Password string //nolint:gosec // G117: config field, not a hardcoded credential
	QoS      byte
	Retain   bool
	Logger   *slog.Logger
}

// Notifier publishes the JSON payload of each code to Topic.
type Notifier struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client paho.Client
}

// New creates an MQTT notifier. The connection is made on first use.
func New(cfg Config) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "notify", "type", "mqtt"),
	}
}

// NewFactory returns the factory for the "mqtt" notifier type.
func NewFactory() notify.Factory {
	return func(params map[string]string, logger *slog.Logger) (notify.Notifier, error) {
		broker := params["broker"]
		if broker == "" {
			return nil, fmt.Errorf("mqtt notifier: broker param is required")
		}
		if !strings.Contains(broker, "://") {
			broker = "tcp://" + broker
		}

		topic := cmp.Or(params["topic"], "starrail/codes")
		if strings.ContainsAny(topic, "+#") {
			return nil, fmt.Errorf("mqtt notifier: topic %q must not contain wildcards", topic)
		}

		var qos byte
		if v := params["qos"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 2 {
				return nil, fmt.Errorf("mqtt notifier: qos must be 0, 1 or 2, got %q", v)
			}
			qos = byte(n)
		}

		return New(Config{
			Broker:   broker,
			Topic:    topic,
			ClientID: cmp.Or(params["client_id"], "starrail-api-"+uuid.NewString()[:8]),
			Username: params["username"],
			Password: params["password"],
			QoS:      qos,
			Retain:   params["retain"] == "true",
			Logger:   logger,
		}), nil
	}
}

func (n *Notifier) Name() string { return "mqtt" }

func (n *Notifier) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(n.cfg.Broker).
		SetClientID(n.cfg.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			n.logger.Warn("mqtt connection lost", "error", err)
		})
	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(n.cfg.Password)
	}
	return opts
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) connect(ctx context.Context) (paho.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}
	client := paho.NewClient(n.options())
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", n.cfg.Broker, err)
	}
	n.logger.Info("mqtt connected", "broker", n.cfg.Broker, "topic", n.cfg.Topic)
	n.client = client
	return client, nil
}

func (n *Notifier) Notify(ctx context.Context, r codes.Record) error {
	payload, err := notify.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	client, err := n.connect(ctx)
	if err != nil {
		return err
	}
	if err := wait(ctx, client.Publish(n.cfg.Topic, n.cfg.QoS, n.cfg.Retain, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker, if connected.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		n.client.Disconnect(250)
		n.client = nil
	}
	return nil
}
