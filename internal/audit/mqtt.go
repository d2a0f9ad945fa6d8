package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopic is the topic audit entries are published under. The event
// type is appended as the last level.
const DefaultTopic = "toolgate/audit"

// MQTTClient is the subset of the paho client used by the publisher.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

type pahoClient struct {
	client mqtt.Client
}

func (p *pahoClient) Connect() mqtt.Token     { return p.client.Connect() }
func (p *pahoClient) Disconnect(quiesce uint) { p.client.Disconnect(quiesce) }
func (p *pahoClient) IsConnected() bool       { return p.client.IsConnected() }
func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return p.client.Publish(topic, qos, retained, payload)
}

// MQTTConfig configures the publisher.
type MQTTConfig struct {
	Broker   string // tcp://host:port
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	// Events limits publishing to these event types. Empty publishes all.
	Events []string
}

// MQTTPublisher forwards audit entries to an MQTT broker for alerting.
type MQTTPublisher struct {
	cfg     MQTTConfig
	client  MQTTClient
	logger  *slog.Logger
	events  map[string]bool
	timeout time.Duration

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// NewMQTTPublisher creates a publisher backed by the paho client.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	return NewMQTTPublisherWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return &pahoClient{client: mqtt.NewClient(opts)}
	})
}

// NewMQTTPublisherWithClient creates a publisher with a custom client factory.
func NewMQTTPublisherWithClient(cfg MQTTConfig, logger *slog.Logger, factory func(*mqtt.ClientOptions) MQTTClient) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("toolgate-%d", time.Now().Unix())
	}
	p := &MQTTPublisher{
		cfg:           cfg,
		logger:        logger.With("component", "audit", "mirror", "mqtt"),
		timeout:       5 * time.Second,
		clientFactory: factory,
	}
	if len(cfg.Events) > 0 {
		p.events = make(map[string]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			p.events[e] = true
		}
	}
	return p
}

// Connect dials the broker.
func (p *MQTTPublisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = p.clientFactory(opts)

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("audit mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("audit mqtt: connect: %w", err)
	}
	return nil
}

// Name implements Mirror.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Topic returns the topic for an event type.
func (p *MQTTPublisher) Topic(eventType string) string {
	return p.cfg.Topic + "/" + eventType
}

// Mirror implements Mirror.
func (p *MQTTPublisher) Mirror(_ context.Context, e Entry) error {
	if p.events != nil && !p.events[e.EventType] {
		return nil
	}
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("audit mqtt: not connected")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit mqtt: marshal: %w", err)
	}
	token := p.client.Publish(p.Topic(e.EventType), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("audit mqtt: publish timeout")
	}
	return token.Error()
}

// Close implements Mirror.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
