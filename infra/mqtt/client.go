// Package mqtt delivers planboard messages over an MQTT broker. Each message
// is published to the recipient's inbox topic and answered on this
// participant's ack topic with the same correlation id.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/planboard/core/monitoring"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/infra/logger"
)

// ErrAckTimeout is returned when no acknowledgment is received before the timeout.
var ErrAckTimeout = errors.New("timeout waiting for ack")

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	// InsecureSkipVerify disables broker certificate checks.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`
	// TopicPrefix roots the inbox and ack topics, "planboard" by default.
	TopicPrefix string `json:"topic_prefix"`
	// Self is this participant's domain; acks arrive on <prefix>/<self>/ack.
	Self       string        `json:"self"`
	QoS        byte          `json:"qos"`
	AckTimeout time.Duration `json:"ack_timeout"`
	LWTTopic   string        `json:"lwt_topic"`
	LWTPayload string        `json:"lwt_payload"`
	LWTQoS     byte          `json:"lwt_qos"`
	LWTRetain  bool          `json:"lwt_retain"`
	TLSConfig  *tls.Config   `json:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Envelope wraps an opaque payload on the wire.
type Envelope struct {
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	Payload       []byte `json:"payload"`
}

// Ack answers an Envelope.
type Ack struct {
	CorrelationID string `json:"correlation_id"`
	Code          int    `json:"code"`
	Body          []byte `json:"body,omitempty"`
}

// Transport implements sender.Transport using Eclipse Paho.
type Transport struct {
	cli     pahoClient
	prefix  string
	ackTop  string
	qos     byte
	timeout time.Duration
	logger  logger.Logger

	mu      sync.Mutex
	pending map[string]chan Ack
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewTransport connects to the MQTT broker and subscribes to the ack topic.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Self == "" {
		return nil, fmt.Errorf("mqtt: self domain is required")
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "planboard"
	}
	timeout := cfg.AckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.New("mqtt_transport")
	t := &Transport{
		prefix:  prefix,
		ackTop:  fmt.Sprintf("%s/%s/ack", prefix, cfg.Self),
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  log,
		pending: make(map[string]chan Ack),
	}
	if cfg.InsecureSkipVerify {
		log.Warnf("mqtt transport: TLS certificate verification disabled")
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(t.ackTop, t.qos, t.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "broker": cfg.Broker})
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	t.cli = c
	return t, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
// With InsecureSkipVerify only the client certificate is required.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.InsecureSkipVerify {
		cfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} //nolint:gosec // lab setups only
		if c.ClientCert != "" && c.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("load cert: %w", err)
			}
			cfg.Certificates = []tls.Certificate{cert}
		}
		return cfg, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// InboxTopic is where messages for domain are published.
func (t *Transport) InboxTopic(domain string) string {
	return fmt.Sprintf("%s/%s/inbox", t.prefix, domain)
}

func (t *Transport) onAck(_ paho.Client, msg paho.Message) {
	var a Ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		t.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	t.mu.Lock()
	ch, ok := t.pending[a.CorrelationID]
	t.mu.Unlock()
	if !ok {
		t.logger.Warnf("ack for unknown correlation id %s", a.CorrelationID)
		return
	}
	select {
	case ch <- a:
	default:
	}
}

// Deliver publishes payload to the recipient's inbox and waits for its ack.
// The ack code is returned as the response code.
func (t *Transport) Deliver(ctx context.Context, destination string, payload []byte) (sender.Response, error) {
	id := uuid.NewString()
	env, err := json.Marshal(Envelope{CorrelationID: id, ReplyTo: t.ackTop, Payload: payload})
	if err != nil {
		return sender.Response{}, err
	}
	ch := make(chan Ack, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	topic := t.InboxTopic(destination)
	token := t.cli.Publish(topic, t.qos, false, env)
	if !token.WaitTimeout(t.timeout) {
		return sender.Response{}, fmt.Errorf("publish to %s: %w", topic, ErrAckTimeout)
	}
	if err := token.Error(); err != nil {
		return sender.Response{}, fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.logger.Debugf("published %s to %s", id, topic)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case a := <-ch:
		return sender.Response{Code: a.Code, Body: a.Body}, nil
	case <-timer.C:
		return sender.Response{}, fmt.Errorf("%s: %w", destination, ErrAckTimeout)
	case <-ctx.Done():
		return sender.Response{}, ctx.Err()
	}
}

// Pending returns the number of sends waiting for an ack.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Disconnect gracefully closes the MQTT connection.
func (t *Transport) Disconnect() {
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
}
