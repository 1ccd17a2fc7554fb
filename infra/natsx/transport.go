// Package natsx delivers planboard messages as NATS requests. The recipient
// replies on the request inbox with the response body and its code in the
// Planboard-Code header.
package natsx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	coremon "github.com/kilianp07/planboard/core/monitoring"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/infra/logger"
)

// CodeHeader carries the response code of a reply.
const CodeHeader = "Planboard-Code"

// Config holds NATS connection settings.
type Config struct {
	URL            string        `json:"url"`
	Name           string        `json:"name"`
	SubjectPrefix  string        `json:"subject_prefix"`
	RequestTimeout time.Duration `json:"request_timeout"`
	ReconnectWait  time.Duration `json:"reconnect_wait"`
	MaxReconnects  int           `json:"max_reconnects"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

type requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	Close()
}

// Transport implements sender.Transport over NATS request/reply.
type Transport struct {
	conn    requester
	prefix  string
	timeout time.Duration
	logger  logger.Logger
}

var connect = func(url string, opts ...nats.Option) (requester, error) {
	return nats.Connect(url, opts...)
}

// New connects to the NATS server.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "planboard"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	log := logger.New("nats_transport")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				return
			}
			log.Errorf("disconnected: %v", err)
			coremon.CaptureException(err, map[string]string{"module": "nats", "url": cfg.URL})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
	}
	conn, err := connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newTransport(conn, cfg, log), nil
}

func newTransport(conn requester, cfg Config, log logger.Logger) *Transport {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "planboard"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Transport{conn: conn, prefix: prefix, timeout: timeout, logger: log}
}

// Subject is where messages for domain are sent. Dots in the domain become
// underscores so the domain stays a single token.
func (t *Transport) Subject(domain string) string {
	return t.prefix + "." + strings.ReplaceAll(domain, ".", "_") + ".inbox"
}

// Deliver sends payload as a request and maps the reply to a response.
// A reply without a code header counts as 200.
func (t *Transport) Deliver(ctx context.Context, destination string, payload []byte) (sender.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	msg := nats.NewMsg(t.Subject(destination))
	msg.Data = payload
	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return sender.Response{}, fmt.Errorf("request %s: %w", msg.Subject, err)
	}
	code := 200
	if v := reply.Header.Get(CodeHeader); v != "" {
		code, err = strconv.Atoi(v)
		if err != nil {
			return sender.Response{}, fmt.Errorf("reply from %s: bad %s %q", destination, CodeHeader, v)
		}
	}
	t.logger.Debugf("reply %d from %s", code, destination)
	return sender.Response{Code: code, Body: reply.Data}, nil
}

// Close closes the connection.
func (t *Transport) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}
