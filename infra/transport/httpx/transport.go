// Package httpx delivers planboard messages with an HTTP POST to the
// recipient's endpoint.
package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/sender"
)

// DefaultURLTemplate resolves a domain without an explicit endpoint.
const DefaultURLTemplate = "https://%s/planboard/messages"

// Config configures the HTTP transport.
type Config struct {
	// Endpoints lists explicit recipient URLs. Domains contain dots, so they
	// are values rather than keys of the configuration tree.
	Endpoints []Endpoint `json:"endpoints"`
	// URLTemplate is formatted with the domain when no endpoint is listed.
	URLTemplate        string        `json:"url_template"`
	Timeout            time.Duration `json:"timeout"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify"`
	ContentType        string        `json:"content_type"`
	Auth               AuthConfig    `json:"auth"`
}

// Endpoint binds a recipient domain to its URL.
type Endpoint struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// Transport implements sender.Transport over HTTP.
type Transport struct {
	cfg    Config
	urls   map[string]string
	client *http.Client
}

// New builds a transport. Disabling certificate verification is logged here
// and on every send by the sender.
func New(cfg Config, log logger.Logger) (*Transport, error) {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if strings.Count(cfg.URLTemplate, "%s") != 1 {
		return nil, fmt.Errorf("%w: url_template %q needs exactly one %%s", model.ErrConfiguration, cfg.URLTemplate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		log.Warnf("http transport: TLS certificate verification disabled")
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // lab setups only
	}
	client := &http.Client{Timeout: cfg.Timeout, Transport: tr}
	if cfg.Auth.enabled() {
		if cfg.Auth.TokenURL == "" {
			return nil, fmt.Errorf("%w: auth.token_url is required", model.ErrConfiguration)
		}
		client = cfg.Auth.authorize(client)
	}
	urls := make(map[string]string, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		if e.Domain == "" || e.URL == "" {
			return nil, fmt.Errorf("%w: endpoint needs a domain and a url", model.ErrConfiguration)
		}
		urls[e.Domain] = e.URL
	}
	return &Transport{cfg: cfg, urls: urls, client: client}, nil
}

// URL returns the endpoint of destination.
func (t *Transport) URL(destination string) string {
	if u, ok := t.urls[destination]; ok {
		return u
	}
	return fmt.Sprintf(t.cfg.URLTemplate, destination)
}

// Deliver posts payload and returns the response status and body.
func (t *Transport) Deliver(ctx context.Context, destination string, payload []byte) (sender.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL(destination), bytes.NewReader(payload))
	if err != nil {
		return sender.Response{}, err
	}
	req.Header.Set("Content-Type", t.cfg.ContentType)
	resp, err := t.client.Do(req)
	if err != nil {
		return sender.Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return sender.Response{}, fmt.Errorf("read response: %w", err)
	}
	return sender.Response{Code: resp.StatusCode, Body: body}, nil
}
