package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/config"
	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/factory"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/sender"
	"github.com/kilianp07/planboard/core/step"
	"github.com/kilianp07/planboard/infra/logger"
	"github.com/kilianp07/planboard/infra/transport/httpx"
)

type inbox struct {
	mu   sync.Mutex
	msgs []sender.Message
}

func (in *inbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var m sender.Message
	if err := json.Unmarshal(b, &m); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func testConfig(dsoURL string) *config.Config {
	cfg := &config.Config{
		Participant: config.ParticipantConfig{Domain: "agr.example.com", Role: model.RoleAGR},
		PTU:         config.PTUConfig{DurationMinutes: 15, TimeZone: "UTC"},
		Store:       config.StoreConfig{Backend: "memory"},
		Transport:   config.TransportConfig{Type: "http"},
		Steps: map[step.Name]factory.ModuleConfig{
			step.CreatePrognosis: {Type: "flat", Conf: map[string]any{"power": 100}},
		},
		Groups: []config.GroupConfig{{
			Connection:  "ean.1",
			Group:       "ean.871685900012636543",
			Kind:        model.GroupCongestionPoint,
			Participant: "dso.example.com",
		}},
	}
	cfg.Transport.HTTP.Endpoints = []httpx.Endpoint{{Domain: "dso.example.com", URL: dsoURL}}
	cfg.SetDefaults()
	cfg.Sender.InitialIntervalMS = 1
	return cfg
}

func TestServiceCreatesAndSendsPrognosis(t *testing.T) {
	dso := &inbox{}
	srv := httptest.NewServer(dso)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	require.NoError(t, cfg.Validate())
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	tomorrow := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
	require.True(t, svc.Submit(events.CreatePrognosis{Period: tomorrow}))
	svc.Wait()

	docs, err := svc.Store.FindDocuments(context.Background(), planboard.Query{Type: model.TypePrognosis})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ean.871685900012636543", docs[0].Group)
	assert.Equal(t, int64(100), docs[0].Power(96)[95])

	dso.mu.Lock()
	defer dso.mu.Unlock()
	require.Len(t, dso.msgs, 1)
	assert.Equal(t, docs[0].Sequence, dso.msgs[0].Sequence)
	assert.Equal(t, "agr.example.com", dso.msgs[0].Sender.Domain)

	recs, err := svc.Store.FindDeliveries(context.Background(), model.TypePrognosis, docs[0].Sequence)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries returns the JSON log lines of component at level.
func (b *logBuffer) entries(component, level string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range bytes.Split(b.buf.Bytes(), []byte("\n")) {
		var e map[string]any
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		if e["component"] == component && e["level"] == level {
			out = append(out, e)
		}
	}
	return out
}

func TestServiceWarnsOnEveryInsecureSend(t *testing.T) {
	logs := &logBuffer{}
	logger.SetDefaultOutput(logs)
	defer logger.SetDefaultOutput(nil)

	dso := &inbox{}
	srv := httptest.NewTLSServer(dso)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Transport.HTTP.InsecureSkipVerify = true
	require.NoError(t, cfg.Validate())
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	tomorrow := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
	for i := 0; i < 2; i++ {
		require.True(t, svc.Submit(events.CreatePrognosis{Period: tomorrow}))
		svc.Wait()
	}

	dso.mu.Lock()
	sent := len(dso.msgs)
	dso.mu.Unlock()
	require.Equal(t, 2, sent)
	warns := logs.entries("sender", "warn")
	require.Len(t, warns, sent)
	for _, w := range warns {
		assert.Contains(t, w["message"], "TLS verification disabled")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Scheduler.Jobs = nil
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewRejectsUnknownStep(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Steps[step.CreatePrognosis] = factory.ModuleConfig{Type: "missing"}
	_, err := New(cfg)
	assert.Error(t, err)
}
