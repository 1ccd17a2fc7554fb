package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/planboard/core/metrics"
	"github.com/kilianp07/planboard/core/model"
)

func TestPromSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, s.RecordWorkflowRun(coremetrics.WorkflowRun{Workflow: "create_prognosis"}))
	require.NoError(t, s.RecordWorkflowRun(coremetrics.WorkflowRun{Workflow: "create_prognosis", Failed: true}))
	require.NoError(t, s.RecordDocument(coremetrics.DocumentEvent{Workflow: "w", Type: model.TypeFlexOrder, Status: model.StatusSent}))
	require.NoError(t, s.RecordDelivery(coremetrics.DeliveryEvent{Type: model.TypeFlexOrder, Attempts: 2, Delivered: true}))
	require.NoError(t, s.RecordDelivery(coremetrics.DeliveryEvent{Attempts: 1}))
	require.NoError(t, s.RecordSettlement(coremetrics.SettlementEvent{Participant: "agr", Orders: 3, Disputed: 1, Penalty: 2.5}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.runs.WithLabelValues("create_prognosis", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runs.WithLabelValues("create_prognosis", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.documents.WithLabelValues("w", "FLEX_ORDER", "SENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.deliveries.WithLabelValues("FLEX_ORDER", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.deliveries.WithLabelValues("response", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.settlements.WithLabelValues("agr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.disputed.WithLabelValues("agr")))
	assert.Equal(t, 2.5, testutil.ToFloat64(s.penalty.WithLabelValues("agr")))
}

func TestPromSinkReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, a.RecordWorkflowRun(coremetrics.WorkflowRun{Workflow: "x"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.runs.WithLabelValues("x", "ok")))
}

func TestServePrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, s.RecordWorkflowRun(coremetrics.WorkflowRun{Workflow: "expire_documents"}))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- servePrometheus(ctx, addr, reg) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, `planboard_workflow_runs_total{result="ok",workflow="expire_documents"} 1`), body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
