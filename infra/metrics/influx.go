package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/planboard/core/metrics"
	"github.com/kilianp07/planboard/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes planboard events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(c InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(c.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, c.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(c.Org, c.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(c InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordWorkflowRun writes a workflow_run point.
func (s *InfluxSink) RecordWorkflowRun(ev coremetrics.WorkflowRun) error {
	return s.write(write.NewPointWithMeasurement("workflow_run").
		AddTag("workflow", ev.Workflow).
		AddField("failed", ev.Failed).
		SetTime(ev.Time))
}

// RecordDocument writes a document_status point.
func (s *InfluxSink) RecordDocument(ev coremetrics.DocumentEvent) error {
	p := write.NewPointWithMeasurement("document_status").
		AddTag("workflow", ev.Workflow).
		AddTag("type", string(ev.Type))
	if ev.Group != "" {
		p = p.AddTag("group", ev.Group)
	}
	return s.write(p.AddField("status", string(ev.Status)).SetTime(ev.Time))
}

// RecordDelivery writes a delivery point.
func (s *InfluxSink) RecordDelivery(ev coremetrics.DeliveryEvent) error {
	return s.write(write.NewPointWithMeasurement("delivery").
		AddTag("type", string(ev.Type)).
		AddTag("destination", ev.Destination).
		AddTag("delivered", strconv.FormatBool(ev.Delivered)).
		AddField("attempts", ev.Attempts).
		SetTime(ev.Time))
}

// RecordSettlement writes a settlement point.
func (s *InfluxSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	return s.write(write.NewPointWithMeasurement("settlement").
		AddTag("participant", ev.Participant).
		AddField("orders", ev.Orders).
		AddField("disputed", ev.Disputed).
		AddField("penalty", round3(ev.Penalty)).
		SetTime(ev.Time))
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
