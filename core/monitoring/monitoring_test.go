package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordingMonitor struct {
	errs []error
	tags []map[string]string
}

func (r *recordingMonitor) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordingMonitor) Recover()            {}
func (r *recordingMonitor) Flush(time.Duration) {}

func TestEscalateTagsWorkflowAndGroup(t *testing.T) {
	rec := &recordingMonitor{}
	Init(rec)
	defer Init(NopMonitor{})

	Escalate(errors.New("order not delivered"), "place_flex_orders", "ean.871685900012636543")
	Escalate(nil, "ignored", "")
	Escalate(errors.New("settlement failed"), "initiate_settlement", "")

	if len(rec.errs) != 2 {
		t.Fatalf("expected 2 captured errors got %d", len(rec.errs))
	}
	if rec.tags[0]["group"] != "ean.871685900012636543" || rec.tags[0]["workflow"] != "place_flex_orders" {
		t.Fatalf("unexpected tags %v", rec.tags[0])
	}
	if _, ok := rec.tags[1]["group"]; ok {
		t.Fatalf("empty group must not be tagged: %v", rec.tags[1])
	}
}
