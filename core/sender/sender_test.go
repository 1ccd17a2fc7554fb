package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/infra/logger"
)

type scriptedTransport struct {
	mu       sync.Mutex
	codes    []int
	errs     []error
	calls    int
	payloads [][]byte
}

func (s *scriptedTransport) Deliver(_ context.Context, _ string, payload []byte) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.payloads = append(s.payloads, payload)
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	code := 200
	if i < len(s.codes) {
		code = s.codes[i]
	} else if len(s.codes) > 0 {
		code = s.codes[len(s.codes)-1]
	}
	return Response{Code: code}, nil
}

type countingCodec struct{ n int }

func (c *countingCodec) Marshal(m Message) ([]byte, error) {
	c.n++
	return JSONCodec{}.Marshal(m)
}

type warnLogger struct {
	logger.NopLogger
	mu    sync.Mutex
	warns []string
}

func (w *warnLogger) Warnf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warns = append(w.warns, fmt.Sprintf(format, args...))
}

func order() model.Document {
	return model.Document{
		Type:           model.TypeFlexOrder,
		Sequence:       11,
		Period:         time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Group:          "ean.1",
		Participant:    "agr.example.com",
		Role:           model.RoleAGR,
		Status:         model.StatusSent,
		MessageID:      "6f1c3b1e-2a80-4b7f-9a51-0c1d2e3f4a5b",
		ConversationID: "conv-1",
		PTUDuration:    15,
	}
}

func policy() Policy {
	return Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 3, RetryCodes: []int{503}}
}

var self = Party{Domain: "dso.example.com", Role: model.RoleDSO}

func TestSendDeliversFirstTime(t *testing.T) {
	tr := &scriptedTransport{}
	store := planboard.NewMemoryStore()
	codec := &countingCodec{}
	var published []any
	s := New(tr, policy(), store, logger.NopLogger{}, WithCodec(codec), WithNotify(func(e any) { published = append(published, e) }))

	_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, 1, codec.n)

	recs, err := store.FindDeliveries(context.Background(), model.TypeFlexOrder, 11)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.DeliveryDelivered, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempts)
	assert.Equal(t, "6f1c3b1e-2a80-4b7f-9a51-0c1d2e3f4a5b", recs[0].MessageID)
	require.Len(t, published, 1)
	assert.IsType(t, events.DeliveryEvent{}, published[0])
}

func TestSendRetriesConfiguredCodes(t *testing.T) {
	tr := &scriptedTransport{codes: []int{503, 503, 200}}
	codec := &countingCodec{}
	s := New(tr, policy(), nil, logger.NopLogger{}, WithCodec(codec))
	_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, tr.calls)
	assert.Equal(t, 1, codec.n, "payload serialized once")
	assert.Equal(t, tr.payloads[0], tr.payloads[2])
}

func TestSendNonRetryableCodeIsRefused(t *testing.T) {
	tr := &scriptedTransport{codes: []int{400}}
	var failed []events.DeliveryFailed
	s := New(tr, policy(), nil, logger.NopLogger{}, WithFailureHandler(func(e events.DeliveryFailed) { failed = append(failed, e) }))
	_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
	assert.True(t, errors.Is(err, ErrRefused))
	assert.Equal(t, 1, tr.calls)
	require.Len(t, failed, 1)
	assert.Equal(t, model.DeliveryFailed, failed[0].Record.Status)
}

func TestSendExhaustsBudget(t *testing.T) {
	boom := errors.New("connection refused")
	tr := &scriptedTransport{errs: []error{boom, boom, boom, boom, boom}}
	store := planboard.NewMemoryStore()
	var failed []events.DeliveryFailed
	s := New(tr, policy(), store, logger.NopLogger{}, WithFailureHandler(func(e events.DeliveryFailed) { failed = append(failed, e) }))

	_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoResponse))
	assert.Equal(t, 4, tr.calls, "one attempt plus three retries")
	require.Len(t, failed, 1)
	assert.Equal(t, int64(11), failed[0].Document.Sequence)

	recs, err := store.FindDeliveries(context.Background(), model.TypeFlexOrder, 11)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.DeliveryFailed, recs[0].Status)
	assert.Equal(t, 4, recs[0].Attempts)
	assert.Contains(t, recs[0].LastError, "connection refused")
}

func TestSendRetryAlways(t *testing.T) {
	p := policy()
	p.RetryCodes = nil
	p.RetryAlways = true
	p.MaxRetries = 1
	tr := &scriptedTransport{codes: []int{500, 500}}
	s := New(tr, p, nil, logger.NopLogger{})
	_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
	assert.True(t, errors.Is(err, ErrNoResponse))
	assert.Equal(t, 2, tr.calls)
}

func TestSendResponsesDoNotRaiseFailures(t *testing.T) {
	tr := &scriptedTransport{codes: []int{400}}
	called := false
	s := New(tr, policy(), nil, logger.NopLogger{}, WithFailureHandler(func(events.DeliveryFailed) { called = true }))
	msg := ForResponse(self, events.Response{
		Type: model.TypeFlexOffer, Sequence: 5, Participant: "agr.example.com", Role: model.RoleAGR,
		ConversationID: "conv-9", Disposition: model.DispositionRejected, Reason: "currency mismatch",
	}, time.Now())
	assert.Equal(t, "conv-9", msg.ConversationID)
	_, err := s.Send(context.Background(), msg)
	assert.Error(t, err)
	assert.False(t, called)
}

func TestInsecureWarnsOnEverySend(t *testing.T) {
	p := policy()
	p.InsecureSkipVerify = true
	log := &warnLogger{}
	s := New(&scriptedTransport{}, p, nil, log)
	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), ForDocument(self, order(), time.Now()))
		require.NoError(t, err)
	}
	assert.Len(t, log.warns, 3)
	assert.Contains(t, log.warns[0], "TLS verification disabled")
}
