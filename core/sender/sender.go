// Package sender delivers outbound planboard messages with bounded
// exponential backoff and records every outcome.
package sender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/logger"
	"github.com/kilianp07/planboard/core/model"
)

var (
	// ErrNoResponse is returned once the retry budget is exhausted.
	ErrNoResponse = errors.New("no response")
	// ErrRefused is returned for a response code that is not retryable.
	ErrRefused = errors.New("delivery refused")
)

// Policy configures retries.
type Policy struct {
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	Multiplier         float64
	MaxRetries         int
	RetryCodes         []int
	RetryAlways        bool
	InsecureSkipVerify bool
}

// Retryable reports whether a response code warrants another attempt.
func (p Policy) Retryable(code int) bool {
	return p.RetryAlways || slices.Contains(p.RetryCodes, code)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Recorder persists delivery outcomes.
type Recorder interface {
	SaveDelivery(ctx context.Context, r model.DeliveryRecord) error
}

// Sender is the reliable outbound path.
type Sender struct {
	transport Transport
	codec     Codec
	policy    Policy
	recorder  Recorder
	log       logger.Logger
	notify    func(any)
	onFailure func(events.DeliveryFailed)
	now       func() time.Time
}

// Option customizes a Sender.
type Option func(*Sender)

// WithCodec replaces the JSON codec.
func WithCodec(c Codec) Option { return func(s *Sender) { s.codec = c } }

// WithNotify publishes a DeliveryEvent for every outcome.
func WithNotify(f func(any)) Option { return func(s *Sender) { s.notify = f } }

// WithFailureHandler is called when a document could not be delivered.
func WithFailureHandler(f func(events.DeliveryFailed)) Option {
	return func(s *Sender) { s.onFailure = f }
}

// New builds a Sender.
func New(t Transport, p Policy, rec Recorder, log logger.Logger, opts ...Option) *Sender {
	s := &Sender{
		transport: t,
		codec:     JSONCodec{},
		policy:    p,
		recorder:  rec,
		log:       log,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send serializes msg once and delivers it to its recipient.
func (s *Sender) Send(ctx context.Context, msg Message) (Response, error) {
	if s.policy.InsecureSkipVerify {
		s.log.Warnf("TLS verification disabled: sending %s %d to %s without certificate checks",
			msg.Type, msg.Sequence, msg.Recipient.Domain)
	}
	payload, err := s.codec.Marshal(msg)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s %d: %w", msg.Type, msg.Sequence, err)
	}

	var (
		attempts int
		resp     Response
		lastErr  error
	)
	op := func() error {
		attempts++
		r, err := s.transport.Deliver(ctx, msg.Recipient.Domain, payload)
		if err != nil {
			lastErr = err
			return err
		}
		resp = r
		if r.OK() {
			lastErr = nil
			return nil
		}
		lastErr = fmt.Errorf("response code %d", r.Code)
		if s.policy.Retryable(r.Code) {
			return lastErr
		}
		return backoff.Permanent(fmt.Errorf("%w: code %d", ErrRefused, r.Code))
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debugw("delivery retry", map[string]any{
			"message_id": msg.MessageID, "attempt": attempts, "wait": wait.String(), "error": err.Error(),
		})
	}
	err = backoff.RetryNotify(op, s.policy.backOff(ctx), notify)

	rec := model.DeliveryRecord{
		MessageID:   msg.MessageID,
		Type:        msg.Type,
		Sequence:    msg.Sequence,
		Destination: msg.Recipient.Domain,
		Attempts:    attempts,
		Status:      model.DeliveryDelivered,
		Time:        s.now(),
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if !errors.Is(err, ErrRefused) {
			err = fmt.Errorf("%w after %d attempts: %v", ErrNoResponse, attempts, lastErr)
		}
		rec.Status = model.DeliveryFailed
		rec.LastError = err.Error()
	}
	s.record(ctx, rec)
	if err != nil {
		s.log.Warnf("delivery of %s %d to %s failed: %v", msg.Type, msg.Sequence, msg.Recipient.Domain, err)
		if msg.Document != nil && s.onFailure != nil {
			s.onFailure(events.DeliveryFailed{Document: *msg.Document, Record: rec})
		}
		return resp, err
	}
	return resp, nil
}

func (s *Sender) record(ctx context.Context, rec model.DeliveryRecord) {
	if s.recorder != nil {
		// the outcome is recorded even when ctx was cancelled mid-retry
		if err := s.recorder.SaveDelivery(context.WithoutCancel(ctx), rec); err != nil {
			s.log.Errorf("record delivery %s: %v", rec.MessageID, err)
		}
	}
	if s.notify != nil {
		s.notify(events.DeliveryEvent{Record: rec})
	}
}
