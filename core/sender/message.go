package sender

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/planboard/core/events"
	"github.com/kilianp07/planboard/core/model"
)

// Party identifies one side of an exchange.
type Party struct {
	Domain string     `json:"domain"`
	Role   model.Role `json:"role"`
}

// Message is the envelope handed to a transport. Exactly one of Document and
// Response is set.
type Message struct {
	MessageID      string             `json:"message_id"`
	ConversationID string             `json:"conversation_id"`
	Sender         Party              `json:"sender"`
	Recipient      Party              `json:"recipient"`
	Type           model.DocumentType `json:"type"`
	Sequence       int64              `json:"sequence"`
	Period         time.Time          `json:"period"`
	PTUDuration    int                `json:"ptu_duration"`
	Timestamp      time.Time          `json:"timestamp"`
	Document       *model.Document    `json:"document,omitempty"`
	Response       *events.Response   `json:"response,omitempty"`
	// Settlements accompany a FLEX_ORDER_SETTLEMENT document.
	Settlements []model.FlexOrderSettlement `json:"settlements,omitempty"`
}

// ForDocument wraps a committed document. The document's message id is kept
// so that re-sends are recognizable by the recipient.
func ForDocument(self Party, doc model.Document, now time.Time) Message {
	d := doc.Clone()
	id := doc.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	return Message{
		MessageID:      id,
		ConversationID: doc.ConversationID,
		Sender:         self,
		Recipient:      Party{Domain: doc.Participant, Role: doc.Role},
		Type:           doc.Type,
		Sequence:       doc.Sequence,
		Period:         doc.Period,
		PTUDuration:    doc.PTUDuration,
		Timestamp:      now,
		Document:       &d,
	}
}

// ForResponse wraps a disposition answering an inbound document. The
// conversation id of the inbound message is echoed.
func ForResponse(self Party, r events.Response, now time.Time) Message {
	resp := r
	return Message{
		MessageID:      uuid.NewString(),
		ConversationID: r.ConversationID,
		Sender:         self,
		Recipient:      Party{Domain: r.Participant, Role: r.Role},
		Type:           r.Type,
		Sequence:       r.Sequence,
		Timestamp:      now,
		Response:       &resp,
	}
}

// Response is what a transport got back from the destination.
type Response struct {
	Code int
	Body []byte
}

// OK reports a 2xx code.
func (r Response) OK() bool { return r.Code >= 200 && r.Code < 300 }

// Transport delivers an opaque payload to a destination domain.
type Transport interface {
	Deliver(ctx context.Context, destination string, payload []byte) (Response, error)
}

// Codec serializes messages for the wire.
type Codec interface {
	Marshal(Message) ([]byte, error)
}

// JSONCodec encodes messages as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(m Message) ([]byte, error) { return json.Marshal(m) }
