package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType identifies the family of a planboard document.
type DocumentType string

const (
	TypePrognosis      DocumentType = "PROGNOSIS"
	TypeFlexRequest    DocumentType = "FLEX_REQUEST"
	TypeFlexOffer      DocumentType = "FLEX_OFFER"
	TypeFlexOrder      DocumentType = "FLEX_ORDER"
	TypeFlexSettlement DocumentType = "FLEX_ORDER_SETTLEMENT"
)

// DocumentTypes lists every known document family.
var DocumentTypes = []DocumentType{TypePrognosis, TypeFlexRequest, TypeFlexOffer, TypeFlexOrder, TypeFlexSettlement}

// Role is the organisational role of a participant.
type Role string

const (
	RoleDSO Role = "DSO"
	RoleBRP Role = "BRP"
	RoleAGR Role = "AGR"
	RoleMDC Role = "MDC"
	RoleCRO Role = "CRO"
)

// PTU carries the per-slice payload of a document. Power is expressed in watts.
type PTU struct {
	Index int             `json:"index"`
	Power int64           `json:"power"`
	Price decimal.Decimal `json:"price"`
}

// Document is a planboard message, sent or received, with its lifecycle state.
type Document struct {
	Type           DocumentType `json:"type"`
	Sequence       int64        `json:"sequence"`
	Period         time.Time    `json:"period"`
	Group          string       `json:"group"`
	Participant    string       `json:"participant"`
	Role           Role         `json:"role"`
	Status         Status       `json:"status"`
	Created        time.Time    `json:"created"`
	Expires        time.Time    `json:"expires,omitempty"`
	OriginSequence int64        `json:"origin_sequence,omitempty"`
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	Currency       string       `json:"currency,omitempty"`
	TimeZone       string       `json:"time_zone,omitempty"`
	PTUDuration    int          `json:"ptu_duration"`
	PTUs           []PTU        `json:"ptus,omitempty"`
}

// Key identifies a document within a planboard. Sequence numbers are unique
// per type and participant.
type Key struct {
	Type        DocumentType
	Participant string
	Sequence    int64
}

// Key returns the identity of d.
func (d Document) Key() Key {
	return Key{Type: d.Type, Participant: d.Participant, Sequence: d.Sequence}
}

// Expired reports whether d has an expiration that lies at or before now.
func (d Document) Expired(now time.Time) bool {
	return !d.Expires.IsZero() && !now.Before(d.Expires)
}

// Power returns the power values indexed by PTU, sized to count. Missing
// slices are zero.
func (d Document) Power(count int) []int64 {
	out := make([]int64, count)
	for _, p := range d.PTUs {
		if p.Index >= 1 && p.Index <= count {
			out[p.Index-1] = p.Power
		}
	}
	return out
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	c := d
	if d.PTUs != nil {
		c.PTUs = make([]PTU, len(d.PTUs))
		copy(c.PTUs, d.PTUs)
	}
	return c
}

// Day truncates t to local midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
