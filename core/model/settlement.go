package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementLine is the per-PTU reconciliation of ordered against delivered
// flexible power.
type SettlementLine struct {
	Index           int             `json:"index"`
	Ordered         int64           `json:"ordered"`
	Delivered       int64           `json:"delivered"`
	PowerDeficiency int64           `json:"power_deficiency"`
	Price           decimal.Decimal `json:"price"`
	Penalty         decimal.Decimal `json:"penalty"`
	Disposition     Disposition     `json:"disposition"`
}

// FlexOrderSettlement settles a single flex order for one period.
type FlexOrderSettlement struct {
	SettlementSequence int64            `json:"settlement_sequence"`
	OrderSequence      int64            `json:"order_sequence"`
	Participant        string           `json:"participant"`
	Period             time.Time        `json:"period"`
	Group              string           `json:"group"`
	Disposition        Disposition      `json:"disposition"`
	Confirmed          bool             `json:"confirmed"`
	Lines              []SettlementLine `json:"lines"`
}

// Penalty returns the summed penalty over all lines.
func (s FlexOrderSettlement) Penalty() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Penalty)
	}
	return total
}

// Clone returns a deep copy of s.
func (s FlexOrderSettlement) Clone() FlexOrderSettlement {
	c := s
	c.Lines = make([]SettlementLine, len(s.Lines))
	copy(c.Lines, s.Lines)
	return c
}

// DeliveryStatus is the outcome of an outbound delivery.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryRecord persists the outcome of a reliable send.
type DeliveryRecord struct {
	MessageID   string         `json:"message_id"`
	Type        DocumentType   `json:"type"`
	Sequence    int64          `json:"sequence"`
	Destination string         `json:"destination"`
	Attempts    int            `json:"attempts"`
	Status      DeliveryStatus `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
	Time        time.Time      `json:"time"`
}
