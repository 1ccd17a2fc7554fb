// Package planboard defines the repository contract over a participant's
// ledger of documents, settlements, connection groups and delivery records.
//
// Every write made by a coordinator happens inside Atomic. Reads made through
// the Tx passed to the callback observe the writes made earlier in the same
// callback; nothing is visible to other readers until the callback returns
// nil.
package planboard

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/planboard/core/model"
)

// Query selects documents. Zero fields do not filter. Periods match when
// From <= period < To.
type Query struct {
	Type        model.DocumentType
	From        time.Time
	To          time.Time
	Group       string
	Participant string
	Statuses    []model.Status
}

// Match reports whether d satisfies q.
func (q Query) Match(d model.Document) bool {
	if q.Type != "" && d.Type != q.Type {
		return false
	}
	if !q.From.IsZero() && d.Period.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !d.Period.Before(q.To) {
		return false
	}
	if q.Group != "" && d.Group != q.Group {
		return false
	}
	if q.Participant != "" && d.Participant != q.Participant {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if d.Status == s {
			return true
		}
	}
	return false
}

// SettlementQuery selects flex order settlements.
type SettlementQuery struct {
	From               time.Time
	To                 time.Time
	Participant        string
	OrderSequence      int64
	SettlementSequence int64
}

// Match reports whether s satisfies q.
func (q SettlementQuery) Match(s model.FlexOrderSettlement) bool {
	if !q.From.IsZero() && s.Period.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !s.Period.Before(q.To) {
		return false
	}
	if q.Participant != "" && s.Participant != q.Participant {
		return false
	}
	if q.OrderSequence != 0 && s.OrderSequence != q.OrderSequence {
		return false
	}
	return q.SettlementSequence == 0 || s.SettlementSequence == q.SettlementSequence
}

// Reader is the read side of the planboard. Results are ordered by sequence.
type Reader interface {
	FindDocuments(ctx context.Context, q Query) ([]model.Document, error)
	// FindBySequence returns the document of type t with the given sequence.
	// An empty participant matches any. Missing documents yield
	// model.ErrNotFound.
	FindBySequence(ctx context.Context, t model.DocumentType, participant string, seq int64) (model.Document, error)
	FindSettlements(ctx context.Context, q SettlementQuery) ([]model.FlexOrderSettlement, error)
	// ActiveGroups lists the distinct connection groups with at least one
	// connection valid on day.
	ActiveGroups(ctx context.Context, day time.Time) ([]model.ConnectionGroup, error)
	// FindGroup fails with model.ErrConfiguration for unknown groups.
	FindGroup(ctx context.Context, id string) (model.ConnectionGroup, error)
	FindDeliveries(ctx context.Context, t model.DocumentType, seq int64) ([]model.DeliveryRecord, error)
}

// Writer is the write side of the planboard.
type Writer interface {
	// SaveDocument inserts d or replaces the document with the same key.
	SaveDocument(ctx context.Context, d model.Document) error
	// UpdateStatus fails with model.ErrNotFound when the key is unknown.
	UpdateStatus(ctx context.Context, k model.Key, s model.Status) error
	// SaveSettlement inserts s or replaces the one with the same settlement
	// and order sequence.
	SaveSettlement(ctx context.Context, s model.FlexOrderSettlement) error
	SaveGroupState(ctx context.Context, g model.GroupState) error
	SaveDelivery(ctx context.Context, r model.DeliveryRecord) error
}

// Tx is the view handed to an Atomic callback.
type Tx interface {
	Reader
	Writer
}

// Store is a planboard backend. Writer methods called on the Store directly
// commit on their own.
type Store interface {
	Reader
	Writer
	Atomic(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// SortDocuments orders docs by sequence.
func SortDocuments(docs []model.Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Sequence < docs[j].Sequence })
}

// Latest returns the document with the highest sequence.
func Latest(docs []model.Document) (model.Document, bool) {
	if len(docs) == 0 {
		return model.Document{}, false
	}
	best := docs[0]
	for _, d := range docs[1:] {
		if d.Sequence > best.Sequence {
			best = d
		}
	}
	return best, true
}

// Groups de-duplicates the groups of the states valid on day, ordered by id.
func Groups(states []model.GroupState, day time.Time) []model.ConnectionGroup {
	seen := map[string]model.ConnectionGroup{}
	for _, s := range states {
		if s.ValidOn(day) {
			seen[s.Group.ID] = s.Group
		}
	}
	out := make([]model.ConnectionGroup, 0, len(seen))
	for _, g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
