package planboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/planboard/core/model"
)

// ErrConflict reports that a document changed status between the read of a
// transaction and its commit. The transaction can be retried.
var ErrConflict = errors.New("planboard: concurrent status change")

// StatusChange moves a document from one status to another. It commits only
// when the stored status still equals From.
type StatusChange struct {
	Key  model.Key
	From model.Status
	To   model.Status
}

// Change is one buffered write. Exactly one field is set.
type Change struct {
	Document   *model.Document
	Status     *StatusChange
	Settlement *model.FlexOrderSettlement
	GroupState *model.GroupState
	Delivery   *model.DeliveryRecord
}

// Staging is a Tx that reads through to committed state and buffers its
// writes. Backends commit the buffered Changes in one short transaction, so
// no lock is held while the callback runs.
type Staging struct {
	base        Reader
	docs        map[model.Key]model.Document
	settlements map[settlementKey]model.FlexOrderSettlement
	groups      []model.GroupState
	deliveries  []model.DeliveryRecord
	changes     []Change
}

var _ Tx = (*Staging)(nil)

// NewStaging returns an empty Staging over base.
func NewStaging(base Reader) *Staging {
	return &Staging{
		base:        base,
		docs:        map[model.Key]model.Document{},
		settlements: map[settlementKey]model.FlexOrderSettlement{},
	}
}

// Changes returns the buffered writes in call order.
func (s *Staging) Changes() []Change { return s.changes }

func (s *Staging) FindDocuments(ctx context.Context, q Query) ([]model.Document, error) {
	wide := q
	wide.Statuses = nil
	base, err := s.base.FindDocuments(ctx, wide)
	if err != nil {
		return nil, err
	}
	seen := make(map[model.Key]bool, len(base))
	var out []model.Document
	for _, d := range base {
		k := d.Key()
		seen[k] = true
		if staged, ok := s.docs[k]; ok {
			d = staged.Clone()
		}
		if q.Match(d) {
			out = append(out, d)
		}
	}
	for k, d := range s.docs {
		if !seen[k] && q.Match(d) {
			out = append(out, d.Clone())
		}
	}
	SortDocuments(out)
	return out, nil
}

func (s *Staging) FindBySequence(ctx context.Context, t model.DocumentType, participant string, seq int64) (model.Document, error) {
	for k, d := range s.docs {
		if k.Type == t && k.Sequence == seq && (participant == "" || k.Participant == participant) {
			return d.Clone(), nil
		}
	}
	return s.base.FindBySequence(ctx, t, participant, seq)
}

func (s *Staging) FindSettlements(ctx context.Context, q SettlementQuery) ([]model.FlexOrderSettlement, error) {
	base, err := s.base.FindSettlements(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []model.FlexOrderSettlement
	for _, st := range base {
		if _, ok := s.settlements[keyOf(st)]; !ok {
			out = append(out, st)
		}
	}
	for _, st := range s.settlements {
		if q.Match(st) {
			out = append(out, st.Clone())
		}
	}
	SortSettlements(out)
	return out, nil
}

func (s *Staging) ActiveGroups(ctx context.Context, day time.Time) ([]model.ConnectionGroup, error) {
	base, err := s.base.ActiveGroups(ctx, day)
	if err != nil || len(s.groups) == 0 {
		return base, err
	}
	byID := map[string]model.ConnectionGroup{}
	for _, g := range base {
		byID[g.ID] = g
	}
	for _, g := range Groups(s.groups, day) {
		byID[g.ID] = g
	}
	out := make([]model.ConnectionGroup, 0, len(byID))
	for _, g := range byID {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Staging) FindGroup(ctx context.Context, id string) (model.ConnectionGroup, error) {
	for _, g := range s.groups {
		if g.Group.ID == id {
			return g.Group, nil
		}
	}
	return s.base.FindGroup(ctx, id)
}

func (s *Staging) FindDeliveries(ctx context.Context, t model.DocumentType, seq int64) ([]model.DeliveryRecord, error) {
	out, err := s.base.FindDeliveries(ctx, t, seq)
	if err != nil {
		return nil, err
	}
	for _, r := range s.deliveries {
		if r.Type == t && r.Sequence == seq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Staging) SaveDocument(_ context.Context, d model.Document) error {
	d = d.Clone()
	s.docs[d.Key()] = d
	s.changes = append(s.changes, Change{Document: &d})
	return nil
}

func (s *Staging) UpdateStatus(ctx context.Context, k model.Key, st model.Status) error {
	d, ok := s.docs[k]
	if !ok {
		var err error
		if d, err = s.base.FindBySequence(ctx, k.Type, k.Participant, k.Sequence); err != nil {
			return err
		}
		if d.Key() != k {
			return fmt.Errorf("%s %d: %w", k.Type, k.Sequence, model.ErrNotFound)
		}
	}
	s.changes = append(s.changes, Change{Status: &StatusChange{Key: k, From: d.Status, To: st}})
	d.Status = st
	s.docs[k] = d
	return nil
}

func (s *Staging) SaveSettlement(_ context.Context, st model.FlexOrderSettlement) error {
	st = st.Clone()
	s.settlements[keyOf(st)] = st
	s.changes = append(s.changes, Change{Settlement: &st})
	return nil
}

func (s *Staging) SaveGroupState(_ context.Context, g model.GroupState) error {
	s.groups = append(s.groups, g)
	s.changes = append(s.changes, Change{GroupState: &g})
	return nil
}

func (s *Staging) SaveDelivery(_ context.Context, r model.DeliveryRecord) error {
	s.deliveries = append(s.deliveries, r)
	s.changes = append(s.changes, Change{Delivery: &r})
	return nil
}

// CheckStatuses verifies every StatusChange in changes against current,
// which returns the committed status of a key. Documents saved earlier in
// changes count as committed.
func CheckStatuses(changes []Change, current func(model.Key) (model.Status, error)) error {
	staged := map[model.Key]model.Status{}
	for _, c := range changes {
		switch {
		case c.Document != nil:
			staged[c.Document.Key()] = c.Document.Status
		case c.Status != nil:
			st, ok := staged[c.Status.Key]
			if !ok {
				var err error
				if st, err = current(c.Status.Key); err != nil {
					return err
				}
			}
			if st != c.Status.From {
				return fmt.Errorf("%w: %s %d is %s, expected %s", ErrConflict, c.Status.Key.Type, c.Status.Key.Sequence, st, c.Status.From)
			}
			staged[c.Status.Key] = c.Status.To
		}
	}
	return nil
}

// SortSettlements orders settlements by settlement then order sequence.
func SortSettlements(out []model.FlexOrderSettlement) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettlementSequence != out[j].SettlementSequence {
			return out[i].SettlementSequence < out[j].SettlementSequence
		}
		return out[i].OrderSequence < out[j].OrderSequence
	})
}

func keyOf(s model.FlexOrderSettlement) settlementKey {
	return settlementKey{settlement: s.SettlementSequence, order: s.OrderSequence}
}
