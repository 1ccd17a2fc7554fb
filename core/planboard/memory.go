package planboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/planboard/core/model"
)

type settlementKey struct {
	settlement int64
	order      int64
}

// MemoryStore is an in-process Store. Atomic callbacks run against a
// Staging without holding any lock; only the commit of their changes is
// serialized.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[model.Key]model.Document
	settlements map[settlementKey]model.FlexOrderSettlement
	groups      []model.GroupState
	deliveries  []model.DeliveryRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        map[model.Key]model.Document{},
		settlements: map[settlementKey]model.FlexOrderSettlement{},
	}
}

// Atomic runs fn against a Staging and commits its changes when fn returns
// nil. A status changed concurrently fails the commit with ErrConflict.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := NewStaging(m)
	if err := fn(st); err != nil {
		return err
	}
	return m.commit(st.Changes())
}

func (m *MemoryStore) commit(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err := CheckStatuses(changes, func(k model.Key) (model.Status, error) {
		d, ok := m.docs[k]
		if !ok {
			return "", fmt.Errorf("%s %d: %w", k.Type, k.Sequence, model.ErrNotFound)
		}
		return d.Status, nil
	})
	if err != nil {
		return err
	}
	for _, c := range changes {
		switch {
		case c.Document != nil:
			m.docs[c.Document.Key()] = *c.Document
		case c.Status != nil:
			d := m.docs[c.Status.Key]
			d.Status = c.Status.To
			m.docs[c.Status.Key] = d
		case c.Settlement != nil:
			m.settlements[keyOf(*c.Settlement)] = *c.Settlement
		case c.GroupState != nil:
			m.saveGroupState(*c.GroupState)
		case c.Delivery != nil:
			m.deliveries = append(m.deliveries, *c.Delivery)
		}
	}
	return nil
}

func (m *MemoryStore) saveGroupState(g model.GroupState) {
	for i, s := range m.groups {
		if s.Connection == g.Connection && s.Group.ID == g.Group.ID && s.ValidFrom.Equal(g.ValidFrom) {
			m.groups[i] = g
			return
		}
	}
	m.groups = append(m.groups, g)
}

func (m *MemoryStore) FindDocuments(_ context.Context, q Query) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Document
	for _, d := range m.docs {
		if q.Match(d) {
			out = append(out, d.Clone())
		}
	}
	SortDocuments(out)
	return out, nil
}

func (m *MemoryStore) FindBySequence(_ context.Context, typ model.DocumentType, participant string, seq int64) (model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if participant != "" {
		d, ok := m.docs[model.Key{Type: typ, Participant: participant, Sequence: seq}]
		if !ok {
			return model.Document{}, fmt.Errorf("%s %d from %s: %w", typ, seq, participant, model.ErrNotFound)
		}
		return d.Clone(), nil
	}
	for k, d := range m.docs {
		if k.Type == typ && k.Sequence == seq {
			return d.Clone(), nil
		}
	}
	return model.Document{}, fmt.Errorf("%s %d: %w", typ, seq, model.ErrNotFound)
}

func (m *MemoryStore) FindSettlements(_ context.Context, q SettlementQuery) ([]model.FlexOrderSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FlexOrderSettlement
	for _, s := range m.settlements {
		if q.Match(s) {
			out = append(out, s.Clone())
		}
	}
	SortSettlements(out)
	return out, nil
}

func (m *MemoryStore) ActiveGroups(_ context.Context, day time.Time) ([]model.ConnectionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Groups(m.groups, day), nil
}

func (m *MemoryStore) FindGroup(_ context.Context, id string) (model.ConnectionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.groups {
		if s.Group.ID == id {
			return s.Group, nil
		}
	}
	return model.ConnectionGroup{}, fmt.Errorf("%w: unknown connection group %s", model.ErrConfiguration, id)
}

func (m *MemoryStore) FindDeliveries(_ context.Context, typ model.DocumentType, seq int64) ([]model.DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.DeliveryRecord
	for _, r := range m.deliveries {
		if r.Type == typ && r.Sequence == seq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveDocument(ctx context.Context, d model.Document) error {
	return m.Atomic(ctx, func(tx Tx) error { return tx.SaveDocument(ctx, d) })
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, k model.Key, s model.Status) error {
	return m.Atomic(ctx, func(tx Tx) error { return tx.UpdateStatus(ctx, k, s) })
}

func (m *MemoryStore) SaveSettlement(ctx context.Context, s model.FlexOrderSettlement) error {
	return m.Atomic(ctx, func(tx Tx) error { return tx.SaveSettlement(ctx, s) })
}

func (m *MemoryStore) SaveGroupState(ctx context.Context, g model.GroupState) error {
	return m.Atomic(ctx, func(tx Tx) error { return tx.SaveGroupState(ctx, g) })
}

// SaveDelivery appends r. Delivery history only grows, so it skips staging.
func (m *MemoryStore) SaveDelivery(ctx context.Context, r model.DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.deliveries = append(m.deliveries, r)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
