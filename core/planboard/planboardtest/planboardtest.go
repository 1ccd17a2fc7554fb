// Package planboardtest holds the behaviour every planboard.Store must share.
package planboardtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
)

var (
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

// Run exercises a fresh store built by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) planboard.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s planboard.Store)
	}{
		{"documents", testDocuments},
		{"find by sequence", testFindBySequence},
		{"update status", testUpdateStatus},
		{"atomic rollback", testAtomicRollback},
		{"read your writes", testReadYourWrites},
		{"status conflict", testStatusConflict},
		{"overlapping transactions", testOverlappingTransactions},
		{"settlements", testSettlements},
		{"groups", testGroups},
		{"deliveries", testDeliveries},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			defer func() { _ = s.Close() }()
			c.fn(t, s)
		})
	}
}

func doc(typ model.DocumentType, seq int64, period time.Time, group string, st model.Status) model.Document {
	return model.Document{
		Type:           typ,
		Sequence:       seq,
		Period:         period,
		Group:          group,
		Participant:    "agr.example.com",
		Role:           model.RoleAGR,
		Status:         st,
		Created:        period.Add(-time.Hour),
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		Currency:       "EUR",
		TimeZone:       "Europe/Amsterdam",
		PTUDuration:    15,
		PTUs: []model.PTU{
			{Index: 1, Power: 100, Price: decimal.RequireFromString("1.25")},
			{Index: 2, Power: -50, Price: decimal.Zero},
		},
	}
}

func testDocuments(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, doc(model.TypePrognosis, 3, day1, "ean.1", model.StatusSent)))
	require.NoError(t, s.SaveDocument(ctx, doc(model.TypePrognosis, 1, day1, "ean.1", model.StatusArchived)))
	require.NoError(t, s.SaveDocument(ctx, doc(model.TypePrognosis, 2, day2, "ean.1", model.StatusSent)))
	require.NoError(t, s.SaveDocument(ctx, doc(model.TypeFlexRequest, 4, day1, "ean.2", model.StatusSent)))

	got, err := s.FindDocuments(ctx, planboard.Query{Type: model.TypePrognosis, From: day1, To: day2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Sequence, "ordered by sequence")
	assert.Equal(t, int64(3), got[1].Sequence)
	assert.True(t, got[1].PTUs[0].Price.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, got[1].Period.Equal(day1))

	got, err = s.FindDocuments(ctx, planboard.Query{Type: model.TypePrognosis, Statuses: []model.Status{model.StatusSent}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.FindDocuments(ctx, planboard.Query{Group: "ean.2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TypeFlexRequest, got[0].Type)
}

func testFindBySequence(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	d := doc(model.TypeFlexOffer, 42, day1, "ean.1", model.StatusReceived)
	d.OriginSequence = 7
	d.Expires = day1.Add(12 * time.Hour)
	require.NoError(t, s.SaveDocument(ctx, d))

	got, err := s.FindBySequence(ctx, model.TypeFlexOffer, "agr.example.com", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.OriginSequence)
	assert.True(t, got.Expires.Equal(d.Expires))
	assert.Len(t, got.PTUs, 2)

	_, err = s.FindBySequence(ctx, model.TypeFlexOffer, "", 42)
	require.NoError(t, err)

	_, err = s.FindBySequence(ctx, model.TypeFlexOrder, "", 42)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = s.FindBySequence(ctx, model.TypeFlexOffer, "other.example.com", 42)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func testUpdateStatus(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	d := doc(model.TypeFlexOrder, 9, day1, "ean.1", model.StatusSent)
	require.NoError(t, s.SaveDocument(ctx, d))
	require.NoError(t, s.UpdateStatus(ctx, d.Key(), model.StatusAccepted))
	got, err := s.FindBySequence(ctx, model.TypeFlexOrder, d.Participant, 9)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)

	err = s.UpdateStatus(ctx, model.Key{Type: model.TypeFlexOrder, Participant: "x", Sequence: 1}, model.StatusAccepted)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func testAtomicRollback(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx planboard.Tx) error {
		if err := tx.SaveDocument(ctx, doc(model.TypeFlexOrder, 1, day1, "ean.1", model.StatusSent)); err != nil {
			return err
		}
		if err := tx.SaveSettlement(ctx, model.FlexOrderSettlement{SettlementSequence: 2, OrderSequence: 1, Period: day1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	docs, err := s.FindDocuments(ctx, planboard.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
	sets, err := s.FindSettlements(ctx, planboard.SettlementQuery{})
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func testReadYourWrites(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	err := s.Atomic(ctx, func(tx planboard.Tx) error {
		d := doc(model.TypeFlexRequest, 5, day1, "ean.1", model.StatusSent)
		if err := tx.SaveDocument(ctx, d); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, d.Key(), model.StatusReceivedOffer); err != nil {
			return err
		}
		got, err := tx.FindBySequence(ctx, model.TypeFlexRequest, d.Participant, 5)
		if err != nil {
			return err
		}
		assert.Equal(t, model.StatusReceivedOffer, got.Status)
		docs, err := tx.FindDocuments(ctx, planboard.Query{Statuses: []model.Status{model.StatusReceivedOffer}})
		if err != nil {
			return err
		}
		assert.Len(t, docs, 1)
		return nil
	})
	require.NoError(t, err)
}

func testStatusConflict(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	d := doc(model.TypeFlexOrder, 11, day1, "ean.1", model.StatusSent)
	require.NoError(t, s.SaveDocument(ctx, d))

	err := s.Atomic(ctx, func(tx planboard.Tx) error {
		if err := tx.UpdateStatus(ctx, d.Key(), model.StatusAccepted); err != nil {
			return err
		}
		return s.UpdateStatus(ctx, d.Key(), model.StatusRejected)
	})
	require.ErrorIs(t, err, planboard.ErrConflict)

	got, err := s.FindBySequence(ctx, model.TypeFlexOrder, d.Participant, 11)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status, "first commit wins")
}

func testOverlappingTransactions(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	err := s.Atomic(ctx, func(tx planboard.Tx) error {
		if err := tx.SaveDocument(ctx, doc(model.TypePrognosis, 20, day1, "ean.1", model.StatusSent)); err != nil {
			return err
		}
		return s.Atomic(ctx, func(inner planboard.Tx) error {
			got, err := inner.FindDocuments(ctx, planboard.Query{Group: "ean.1"})
			if err != nil {
				return err
			}
			assert.Empty(t, got, "uncommitted writes stay private")
			return inner.SaveDocument(ctx, doc(model.TypePrognosis, 21, day1, "ean.2", model.StatusSent))
		})
	})
	require.NoError(t, err)

	got, err := s.FindDocuments(ctx, planboard.Query{Type: model.TypePrognosis})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].Sequence)
}

func testSettlements(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	set := model.FlexOrderSettlement{
		SettlementSequence: 100,
		OrderSequence:      9,
		Participant:        "agr.example.com",
		Period:             day1,
		Group:              "ean.1",
		Disposition:        model.DispositionDisputed,
		Lines: []model.SettlementLine{
			{Index: 1, Ordered: 10, Delivered: 5, PowerDeficiency: 5, Price: decimal.NewFromInt(10), Penalty: decimal.RequireFromString("2.5"), Disposition: model.DispositionDisputed},
			{Index: 2, Ordered: 10, Delivered: 10, Price: decimal.NewFromInt(10), Penalty: decimal.Zero, Disposition: model.DispositionAccepted},
		},
	}
	require.NoError(t, s.SaveSettlement(ctx, set))
	set.Confirmed = true
	require.NoError(t, s.SaveSettlement(ctx, set))

	got, err := s.FindSettlements(ctx, planboard.SettlementQuery{OrderSequence: 9})
	require.NoError(t, err)
	require.Len(t, got, 1, "same settlement and order replaces")
	assert.True(t, got[0].Confirmed)
	require.Len(t, got[0].Lines, 2)
	assert.Equal(t, int64(5), got[0].Lines[0].PowerDeficiency)
	assert.True(t, got[0].Penalty().Equal(decimal.RequireFromString("2.5")))

	got, err = s.FindSettlements(ctx, planboard.SettlementQuery{From: day2})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testGroups(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	cp := model.ConnectionGroup{ID: "ean.1", Kind: model.GroupCongestionPoint, Participant: "dso.example.com"}
	brp := model.ConnectionGroup{ID: "brp.example.com", Kind: model.GroupBRP, Participant: "brp.example.com"}
	require.NoError(t, s.SaveGroupState(ctx, model.GroupState{Connection: "ean.100", Group: cp, ValidFrom: day1}))
	require.NoError(t, s.SaveGroupState(ctx, model.GroupState{Connection: "ean.101", Group: cp, ValidFrom: day1}))
	require.NoError(t, s.SaveGroupState(ctx, model.GroupState{Connection: "ean.100", Group: brp, ValidFrom: day1, ValidUntil: day2}))

	got, err := s.ActiveGroups(ctx, day1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "brp.example.com", got[0].ID)
	assert.Equal(t, cp, got[1])

	got, err = s.ActiveGroups(ctx, day2)
	require.NoError(t, err)
	assert.Equal(t, []model.ConnectionGroup{cp}, got)

	g, err := s.FindGroup(ctx, "brp.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.GroupBRP, g.Kind)
	_, err = s.FindGroup(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func testDeliveries(t *testing.T, s planboard.Store) {
	ctx := context.Background()
	now := day1.Add(time.Hour)
	require.NoError(t, s.SaveDelivery(ctx, model.DeliveryRecord{MessageID: "m1", Type: model.TypeFlexOrder, Sequence: 9, Destination: "agr.example.com", Attempts: 3, Status: model.DeliveryFailed, LastError: "503", Time: now}))
	require.NoError(t, s.SaveDelivery(ctx, model.DeliveryRecord{MessageID: "m2", Type: model.TypeFlexOrder, Sequence: 9, Destination: "agr.example.com", Attempts: 1, Status: model.DeliveryDelivered, Time: now}))
	got, err := s.FindDeliveries(ctx, model.TypeFlexOrder, 9)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.DeliveryFailed, got[0].Status)
	assert.Equal(t, 3, got[0].Attempts)
	assert.True(t, got[0].Time.Equal(now))
}
