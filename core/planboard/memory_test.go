package planboard_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/planboard/planboardtest"
)

func TestMemoryStore(t *testing.T) {
	planboardtest.Run(t, func(t *testing.T) planboard.Store {
		return planboard.NewMemoryStore()
	})
}

// Transactions must not copy the delivery history.
func TestMemoryStoreCommitIgnoresHistorySize(t *testing.T) {
	ctx := context.Background()
	s := planboard.NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 100_000; i++ {
		require.NoError(t, s.SaveDelivery(ctx, model.DeliveryRecord{
			MessageID: "m", Type: model.TypePrognosis, Sequence: int64(i), Destination: "dso.example.com",
			Attempts: 1, Status: model.DeliveryDelivered, Time: now,
		}))
	}
	d := model.Document{Type: model.TypeFlexOrder, Sequence: 1, Participant: "agr.example.com", Status: model.StatusSent}
	require.NoError(t, s.SaveDocument(ctx, d))

	statuses := []model.Status{model.StatusAccepted, model.StatusSent}
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.UpdateStatus(ctx, d.Key(), statuses[i%2]))
	}
	runtime.ReadMemStats(&after)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}
