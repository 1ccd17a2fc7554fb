package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilianp07/planboard/core/model"

	"github.com/kilianp07/planboard/core/planboard"
	"github.com/kilianp07/planboard/core/planboard/planboardtest"
)

var dbCounter atomic.Int64

func TestStoreMemory(t *testing.T) {
	planboardtest.Run(t, func(t *testing.T) planboard.Store {
		dsn := fmt.Sprintf("file:planboard%d?mode=memory&cache=shared", dbCounter.Add(1))
		s, err := Open(dsn)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planboard.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	doc := model.Document{
		Type:        model.TypePrognosis,
		Sequence:    1700000000001,
		Period:      time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Group:       "brp.example.com",
		Participant: "brp.example.com",
		Status:      model.StatusSent,
		PTUDuration: 15,
		PTUs:        []model.PTU{{Index: 1, Power: 10}, {Index: 2, Power: 20}},
	}
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, err := s.FindBySequence(ctx, doc.Type, doc.Participant, doc.Sequence)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != doc.Status || len(got.PTUs) != len(doc.PTUs) {
		t.Fatalf("unexpected document %+v", got)
	}
}
