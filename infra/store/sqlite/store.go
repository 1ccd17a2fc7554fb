// Package sqlite persists the planboard in a SQLite database through
// modernc.org/sqlite. Each record is kept as JSON next to the columns used
// for lookups.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/planboard/core/model"
	"github.com/kilianp07/planboard/core/planboard"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    doc_type TEXT NOT NULL,
    participant TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    period INTEGER NOT NULL,
    grp TEXT NOT NULL,
    status TEXT NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY (doc_type, participant, sequence)
);
CREATE INDEX IF NOT EXISTS documents_period ON documents (doc_type, period, grp);
CREATE TABLE IF NOT EXISTS settlements (
    settlement_sequence INTEGER NOT NULL,
    order_sequence INTEGER NOT NULL,
    participant TEXT NOT NULL,
    period INTEGER NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY (settlement_sequence, order_sequence)
);
CREATE TABLE IF NOT EXISTS group_states (
    connection TEXT NOT NULL,
    group_id TEXT NOT NULL,
    valid_from INTEGER NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY (connection, group_id, valid_from)
);
CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_type TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    record TEXT NOT NULL
);`

// Store is a planboard.Store backed by SQLite. A single connection is used,
// so commits are serialized. Atomic callbacks read through the pool and only
// hold the connection while their changes are written.
type Store struct {
	db *sql.DB
	q  queries
}

var _ planboard.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db, q: queries{db: db}}, nil
}

// Atomic runs fn against a planboard.Staging and writes its changes in one
// SQL transaction. A status changed concurrently fails with
// planboard.ErrConflict.
func (s *Store) Atomic(ctx context.Context, fn func(planboard.Tx) error) error {
	st := planboard.NewStaging(s.q)
	if err := fn(st); err != nil {
		return err
	}
	changes := st.Changes()
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := (queries{db: tx}).apply(ctx, changes); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rollback: %v (cause: %w)", rerr, err)
		}
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) FindDocuments(ctx context.Context, q planboard.Query) ([]model.Document, error) {
	return s.q.FindDocuments(ctx, q)
}

func (s *Store) FindBySequence(ctx context.Context, t model.DocumentType, participant string, seq int64) (model.Document, error) {
	return s.q.FindBySequence(ctx, t, participant, seq)
}

func (s *Store) FindSettlements(ctx context.Context, q planboard.SettlementQuery) ([]model.FlexOrderSettlement, error) {
	return s.q.FindSettlements(ctx, q)
}

func (s *Store) ActiveGroups(ctx context.Context, day time.Time) ([]model.ConnectionGroup, error) {
	return s.q.ActiveGroups(ctx, day)
}

func (s *Store) FindGroup(ctx context.Context, id string) (model.ConnectionGroup, error) {
	return s.q.FindGroup(ctx, id)
}

func (s *Store) FindDeliveries(ctx context.Context, t model.DocumentType, seq int64) ([]model.DeliveryRecord, error) {
	return s.q.FindDeliveries(ctx, t, seq)
}

func (s *Store) SaveDocument(ctx context.Context, d model.Document) error {
	return s.q.SaveDocument(ctx, d)
}

// UpdateStatus rewrites the record, so it runs in its own transaction.
func (s *Store) UpdateStatus(ctx context.Context, k model.Key, st model.Status) error {
	return s.Atomic(ctx, func(tx planboard.Tx) error { return tx.UpdateStatus(ctx, k, st) })
}

func (s *Store) SaveSettlement(ctx context.Context, st model.FlexOrderSettlement) error {
	return s.q.SaveSettlement(ctx, st)
}

func (s *Store) SaveGroupState(ctx context.Context, g model.GroupState) error {
	return s.q.SaveGroupState(ctx, g)
}

func (s *Store) SaveDelivery(ctx context.Context, r model.DeliveryRecord) error {
	return s.q.SaveDelivery(ctx, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements planboard.Tx over either the database or a transaction.
type queries struct {
	db execer
}

func (q queries) FindDocuments(ctx context.Context, pq planboard.Query) ([]model.Document, error) {
	var (
		where []string
		args  []any
	)
	if pq.Type != "" {
		where = append(where, "doc_type = ?")
		args = append(args, string(pq.Type))
	}
	if !pq.From.IsZero() {
		where = append(where, "period >= ?")
		args = append(args, pq.From.Unix())
	}
	if !pq.To.IsZero() {
		where = append(where, "period < ?")
		args = append(args, pq.To.Unix())
	}
	if pq.Group != "" {
		where = append(where, "grp = ?")
		args = append(args, pq.Group)
	}
	if pq.Participant != "" {
		where = append(where, "participant = ?")
		args = append(args, pq.Participant)
	}
	if len(pq.Statuses) > 0 {
		marks := make([]string, len(pq.Statuses))
		for i, s := range pq.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	query := `SELECT record FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sequence`
	return scanAll[model.Document](ctx, q.db, query, args...)
}

func (q queries) FindBySequence(ctx context.Context, t model.DocumentType, participant string, seq int64) (model.Document, error) {
	query := `SELECT record FROM documents WHERE doc_type = ? AND sequence = ?`
	args := []any{string(t), seq}
	if participant != "" {
		query += ` AND participant = ?`
		args = append(args, participant)
	}
	query += ` LIMIT 1`
	var d model.Document
	if err := scanOne(ctx, q.db, &d, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Document{}, fmt.Errorf("%s %d: %w", t, seq, model.ErrNotFound)
		}
		return model.Document{}, err
	}
	return d, nil
}

func (q queries) FindSettlements(ctx context.Context, sq planboard.SettlementQuery) ([]model.FlexOrderSettlement, error) {
	var (
		where = []string{"1=1"}
		args  []any
	)
	if !sq.From.IsZero() {
		where = append(where, "period >= ?")
		args = append(args, sq.From.Unix())
	}
	if !sq.To.IsZero() {
		where = append(where, "period < ?")
		args = append(args, sq.To.Unix())
	}
	if sq.Participant != "" {
		where = append(where, "participant = ?")
		args = append(args, sq.Participant)
	}
	if sq.OrderSequence != 0 {
		where = append(where, "order_sequence = ?")
		args = append(args, sq.OrderSequence)
	}
	if sq.SettlementSequence != 0 {
		where = append(where, "settlement_sequence = ?")
		args = append(args, sq.SettlementSequence)
	}
	query := `SELECT record FROM settlements WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY settlement_sequence, order_sequence`
	return scanAll[model.FlexOrderSettlement](ctx, q.db, query, args...)
}

func (q queries) ActiveGroups(ctx context.Context, day time.Time) ([]model.ConnectionGroup, error) {
	states, err := scanAll[model.GroupState](ctx, q.db, `SELECT record FROM group_states WHERE valid_from <= ?`, day.Unix())
	if err != nil {
		return nil, err
	}
	return planboard.Groups(states, day), nil
}

func (q queries) FindGroup(ctx context.Context, id string) (model.ConnectionGroup, error) {
	var g model.GroupState
	err := scanOne(ctx, q.db, &g, `SELECT record FROM group_states WHERE group_id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConnectionGroup{}, fmt.Errorf("%w: unknown connection group %s", model.ErrConfiguration, id)
	}
	if err != nil {
		return model.ConnectionGroup{}, err
	}
	return g.Group, nil
}

func (q queries) FindDeliveries(ctx context.Context, t model.DocumentType, seq int64) ([]model.DeliveryRecord, error) {
	return scanAll[model.DeliveryRecord](ctx, q.db,
		`SELECT record FROM deliveries WHERE doc_type = ? AND sequence = ? ORDER BY id`, string(t), seq)
}

func (q queries) SaveDocument(ctx context.Context, d model.Document) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO documents (doc_type, participant, sequence, period, grp, status, record)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(doc_type, participant, sequence) DO UPDATE SET
            period = excluded.period,
            grp = excluded.grp,
            status = excluded.status,
            record = excluded.record`,
		string(d.Type), d.Participant, d.Sequence, d.Period.Unix(), d.Group, string(d.Status), string(b))
	return err
}

func (q queries) UpdateStatus(ctx context.Context, k model.Key, st model.Status) error {
	d, err := q.FindBySequence(ctx, k.Type, k.Participant, k.Sequence)
	if err != nil {
		return err
	}
	d.Status = st
	return q.SaveDocument(ctx, d)
}

// apply writes changes after checking their expected statuses.
func (q queries) apply(ctx context.Context, changes []planboard.Change) error {
	err := planboard.CheckStatuses(changes, func(k model.Key) (model.Status, error) {
		var st string
		err := q.db.QueryRowContext(ctx,
			`SELECT status FROM documents WHERE doc_type = ? AND participant = ? AND sequence = ?`,
			string(k.Type), k.Participant, k.Sequence).Scan(&st)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s %d: %w", k.Type, k.Sequence, model.ErrNotFound)
		}
		return model.Status(st), err
	})
	if err != nil {
		return err
	}
	for _, c := range changes {
		switch {
		case c.Document != nil:
			err = q.SaveDocument(ctx, *c.Document)
		case c.Status != nil:
			err = q.UpdateStatus(ctx, c.Status.Key, c.Status.To)
		case c.Settlement != nil:
			err = q.SaveSettlement(ctx, *c.Settlement)
		case c.GroupState != nil:
			err = q.SaveGroupState(ctx, *c.GroupState)
		case c.Delivery != nil:
			err = q.SaveDelivery(ctx, *c.Delivery)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (q queries) SaveSettlement(ctx context.Context, s model.FlexOrderSettlement) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO settlements (settlement_sequence, order_sequence, participant, period, record)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(settlement_sequence, order_sequence) DO UPDATE SET
            participant = excluded.participant,
            period = excluded.period,
            record = excluded.record`,
		s.SettlementSequence, s.OrderSequence, s.Participant, s.Period.Unix(), string(b))
	return err
}

func (q queries) SaveGroupState(ctx context.Context, g model.GroupState) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO group_states (connection, group_id, valid_from, record)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(connection, group_id, valid_from) DO UPDATE SET record = excluded.record`,
		g.Connection, g.Group.ID, g.ValidFrom.Unix(), string(b))
	return err
}

func (q queries) SaveDelivery(ctx context.Context, r model.DeliveryRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO deliveries (doc_type, sequence, record) VALUES (?, ?, ?)`,
		string(r.Type), r.Sequence, string(b))
	return err
}

func scanOne(ctx context.Context, db execer, out any, query string, args ...any) error {
	var data string
	if err := db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

func scanAll[T any](ctx context.Context, db execer, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
