// Package postgres provides a PostgreSQL-backed [transcript.Store].
//
// The schema is created on [NewStore] through [Migrate]:
//
//   - transcript_sentences: one row per recognised sentence
//   - transcript_tips: one row per tips event
//   - medical_records: the latest medical record per record ID
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/asrlink/internal/transcript"
	"github.com/MrWong99/asrlink/pkg/protocol"
)

var _ transcript.Store = (*Store)(nil)

// Store is a [transcript.Store] over a [pgxpool.Pool]. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and migrates the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// WriteSentence implements [transcript.Store].
func (s *Store) WriteSentence(ctx context.Context, key transcript.Key, sent protocol.Sentence) error {
	words := sent.Words
	if words == nil {
		words = []protocol.Word{}
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("transcript postgres: encode words: %w", err)
	}

	const q = `
		INSERT INTO transcript_sentences
		    (record_id, session_id, begin_time, end_time, content, is_sent, role_id, words)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, q,
		key.RecordID, key.SessionID,
		sent.BeginTime, sent.EndTime, sent.Content, sent.IsSent, sent.RoleID,
		wordsJSON,
	); err != nil {
		return fmt.Errorf("transcript postgres: write sentence: %w", err)
	}
	return nil
}

// WriteTips implements [transcript.Store].
func (s *Store) WriteTips(ctx context.Context, key transcript.Key, tips []string) error {
	if tips == nil {
		tips = []string{}
	}
	const q = `INSERT INTO transcript_tips (record_id, session_id, tips) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, key.RecordID, key.SessionID, tips); err != nil {
		return fmt.Errorf("transcript postgres: write tips: %w", err)
	}
	return nil
}

// PutMedicalRecord implements [transcript.Store].
func (s *Store) PutMedicalRecord(ctx context.Context, key transcript.Key, fields map[string]string) error {
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("transcript postgres: encode medical record: %w", err)
	}
	const q = `
		INSERT INTO medical_records (record_id, session_id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (record_id) DO UPDATE
		    SET session_id = EXCLUDED.session_id,
		        fields     = EXCLUDED.fields,
		        updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, key.RecordID, key.SessionID, fieldsJSON); err != nil {
		return fmt.Errorf("transcript postgres: put medical record: %w", err)
	}
	return nil
}

// Sentences implements [transcript.Store].
func (s *Store) Sentences(ctx context.Context, recordID string, finalOnly bool) ([]transcript.Sentence, error) {
	const q = `
		SELECT record_id, session_id, begin_time, end_time, content, is_sent, role_id, words, received_at
		FROM   transcript_sentences
		WHERE  record_id = $1
		  AND  (NOT $2 OR is_sent)
		ORDER  BY begin_time, id`
	rows, err := s.pool.Query(ctx, q, recordID, finalOnly)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: sentences: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Sentence, error) {
		var (
			st    transcript.Sentence
			words []byte
		)
		if err := row.Scan(
			&st.RecordID, &st.SessionID,
			&st.BeginTime, &st.EndTime, &st.Content, &st.IsSent, &st.RoleID,
			&words, &st.ReceivedAt,
		); err != nil {
			return st, err
		}
		if err := json.Unmarshal(words, &st.Words); err != nil {
			return st, fmt.Errorf("decode words: %w", err)
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: sentences: %w", err)
	}
	return out, nil
}

// Tips implements [transcript.Store].
func (s *Store) Tips(ctx context.Context, recordID string) ([]transcript.Tips, error) {
	const q = `
		SELECT record_id, session_id, tips, received_at
		FROM   transcript_tips
		WHERE  record_id = $1
		ORDER  BY id`
	rows, err := s.pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: tips: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Tips, error) {
		var t transcript.Tips
		err := row.Scan(&t.RecordID, &t.SessionID, &t.Tips, &t.ReceivedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: tips: %w", err)
	}
	return out, nil
}

// MedicalRecord implements [transcript.Store].
func (s *Store) MedicalRecord(ctx context.Context, recordID string) (transcript.MedicalRecord, bool, error) {
	const q = `
		SELECT record_id, session_id, fields, updated_at
		FROM   medical_records
		WHERE  record_id = $1`
	var (
		rec    transcript.MedicalRecord
		fields []byte
		at     time.Time
	)
	err := s.pool.QueryRow(ctx, q, recordID).Scan(&rec.RecordID, &rec.SessionID, &fields, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("transcript postgres: medical record: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return rec, false, fmt.Errorf("transcript postgres: decode medical record: %w", err)
	}
	rec.UpdatedAt = at
	return rec, true, nil
}

// Ping implements [transcript.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [transcript.Store].
func (s *Store) Close() {
	s.pool.Close()
}
