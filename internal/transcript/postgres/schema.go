package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSentences = `
CREATE TABLE IF NOT EXISTS transcript_sentences (
    id           BIGSERIAL         PRIMARY KEY,
    record_id    TEXT              NOT NULL,
    session_id   TEXT              NOT NULL,
    begin_time   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    end_time     DOUBLE PRECISION  NOT NULL DEFAULT 0,
    content      TEXT              NOT NULL,
    is_sent      BOOLEAN           NOT NULL DEFAULT false,
    role_id      TEXT              NOT NULL DEFAULT '',
    words        JSONB             NOT NULL DEFAULT '[]',
    received_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_sentences_record
    ON transcript_sentences (record_id, begin_time, id);
`

const ddlTips = `
CREATE TABLE IF NOT EXISTS transcript_tips (
    id           BIGSERIAL    PRIMARY KEY,
    record_id    TEXT         NOT NULL,
    session_id   TEXT         NOT NULL,
    tips         TEXT[]       NOT NULL,
    received_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_tips_record
    ON transcript_tips (record_id, id);
`

const ddlMedicalRecords = `
CREATE TABLE IF NOT EXISTS medical_records (
    record_id   TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    fields      JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the transcript tables and indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{"sentences", ddlSentences},
		{"tips", ddlTips},
		{"medical records", ddlMedicalRecords},
	} {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
