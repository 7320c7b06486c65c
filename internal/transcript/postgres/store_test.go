package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/asrlink/internal/transcript"
	"github.com/MrWong99/asrlink/internal/transcript/postgres"
	"github.com/MrWong99/asrlink/pkg/protocol"
)

// newTestStore returns a store on a clean schema, or skips the test if
// ASRLINK_TEST_POSTGRES_DSN is not set.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("ASRLINK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ASRLINK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS transcript_sentences",
		"DROP TABLE IF EXISTS transcript_tips",
		"DROP TABLE IF EXISTS medical_records",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_Sentences(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	k := transcript.Key{RecordID: "rec-1", SessionID: "sess-a"}

	if err := s.WriteSentence(ctx, k, protocol.Sentence{
		BeginTime: 1200, EndTime: 1800, Content: "second", IsSent: true, RoleID: "doctor",
		Words: []protocol.Word{{BeginTime: 1200, EndTime: 1800, Word: "second"}},
	}); err != nil {
		t.Fatalf("WriteSentence: %v", err)
	}
	if err := s.WriteSentence(ctx, k, protocol.Sentence{BeginTime: 0, EndTime: 900, Content: "first"}); err != nil {
		t.Fatalf("WriteSentence: %v", err)
	}

	all, err := s.Sentences(ctx, "rec-1", false)
	if err != nil {
		t.Fatalf("Sentences: %v", err)
	}
	if len(all) != 2 || all[0].Content != "first" || all[1].Content != "second" {
		t.Fatalf("sentences = %+v", all)
	}
	if all[1].RoleID != "doctor" || len(all[1].Words) != 1 || all[1].Words[0].Word != "second" {
		t.Errorf("round trip lost fields: %+v", all[1])
	}
	if all[0].Words == nil || len(all[0].Words) != 0 {
		t.Errorf("nil words should come back empty, got %#v", all[0].Words)
	}

	final, err := s.Sentences(ctx, "rec-1", true)
	if err != nil {
		t.Fatalf("Sentences(final): %v", err)
	}
	if len(final) != 1 || final[0].Content != "second" {
		t.Errorf("final sentences = %+v", final)
	}
}

func TestStore_TipsAndMedicalRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	k := transcript.Key{RecordID: "rec-1", SessionID: "sess-a"}

	if err := s.WriteTips(ctx, k, []string{"a", "b"}); err != nil {
		t.Fatalf("WriteTips: %v", err)
	}
	tips, err := s.Tips(ctx, "rec-1")
	if err != nil || len(tips) != 1 || len(tips[0].Tips) != 2 {
		t.Fatalf("Tips = %+v, err = %v", tips, err)
	}

	if _, ok, err := s.MedicalRecord(ctx, "rec-1"); ok || err != nil {
		t.Fatalf("MedicalRecord before write: ok=%v err=%v", ok, err)
	}
	if err := s.PutMedicalRecord(ctx, k, map[string]string{"complaint": "cough"}); err != nil {
		t.Fatalf("PutMedicalRecord: %v", err)
	}
	k.SessionID = "sess-b"
	if err := s.PutMedicalRecord(ctx, k, map[string]string{"complaint": "fever"}); err != nil {
		t.Fatalf("PutMedicalRecord: %v", err)
	}
	rec, ok, err := s.MedicalRecord(ctx, "rec-1")
	if err != nil || !ok {
		t.Fatalf("MedicalRecord: ok=%v err=%v", ok, err)
	}
	if rec.SessionID != "sess-b" || rec.Fields["complaint"] != "fever" {
		t.Errorf("record = %+v", rec)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
