package transcript_test

import (
	"context"
	"testing"

	"github.com/MrWong99/asrlink/internal/transcript"
	"github.com/MrWong99/asrlink/pkg/protocol"
)

func TestMemStore_Sentences(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := transcript.NewMemStore()
	k1 := transcript.Key{RecordID: "rec-1", SessionID: "a"}
	k2 := transcript.Key{RecordID: "rec-1", SessionID: "b"}

	words := []protocol.Word{{BeginTime: 1200, EndTime: 1500, Word: "later"}}
	mustWrite(t, s.WriteSentence(ctx, k1, protocol.Sentence{BeginTime: 1200, Content: "later", IsSent: true, Words: words}))
	mustWrite(t, s.WriteSentence(ctx, k1, protocol.Sentence{BeginTime: 0, Content: "interim"}))
	mustWrite(t, s.WriteSentence(ctx, k2, protocol.Sentence{BeginTime: 0, Content: "first", IsSent: true}))
	mustWrite(t, s.WriteSentence(ctx, transcript.Key{RecordID: "other"}, protocol.Sentence{Content: "x"}))
	words[0].Word = "mutated"

	all, err := s.Sentences(ctx, "rec-1", false)
	if err != nil {
		t.Fatalf("Sentences: %v", err)
	}
	got := contents(all)
	want := []string{"interim", "first", "later"}
	if !equal(got, want) {
		t.Errorf("all sentences = %v, want %v", got, want)
	}
	if all[2].Words[0].Word != "later" {
		t.Errorf("stored words alias caller slice: %q", all[2].Words[0].Word)
	}
	if all[1].SessionID != "b" || all[1].ReceivedAt.IsZero() {
		t.Errorf("sentence key/time = %+v", all[1])
	}

	final, _ := s.Sentences(ctx, "rec-1", true)
	if got := contents(final); !equal(got, []string{"first", "later"}) {
		t.Errorf("final sentences = %v", got)
	}
}

func TestMemStore_TipsAndRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := transcript.NewMemStore()
	k := transcript.Key{RecordID: "rec-1", SessionID: "a"}

	if _, ok, _ := s.MedicalRecord(ctx, "rec-1"); ok {
		t.Fatal("medical record present before any write")
	}

	mustWrite(t, s.WriteTips(ctx, k, []string{"ask about allergies"}))
	mustWrite(t, s.WriteTips(ctx, k, []string{"check dosage", "confirm date"}))
	mustWrite(t, s.PutMedicalRecord(ctx, k, map[string]string{"complaint": "cough"}))
	fields := map[string]string{"complaint": "cough", "duration": "3 days"}
	mustWrite(t, s.PutMedicalRecord(ctx, k, fields))
	fields["duration"] = "mutated"

	tips, _ := s.Tips(ctx, "rec-1")
	if len(tips) != 2 || tips[1].Tips[1] != "confirm date" {
		t.Errorf("tips = %+v", tips)
	}

	rec, ok, err := s.MedicalRecord(ctx, "rec-1")
	if err != nil || !ok {
		t.Fatalf("MedicalRecord: ok=%v err=%v", ok, err)
	}
	if len(rec.Fields) != 2 || rec.Fields["duration"] != "3 days" {
		t.Errorf("record = %v", rec.Fields)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func mustWrite(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
}

func contents(ss []transcript.Sentence) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Content
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
