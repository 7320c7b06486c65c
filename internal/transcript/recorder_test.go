package transcript_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/asrlink/internal/transcript"
	"github.com/MrWong99/asrlink/pkg/protocol"
)

func TestRecorder_WritesInOrder(t *testing.T) {
	t.Parallel()
	store := transcript.NewMemStore()
	r := transcript.NewRecorder(store, transcript.Key{RecordID: "rec-1", SessionID: "s"})

	r.Sentence(protocol.Sentence{BeginTime: 0, Content: "hello", IsSent: true})
	r.Tips([]string{"tip"})
	r.MedicalRecord(map[string]string{"k": "v"})
	r.Close()

	ctx := context.Background()
	ss, _ := store.Sentences(ctx, "rec-1", false)
	if len(ss) != 1 || ss[0].Content != "hello" || ss[0].SessionID != "s" {
		t.Errorf("sentences = %+v", ss)
	}
	tips, _ := store.Tips(ctx, "rec-1")
	if len(tips) != 1 {
		t.Errorf("tips = %+v", tips)
	}
	if rec, ok, _ := store.MedicalRecord(ctx, "rec-1"); !ok || rec.Fields["k"] != "v" {
		t.Errorf("record = %+v ok=%v", rec, ok)
	}
}

type failingStore struct {
	*transcript.MemStore
	calls int
}

func (f *failingStore) WriteSentence(context.Context, transcript.Key, protocol.Sentence) error {
	f.calls++
	return errors.New("db down")
}

func TestRecorder_FailureDoesNotStopLaterWrites(t *testing.T) {
	t.Parallel()
	store := &failingStore{MemStore: transcript.NewMemStore()}
	r := transcript.NewRecorder(store, transcript.Key{RecordID: "rec-1"})

	r.Sentence(protocol.Sentence{Content: "lost"})
	r.Tips([]string{"kept"})
	r.Close()
	r.Sentence(protocol.Sentence{Content: "after close"})
	r.Close()

	if store.calls != 1 {
		t.Errorf("WriteSentence calls = %d, want 1", store.calls)
	}
	tips, _ := store.Tips(context.Background(), "rec-1")
	if len(tips) != 1 {
		t.Errorf("tips = %+v, want the write after the failure", tips)
	}
}
