package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/asrlink/pkg/protocol"
)

const (
	recorderQueue   = 256
	recorderTimeout = 5 * time.Second
)

// Recorder writes the results of one session to a [Store] from a background
// goroutine, so session callbacks never wait on storage. Writes that fail are
// logged and discarded.
type Recorder struct {
	store Store
	key   Key

	mu     sync.Mutex
	closed bool
	queue  chan func(context.Context) error
	done   chan struct{}
}

// NewRecorder starts a recorder for the session identified by key.
func NewRecorder(store Store, key Key) *Recorder {
	r := &Recorder{
		store: store,
		key:   key,
		queue: make(chan func(context.Context) error, recorderQueue),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Sentence queues a recognised sentence.
func (r *Recorder) Sentence(s protocol.Sentence) {
	r.enqueue("sentence", func(ctx context.Context) error {
		return r.store.WriteSentence(ctx, r.key, s)
	})
}

// Tips queues a tips event.
func (r *Recorder) Tips(tips []string) {
	r.enqueue("tips", func(ctx context.Context) error {
		return r.store.WriteTips(ctx, r.key, tips)
	})
}

// MedicalRecord queues a medical record update.
func (r *Recorder) MedicalRecord(fields map[string]string) {
	r.enqueue("medical_record", func(ctx context.Context) error {
		return r.store.PutMedicalRecord(ctx, r.key, fields)
	})
}

// Close stops accepting writes and waits until the queued ones are stored.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) enqueue(kind string, write func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- write:
	default:
		slog.Warn("transcript: write queue full, dropping result",
			"kind", kind, "record_id", r.key.RecordID, "session_id", r.key.SessionID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for write := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		if err := write(ctx); err != nil {
			slog.Error("transcript: write failed",
				"record_id", r.key.RecordID, "session_id", r.key.SessionID, "err", err)
		}
		cancel()
	}
}
