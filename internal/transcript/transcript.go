// Package transcript persists the results of recognition sessions: recognised
// sentences, live tips and the structured medical record, keyed by the record
// they belong to.
//
// [MemStore] keeps everything in process memory. The postgres subpackage
// provides a durable [Store] backed by PostgreSQL.
package transcript

import (
	"context"
	"time"

	"github.com/MrWong99/asrlink/pkg/protocol"
)

// Key identifies the session a result was received in.
type Key struct {
	// RecordID is the caller-supplied record the session streams audio for.
	// Several sessions may share one record.
	RecordID string

	// SessionID is the unique ID of a single session.
	SessionID string
}

// Sentence is a stored recognised sentence.
type Sentence struct {
	Key
	protocol.Sentence
	ReceivedAt time.Time
}

// Tips is one stored tips event.
type Tips struct {
	Key
	Tips       []string
	ReceivedAt time.Time
}

// MedicalRecord is the latest structured record for a record ID. Each event
// replaces the previous fields.
type MedicalRecord struct {
	Key
	Fields    map[string]string
	UpdatedAt time.Time
}

// Store persists session results. Implementations must be safe for
// concurrent use.
type Store interface {
	// WriteSentence appends a recognised sentence.
	WriteSentence(ctx context.Context, key Key, s protocol.Sentence) error

	// WriteTips appends a tips event.
	WriteTips(ctx context.Context, key Key, tips []string) error

	// PutMedicalRecord replaces the medical record of key.RecordID.
	PutMedicalRecord(ctx context.Context, key Key, fields map[string]string) error

	// Sentences returns all sentences of recordID ordered by begin time, then
	// by arrival. With finalOnly set, sentences whose is_sent flag is false are
	// skipped.
	Sentences(ctx context.Context, recordID string, finalOnly bool) ([]Sentence, error)

	// Tips returns all tips events of recordID in arrival order.
	Tips(ctx context.Context, recordID string) ([]Tips, error)

	// MedicalRecord returns the medical record of recordID, or ok=false if
	// none has been received.
	MedicalRecord(ctx context.Context, recordID string) (rec MedicalRecord, ok bool, err error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
