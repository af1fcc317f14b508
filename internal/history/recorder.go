package history

import (
	"context"
	"encoding/json"
	"log"

	"gymaccess/internal/occupancy"
	"gymaccess/internal/queue"
)

// Store is what the recorder writes to. Implemented by *Repository.
type Store interface {
	InsertSample(ctx context.Context, s Sample) (Sample, error)
}

// Recorder turns queued snapshots into history samples.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder.
func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s}
}

// Run consumes q until ctx is done or the queue closes.
func (r *Recorder) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Printf("history recorder started")
	for msg := range msgs {
		r.Handle(ctx, msg)
	}
	return nil
}

// Handle records a single message. Messages of other types and malformed
// bodies are logged and skipped.
func (r *Recorder) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeSnapshot {
		log.Printf("warning: unexpected message type %q", msg.Type)
		return
	}
	var snap occupancy.Snapshot
	if err := json.Unmarshal(msg.Body, &snap); err != nil {
		log.Printf("warning: bad snapshot body: %v", err)
		return
	}
	if _, err := r.store.InsertSample(ctx, SampleFrom(snap)); err != nil {
		log.Printf("warning: failed to record snapshot %s: %v", snap.ID, err)
	}
}

// SampleFrom keeps the scalar fields of a snapshot.
func SampleFrom(s occupancy.Snapshot) Sample {
	return Sample{
		ID:              s.ID,
		TakenAt:         s.RefreshedAt,
		Occupancy:       s.Occupancy,
		Source:          string(s.Source),
		LiveState:       s.LiveState,
		PresentToday:    s.PresentToday,
		TotalRegistered: s.TotalRegistered,
	}
}
