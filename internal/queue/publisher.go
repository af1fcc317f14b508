package queue

import (
	"context"
	"encoding/json"

	"gymaccess/internal/occupancy"
)

// Publisher forwards completed occupancy snapshots onto a queue.
type Publisher struct {
	Queue Queue
}

// Publish implements occupancy.Sink.
func (p Publisher) Publish(ctx context.Context, s occupancy.Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.Queue.Publish(ctx, Message{Type: TypeSnapshot, Body: body})
}
