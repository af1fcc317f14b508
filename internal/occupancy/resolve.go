package occupancy

import "gymaccess/internal/livecount"

// Source names where an occupancy value came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceAggregate Source = "aggregate"
)

// Reading is a resolved occupancy value.
type Reading struct {
	Value  int    `json:"value"`
	Source Source `json:"source"`
}

// Resolve picks the number of people currently inside. A live count message
// is authoritative; anything else (no message yet, a scan event, an
// unrecognised frame) falls back to the present-today count.
func Resolve(latest livecount.Message, presentToday int) Reading {
	if c, ok := latest.(livecount.CountMessage); ok {
		return Reading{Value: c.Count, Source: SourceLive}
	}
	return Reading{Value: presentToday, Source: SourceAggregate}
}
