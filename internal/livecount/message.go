package livecount

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// Message is a decoded frame from the live-count device. It is one of
// CountMessage, ScanEvent or Unknown.
type Message interface {
	// Raw returns the frame exactly as received.
	Raw() []byte
	message()
}

// CountMessage carries the device's current occupancy. A badge scan that
// also reports the count decodes as a CountMessage with NationalID set.
type CountMessage struct {
	Count      int
	NationalID string
	Fields     map[string]any
	raw        []byte
}

// ScanEvent reports a scanned national ID without an occupancy value.
type ScanEvent struct {
	NationalID string
	Fields     map[string]any
	raw        []byte
}

// Unknown is any frame that matches no known shape: other objects, bare
// scalars, or text that is not JSON at all (Value is then the text itself).
type Unknown struct {
	Value any
	raw   []byte
}

func (m CountMessage) Raw() []byte { return m.raw }
func (m ScanEvent) Raw() []byte    { return m.raw }
func (m Unknown) Raw() []byte      { return m.raw }

func (CountMessage) message() {}
func (ScanEvent) message()    {}
func (Unknown) message()      {}

// frame is the device's object shape. Firmware versions disagree on the
// occupancy key; countKeys fixes the order they are tried in.
type frame struct {
	Contador json.RawMessage `json:"contador"`
	Count    json.RawMessage `json:"count"`
	Users    json.RawMessage `json:"users"`
	Total    json.RawMessage `json:"total"`
	DNI      json.RawMessage `json:"dni"`
}

func (f frame) countKeys() []json.RawMessage {
	return []json.RawMessage{f.Contador, f.Count, f.Users, f.Total}
}

// Decode classifies a frame. It never fails: anything that is not a known
// shape comes back as Unknown with the raw payload intact.
func Decode(data []byte) Message {
	raw := append([]byte(nil), data...)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Unknown{Value: scalar(raw), raw: raw}
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Unknown{Value: string(raw), raw: raw}
	}
	var f frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Unknown{Value: fields, raw: raw}
	}

	dni := stringField(f.DNI)
	var count int
	var ok bool
	for _, v := range f.countKeys() {
		if count, ok = countField(v); ok {
			break
		}
	}
	switch {
	case ok:
		return CountMessage{Count: count, NationalID: dni, Fields: fields, raw: raw}
	case dni != "":
		return ScanEvent{NationalID: dni, Fields: fields, raw: raw}
	default:
		return Unknown{Value: fields, raw: raw}
	}
}

// scalar decodes bare JSON values and falls back to the text itself.
func scalar(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func countField(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// some readers send the ID as a number
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
