package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent is the JSON frame shape: {"type","id","topic","seq","timestamp","data"}.
type wireEvent struct {
	Type      Kind            `json:"type"`
	ID        string          `json:"id,omitempty"`
	Topic     string          `json:"topic"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the envelope with the payload under "data".
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Kind, ID: e.ID, Topic: e.Topic, Seq: e.Seq}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp.UTC()
		w.Timestamp = &ts
	}
	data := []byte("null")
	if p := e.Payload(); p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		data = b
	}
	w.Data = data
	return json.Marshal(w)
}

// UnmarshalJSON decodes a frame. Unknown kinds are rejected; payload content
// is not validated here.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Event{ID: w.ID, Kind: w.Type, Topic: w.Topic, Seq: w.Seq}
	if w.Timestamp != nil {
		out.Timestamp = *w.Timestamp
	}

	var target Payload
	switch w.Type {
	case KindScoreUpdate:
		target = &ScoreUpdate{}
	case KindEpisodeEvent:
		target = &EpisodeEvent{}
	case KindPredictionUpdate:
		target = &PredictionUpdate{}
	case KindLeaderboardUpdate:
		target = &LeaderboardUpdate{}
	case KindFriendActivity:
		target = &FriendActivity{}
	case KindLiveStats:
		target = &LiveStats{}
	default:
		return invalid("type", "unknown kind "+string(w.Type))
	}

	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, target); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		out = New(out.Topic, target).withEnvelope(out.ID, out.Seq, out.Timestamp)
	}
	*e = out
	return nil
}

func (e Event) withEnvelope(id string, seq uint64, ts time.Time) Event {
	e.ID = id
	e.Seq = seq
	e.Timestamp = ts
	return e
}
