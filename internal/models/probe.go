package models

import "time"

// Probe is a follow-up question raised when a cycle's gap score crossed the
// mode threshold. Immutable once created.
type Probe struct {
	ID string `json:"id" bson:"id"`
	// OffsetMS is milliseconds since recording start.
	OffsetMS  int64     `json:"offset_ms" bson:"offset_ms"`
	GapScore  float64   `json:"gap_score" bson:"gap_score"`
	Signals   []string  `json:"signals" bson:"signals"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

func (p Probe) Offset() time.Duration {
	return time.Duration(p.OffsetMS) * time.Millisecond
}

// EndSuggestion is a user-confirmable recommendation to finish the session.
type EndSuggestion struct {
	Reason     string    `json:"reason" bson:"reason"`
	ProbeCount int       `json:"probe_count" bson:"probe_count"`
	At         time.Time `json:"at" bson:"at"`
}
