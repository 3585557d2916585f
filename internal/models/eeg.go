package models

import "time"

// EEGRecording is one channel's retained samples from a finished session.
type EEGRecording struct {
	SessionID  string    `bson:"session_id" json:"session_id"`
	Channel    string    `bson:"channel" json:"channel"`
	SampleRate int       `bson:"sample_rate" json:"sample_rate"`
	Samples    []float64 `bson:"samples" json:"samples"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}
