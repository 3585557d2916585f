package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	Problem   string             `bson:"problem" json:"problem"`
	Status    string             `bson:"status" json:"status"` // recording|ended

	Observer ObserverConfig `bson:"observer" json:"observer"`
	Probes   []Probe        `bson:"probes" json:"probes"`

	EndSuggestion *EndSuggestion `bson:"end_suggestion,omitempty" json:"end_suggestion,omitempty"`

	// EEG is optional; empty when no headband was paired.
	DeviceName string             `bson:"device_name,omitempty" json:"device_name,omitempty"`
	BandPower  *BandPowerSnapshot `bson:"band_power,omitempty" json:"band_power,omitempty"`

	// Set once the archive is uploaded; Transcript arrives later from the
	// transcript worker.
	AudioURL    string `bson:"audio_url,omitempty" json:"audio_url,omitempty"`
	AudioObject string `bson:"audio_object,omitempty" json:"-"`
	Transcript  string `bson:"transcript,omitempty" json:"transcript,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
}

const (
	SessionRecording = "recording"
	SessionEnded     = "ended"
)

// SessionArtifacts is everything a finished session hands to external storage.
type SessionArtifacts struct {
	Session *Session `json:"session"`

	Audio       []byte `json:"-"`
	AudioFormat string `json:"audio_format"`
	AudioURL    string `json:"audio_url,omitempty"`

	// channel -> µV samples retained at stop time
	EEGSamples map[string][]float64 `json:"eeg_samples,omitempty"`
}
