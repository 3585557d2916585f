package models

import (
	"math"
	"strings"
	"time"
)

type Mode string

const (
	ModeOff     Mode = "off"
	ModePassive Mode = "passive"
	ModeActive  Mode = "active"
)

// Threshold is the minimum gap score that produces a probe in this mode.
// Active is strictly more sensitive than passive; off never probes.
func (m Mode) Threshold() float64 {
	switch m {
	case ModeActive:
		return 0.5
	case ModePassive:
		return 0.7
	default:
		return math.Inf(1)
	}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeOff, ModePassive, ModeActive:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyRare     Frequency = "rare"
	FrequencyBalanced Frequency = "balanced"
	FrequencyFrequent Frequency = "frequent"
)

// Interval is the observation cycle period for this frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyRare:
		return 15 * time.Second
	case FrequencyFrequent:
		return 4 * time.Second
	default:
		return 8 * time.Second
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyRare, FrequencyBalanced, FrequencyFrequent:
		return true
	}
	return false
}

// ParseMode accepts user input loosely ("Active", " passive ").
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	return f, f.Valid()
}

// ObserverConfig is the user-controlled observer state. Values are treated as
// immutable snapshots: mutators build a new one and swap it in.
type ObserverConfig struct {
	Mode       Mode       `json:"mode" bson:"mode"`
	Frequency  Frequency  `json:"frequency" bson:"frequency"`
	MutedUntil *time.Time `json:"muted_until,omitempty" bson:"muted_until,omitempty"`
}

func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{Mode: ModeActive, Frequency: FrequencyBalanced}
}

func (c ObserverConfig) Muted(now time.Time) bool {
	return c.MutedUntil != nil && now.Before(*c.MutedUntil)
}
