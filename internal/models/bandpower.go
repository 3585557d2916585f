package models

import "time"

// BandPowerSnapshot holds relative power per EEG band. Fractions are
// non-negative and sum to 1, or are all zero for a degenerate epoch.
type BandPowerSnapshot struct {
	Delta float64 `json:"delta" bson:"delta"`
	Theta float64 `json:"theta" bson:"theta"`
	Alpha float64 `json:"alpha" bson:"alpha"`
	Beta  float64 `json:"beta" bson:"beta"`
	Gamma float64 `json:"gamma" bson:"gamma"`

	ComputedAt time.Time `json:"computed_at" bson:"computed_at"`
}

func (s BandPowerSnapshot) Sum() float64 {
	return s.Delta + s.Theta + s.Alpha + s.Beta + s.Gamma
}

func (s BandPowerSnapshot) Fractions() [5]float64 {
	return [5]float64{s.Delta, s.Theta, s.Alpha, s.Beta, s.Gamma}
}
