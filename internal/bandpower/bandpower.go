// Package bandpower estimates relative EEG band power over a one-second epoch
// of two channels.
package bandpower

import (
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/window"

	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

const (
	SampleRate = 256
	EpochSize  = 256 // one second at SampleRate
)

// Band is a named frequency range in Hz.
type Band struct {
	Name      string
	Low, High float64
}

var Bands = [5]Band{
	{"delta", 1, 4},
	{"theta", 4, 8},
	{"alpha", 8, 13},
	{"beta", 13, 30},
	{"gamma", 30, 44},
}

// Compute returns the normalized band powers of the two channels averaged.
// Each epoch must hold at least EpochSize samples; the latest EpochSize are
// used. Shorter epochs are rejected rather than zero-padded because padding
// inflates the low-frequency bins.
func Compute(ch1, ch2 []float64) (models.BandPowerSnapshot, error) {
	const op = "bandpower.Compute"

	if len(ch1) < EpochSize || len(ch2) < EpochSize {
		return models.BandPowerSnapshot{}, utils.E(utils.CodeInsufficientSamples, op, "epoch shorter than 256 samples", nil)
	}

	p1 := channelPowers(ch1[len(ch1)-EpochSize:])
	p2 := channelPowers(ch2[len(ch2)-EpochSize:])

	var avg [5]float64
	var total float64
	for i := range avg {
		avg[i] = (p1[i] + p2[i]) / 2
		total += avg[i]
	}

	snap := models.BandPowerSnapshot{ComputedAt: time.Now().UTC()}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return snap, nil
	}
	snap.Delta = avg[0] / total
	snap.Theta = avg[1] / total
	snap.Alpha = avg[2] / total
	snap.Beta = avg[3] / total
	snap.Gamma = avg[4] / total
	return snap, nil
}

// channelPowers applies a Hann window and evaluates the DFT only at the bins
// each band covers.
func channelPowers(epoch []float64) [5]float64 {
	n := len(epoch)
	x := make([]float64, n)
	copy(x, epoch)
	window.Hann(x)

	var out [5]float64
	for i, b := range Bands {
		lo, hi := binIndex(b.Low, n), binIndex(b.High, n)
		for k := lo; k <= hi; k++ {
			out[i] += binPower(x, k)
		}
	}
	return out
}

// binIndex maps a frequency to its DFT bin, clipped to [0, n/2].
func binIndex(f float64, n int) int {
	k := int(math.Round(f * float64(n) / SampleRate))
	return max(0, min(k, n/2))
}

func binPower(x []float64, k int) float64 {
	n := len(x)
	var re, im float64
	for i, v := range x {
		angle := 2 * math.Pi * float64(k) * float64(i) / float64(n)
		re += v * math.Cos(angle)
		im -= v * math.Sin(angle)
	}
	return (re*re + im*im) / float64(n*n)
}
