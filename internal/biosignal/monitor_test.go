package biosignal

import (
	"math"
	"testing"

	"github.com/yoockh/thinkprobe/internal/models"
)

func TestMonitorTick(t *testing.T) {
	c := NewClient(&fakeTransport{}, Options{Logger: quietLogger()})
	var published []models.BandPowerSnapshot
	m := &Monitor{
		Source:   c,
		Channels: DefaultChannels,
		Logger:   quietLogger(),
		Publish:  func(s models.BandPowerSnapshot) { published = append(published, s) },
	}

	if _, ok := m.Tick(); ok || m.Latest() != nil {
		t.Fatalf("tick on empty buffers produced a snapshot")
	}

	alpha := make([]float64, 300)
	for i := range alpha {
		alpha[i] = 40 * math.Sin(2*math.Pi*10*float64(i)/256)
	}
	c.store(Batch{"TP9": alpha, "TP10": alpha})

	snap, ok := m.Tick()
	if !ok {
		t.Fatalf("no snapshot")
	}
	if snap.Alpha < 0.5 {
		t.Errorf("alpha=%v", snap.Alpha)
	}
	if m.Latest() == nil || m.Latest().Alpha != snap.Alpha {
		t.Errorf("latest not updated")
	}
	if len(published) != 1 {
		t.Errorf("published=%d", len(published))
	}
}
