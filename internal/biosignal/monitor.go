package biosignal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/bandpower"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

// EpochSource supplies the newest n samples of a channel.
type EpochSource interface {
	Epoch(channel string, n int) ([]float64, error)
}

// Monitor recomputes band power from the latest epoch on a fixed interval.
// Each snapshot supersedes the previous one.
type Monitor struct {
	Source   EpochSource
	Channels [2]string
	Interval time.Duration
	Logger   *logrus.Logger
	// Publish, if set, receives every fresh snapshot.
	Publish func(models.BandPowerSnapshot)

	latest atomic.Pointer[models.BandPowerSnapshot]
}

var DefaultChannels = [2]string{"TP9", "TP10"}

func (m *Monitor) Run(ctx context.Context) {
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	if m.Channels[0] == "" || m.Channels[1] == "" {
		m.Channels = DefaultChannels
	}
	if m.Logger == nil {
		m.Logger = logrus.New()
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick computes one snapshot. Not enough buffered samples is a normal
// warm-up state and leaves the previous snapshot in place.
func (m *Monitor) Tick() (models.BandPowerSnapshot, bool) {
	ch := m.Channels
	if ch[0] == "" || ch[1] == "" {
		ch = DefaultChannels
	}
	a, err := m.Source.Epoch(ch[0], bandpower.EpochSize)
	if err != nil {
		return models.BandPowerSnapshot{}, false
	}
	b, err := m.Source.Epoch(ch[1], bandpower.EpochSize)
	if err != nil {
		return models.BandPowerSnapshot{}, false
	}

	snap, err := bandpower.Compute(a, b)
	if err != nil {
		if m.Logger != nil && !utils.IsCode(err, utils.CodeInsufficientSamples) {
			m.Logger.WithError(err).Warn("band power failed")
		}
		return models.BandPowerSnapshot{}, false
	}
	m.latest.Store(&snap)
	if m.Publish != nil {
		m.Publish(snap)
	}
	return snap, true
}

// Latest is the most recent snapshot, nil before the first one.
func (m *Monitor) Latest() *models.BandPowerSnapshot {
	return m.latest.Load()
}
