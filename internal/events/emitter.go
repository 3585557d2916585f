package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/cache"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/observer"
)

const (
	publishTimeout = 2 * time.Second
	liveTTL        = 10 * time.Minute
)

var _ observer.Sink = (*Emitter)(nil)

// Emitter stamps and publishes the events of one session. Publishing never
// blocks the caller for longer than a short timeout, and failures are only
// logged.
type Emitter struct {
	SessionID string
	Bus       Publisher
	// Cache, if set, keeps the latest band power and observer config under
	// LiveKey for readers outside this process.
	Cache  cache.Cache
	Logger *logrus.Logger
	Now    func() time.Time
}

// LiveKey is the cache key of a session's live state.
func LiveKey(sessionID string) string {
	return "session:" + sessionID + ":live"
}

// LiveState is what the Emitter caches.
type LiveState struct {
	Config    *models.ObserverConfig    `json:"config,omitempty"`
	BandPower *models.BandPowerSnapshot `json:"band_power,omitempty"`
	Probes    int                       `json:"probes"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

func (e *Emitter) ProbeCreated(p models.Probe) {
	e.emit(Event{Type: TypeProbe, Probe: &p})
	e.updateLive(func(s *LiveState) { s.Probes++ })
}

func (e *Emitter) EndSuggested(s models.EndSuggestion) {
	e.emit(Event{Type: TypeEndSuggestion, EndSuggestion: &s})
}

func (e *Emitter) BandPower(s models.BandPowerSnapshot) {
	e.emit(Event{Type: TypeBandPower, BandPower: &s})
	e.updateLive(func(l *LiveState) { l.BandPower = &s })
}

func (e *Emitter) ConfigChanged(c models.ObserverConfig) {
	e.emit(Event{Type: TypeConfig, Config: &c})
	e.updateLive(func(l *LiveState) { l.Config = &c })
}

func (e *Emitter) Status(status, message string) {
	e.emit(Event{Type: TypeStatus, Status: status, Message: message})
}

// Device reports headband trouble; code is the utils error code.
func (e *Emitter) Device(status, code, message string) {
	e.emit(Event{Type: TypeDevice, Status: status, Code: code, Message: message})
}

func (e *Emitter) Error(code, message string) {
	e.emit(Event{Type: TypeError, Code: code, Message: message})
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Emitter) emit(ev Event) {
	if e.Bus == nil {
		return
	}
	ev.SessionID = e.SessionID
	ev.At = e.now()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.Bus.Publish(ctx, ev); err != nil && e.Logger != nil {
		e.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id": e.SessionID,
			"event":      ev.Type,
		}).Warn("publish event failed")
	}
}

func (e *Emitter) updateLive(fn func(*LiveState)) {
	if e.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var s LiveState
	err := e.Cache.UpdateJSON(ctx, LiveKey(e.SessionID), liveTTL, &s, func(bool) error {
		fn(&s)
		s.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		e.warn(err, "update live state failed")
	}
}

// Clear drops the cached live state once the session is over.
func (e *Emitter) Clear() {
	if e.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.Cache.Del(ctx, LiveKey(e.SessionID)); err != nil {
		e.warn(err, "clear live state failed")
	}
}

func (e *Emitter) warn(err error, msg string) {
	if e.Logger != nil {
		e.Logger.WithError(err).WithField("session_id", e.SessionID).Warn(msg)
	}
}
