// Package observer runs the timed observation cycle: pull the recent audio
// window, have it scored for reasoning gaps, raise a probe when the score
// clears the mode's threshold, and suggest ending once enough probes exist.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/capture"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

const (
	DefaultWindow        = 15 * time.Second
	DefaultCooldown      = 15 * time.Second
	DefaultCallTimeout   = 30 * time.Second
	DefaultEndCheckAfter = 3
	recentProbeContext   = 3
)

// Result says what a cycle did.
type Result string

const (
	Probed           Result = "probed"
	SkippedOff       Result = "off"
	SkippedMuted     Result = "muted"
	SkippedInFlight  Result = "in_flight"
	SkippedCooldown  Result = "cooldown"
	SkippedNoAudio   Result = "no_audio"
	SkippedTooSmall  Result = "too_small"
	SkippedClosed    Result = "closed"
	AnalysisFailed   Result = "analysis_failed"
	BelowThreshold   Result = "below_threshold"
	GenerationFailed Result = "generation_failed"
)

type CycleOutcome struct {
	Result       Result
	Score        float64
	Probe        *models.Probe
	EndSuggested bool
}

type Options struct {
	Problem string
	Config  models.ObserverConfig

	Window         time.Duration
	Cooldown       time.Duration
	CallTimeout    time.Duration
	MinWindowBytes int
	// EndCheckAfter is the probe count that must be exceeded before the
	// session-end judge is consulted.
	EndCheckAfter int

	// Intervals overrides the tick interval per frequency.
	Intervals map[models.Frequency]time.Duration

	// StartedAt anchors probe offsets; defaults to construction time.
	StartedAt time.Time
	Now       func() time.Time
	NewID     func() string
	Logger    *logrus.Logger
	Sink      Sink
}

// Orchestrator is the sole writer of the observer config and probe list.
type Orchestrator struct {
	audio  WindowSource
	gaps   GapAnalyzer
	probes ProbeGenerator
	ends   EndChecker
	opts   Options
	log    *logrus.Entry

	cfg      atomic.Pointer[models.ObserverConfig]
	inFlight atomic.Bool
	closed   atomic.Bool

	mu           sync.Mutex
	probeList    []models.Probe
	lastProbeAt  time.Time
	lastEndCheck int
	pendingEnd   *models.EndSuggestion
	muteTimer    *time.Timer
	stopRun      context.CancelFunc
}

func New(audio WindowSource, gaps GapAnalyzer, probes ProbeGenerator, ends EndChecker, opts Options) *Orchestrator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MinWindowBytes <= 0 {
		opts.MinWindowBytes = capture.MinWindowBytes
	}
	if opts.EndCheckAfter <= 0 {
		opts.EndCheckAfter = DefaultEndCheckAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}
	if !opts.Config.Mode.Valid() {
		opts.Config.Mode = models.ModeActive
	}
	if !opts.Config.Frequency.Valid() {
		opts.Config.Frequency = models.FrequencyBalanced
	}

	o := &Orchestrator{
		audio:  audio,
		gaps:   gaps,
		probes: probes,
		ends:   ends,
		opts:   opts,
		log:    opts.Logger.WithField("component", "observer"),
	}
	cfg := opts.Config
	o.cfg.Store(&cfg)
	return o
}

// Config returns the current snapshot.
func (o *Orchestrator) Config() models.ObserverConfig {
	return *o.cfg.Load()
}

func (o *Orchestrator) update(fn func(c *models.ObserverConfig)) models.ObserverConfig {
	for {
		old := o.cfg.Load()
		next := *old
		fn(&next)
		if o.cfg.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// SetMode takes effect at the next cycle boundary.
func (o *Orchestrator) SetMode(m models.Mode) error {
	if !m.Valid() {
		return utils.E(utils.CodeInvalidArgument, "Orchestrator.SetMode", "unknown mode "+string(m), nil)
	}
	o.update(func(c *models.ObserverConfig) { c.Mode = m })
	o.log.WithField("mode", m).Info("observer mode changed")
	return nil
}

// SetFrequency takes effect at the next cycle boundary.
func (o *Orchestrator) SetFrequency(f models.Frequency) error {
	if !f.Valid() {
		return utils.E(utils.CodeInvalidArgument, "Orchestrator.SetFrequency", "unknown frequency "+string(f), nil)
	}
	o.update(func(c *models.ObserverConfig) { c.Frequency = f })
	o.log.WithField("frequency", f).Info("observer frequency changed")
	return nil
}

// Mute suppresses every cycle for d. The suppression clears itself when it
// expires.
func (o *Orchestrator) Mute(d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, utils.E(utils.CodeInvalidArgument, "Orchestrator.Mute", "duration must be > 0", nil)
	}
	until := o.opts.Now().Add(d)
	o.update(func(c *models.ObserverConfig) { c.MutedUntil = &until })

	o.mu.Lock()
	if o.muteTimer != nil {
		o.muteTimer.Stop()
	}
	o.muteTimer = time.AfterFunc(d, func() { o.expireMute(until) })
	o.mu.Unlock()

	o.log.WithField("muted_until", until).Info("observer muted")
	return until, nil
}

func (o *Orchestrator) expireMute(until time.Time) {
	cleared := false
	cfg := o.update(func(c *models.ObserverConfig) {
		cleared = c.MutedUntil != nil && c.MutedUntil.Equal(until)
		if cleared {
			c.MutedUntil = nil
		}
	})
	if !cleared {
		return
	}
	o.log.Info("observer mute expired")
	if cs, ok := o.opts.Sink.(ConfigSink); ok {
		cs.ConfigChanged(cfg)
	}
}

func (o *Orchestrator) interval(f models.Frequency) time.Duration {
	if d, ok := o.opts.Intervals[f]; ok && d > 0 {
		return d
	}
	return f.Interval()
}

func (o *Orchestrator) Unmute() {
	o.mu.Lock()
	if o.muteTimer != nil {
		o.muteTimer.Stop()
		o.muteTimer = nil
	}
	o.mu.Unlock()
	o.update(func(c *models.ObserverConfig) { c.MutedUntil = nil })
}

// Probes returns the session's probes in creation order.
func (o *Orchestrator) Probes() []models.Probe {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Probe, len(o.probeList))
	copy(out, o.probeList)
	return out
}

// PendingEnd is the end suggestion awaiting the user's answer, if any.
func (o *Orchestrator) PendingEnd() *models.EndSuggestion {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pendingEnd == nil {
		return nil
	}
	s := *o.pendingEnd
	return &s
}

// DismissEnd clears a pending suggestion; a later probe may trigger a new one.
func (o *Orchestrator) DismissEnd() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pendingEnd = nil
}

// Run drives cycles at the configured frequency until ctx ends or Close is
// called. A tick that lands while a cycle is still waiting on its
// collaborators is dropped.
func (o *Orchestrator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stopRun = cancel
	o.mu.Unlock()
	defer cancel()
	if o.closed.Load() {
		return
	}

	interval := o.interval(o.Config().Frequency)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.inFlight.CompareAndSwap(false, true) {
				o.log.Debug("cycle still in flight, tick dropped")
			} else {
				go func() {
					defer o.inFlight.Store(false)
					o.guardedCycle(ctx)
				}()
			}
			if next := o.interval(o.Config().Frequency); next != interval {
				interval = next
				ticker.Reset(next)
			}
		}
	}
}

func (o *Orchestrator) guardedCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", fmt.Sprint(r)).Error("observation cycle failed")
		}
	}()
	out := o.cycle(ctx)
	o.log.WithFields(logrus.Fields{"result": out.Result, "gap_score": out.Score}).Debug("cycle")
}

// RunCycle performs one observation cycle now, unless another is in flight.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleOutcome {
	if !o.inFlight.CompareAndSwap(false, true) {
		return CycleOutcome{Result: SkippedInFlight}
	}
	defer o.inFlight.Store(false)
	return o.cycle(ctx)
}

func (o *Orchestrator) cycle(ctx context.Context) (out CycleOutcome) {
	if o.closed.Load() {
		return CycleOutcome{Result: SkippedClosed}
	}
	cfg := o.Config()
	now := o.opts.Now()

	switch {
	case cfg.Mode == models.ModeOff:
		return CycleOutcome{Result: SkippedOff}
	case cfg.Muted(now):
		return CycleOutcome{Result: SkippedMuted}
	case o.coolingDown(now):
		return CycleOutcome{Result: SkippedCooldown}
	}

	defer func() { out.EndSuggested = o.maybeCheckEnd(ctx) }()

	win, err := o.audio.RecentWindow(o.opts.Window)
	if err != nil {
		if !errors.Is(err, capture.ErrInsufficientAudio) {
			o.log.WithError(err).Warn("recent window unavailable")
		}
		return CycleOutcome{Result: SkippedNoAudio}
	}
	if len(win.Data) < o.opts.MinWindowBytes {
		return CycleOutcome{Result: SkippedTooSmall}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	analysis, err := o.gaps.AnalyzeGap(callCtx, GapRequest{
		Audio:   win.Data,
		Format:  win.Format,
		Problem: o.opts.Problem,
	})
	cancel()
	if err != nil {
		o.log.WithError(err).Warn("gap analysis failed, skipping cycle")
		return CycleOutcome{Result: AnalysisFailed}
	}

	score := clamp01(analysis.Score)
	if score < cfg.Mode.Threshold() {
		return CycleOutcome{Result: BelowThreshold, Score: score}
	}

	callCtx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
	text, err := o.probes.GenerateProbe(callCtx, ProbeRequest{
		Problem:     o.opts.Problem,
		GapScore:    score,
		Signals:     analysis.Signals,
		PriorProbes: o.probeTexts(0),
	})
	cancel()
	if err != nil || text == "" {
		o.log.WithError(err).Warn("probe generation failed")
		return CycleOutcome{Result: GenerationFailed, Score: score}
	}

	created := o.opts.Now()
	probe := models.Probe{
		ID:        o.opts.NewID(),
		OffsetMS:  created.Sub(o.opts.StartedAt).Milliseconds(),
		GapScore:  score,
		Signals:   append([]string(nil), analysis.Signals...),
		Text:      text,
		CreatedAt: created,
	}

	o.mu.Lock()
	if o.closed.Load() {
		o.mu.Unlock()
		return CycleOutcome{Result: SkippedClosed, Score: score}
	}
	o.probeList = append(o.probeList, probe)
	o.lastProbeAt = created
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{
		"probe_id":  probe.ID,
		"gap_score": score,
		"offset_ms": probe.OffsetMS,
	}).Info("probe created")
	if o.opts.Sink != nil {
		o.opts.Sink.ProbeCreated(probe)
	}
	return CycleOutcome{Result: Probed, Score: score, Probe: &probe}
}

func (o *Orchestrator) coolingDown(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.lastProbeAt.IsZero() && now.Sub(o.lastProbeAt) < o.opts.Cooldown
}

// probeTexts returns the texts of the last n probes, all of them when n <= 0.
func (o *Orchestrator) probeTexts(n int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.probeList
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Text
	}
	return out
}

// maybeCheckEnd consults the end judge once per new probe beyond the
// threshold count. It never ends the session itself.
func (o *Orchestrator) maybeCheckEnd(ctx context.Context) bool {
	if o.ends == nil {
		return false
	}
	o.mu.Lock()
	n := len(o.probeList)
	if n <= o.opts.EndCheckAfter || n == o.lastEndCheck || o.pendingEnd != nil {
		o.mu.Unlock()
		return false
	}
	o.lastEndCheck = n
	o.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	verdict, err := o.ends.CheckEnd(callCtx, EndCheckRequest{
		Problem:      o.opts.Problem,
		ProbeCount:   n,
		Elapsed:      o.opts.Now().Sub(o.opts.StartedAt),
		RecentProbes: o.probeTexts(recentProbeContext),
	})
	if err != nil {
		o.log.WithError(err).Warn("session end check failed")
		return false
	}
	if !verdict.ShouldEnd {
		return false
	}

	s := models.EndSuggestion{Reason: verdict.Reason, ProbeCount: n, At: o.opts.Now()}
	o.mu.Lock()
	o.pendingEnd = &s
	o.mu.Unlock()

	o.log.WithField("reason", verdict.Reason).Info("suggesting session end")
	if o.opts.Sink != nil {
		o.opts.Sink.EndSuggested(s)
	}
	return true
}

// Close stops the driver and abandons in-flight calls without waiting.
func (o *Orchestrator) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.mu.Lock()
	if o.muteTimer != nil {
		o.muteTimer.Stop()
		o.muteTimer = nil
	}
	stop := o.stopRun
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
