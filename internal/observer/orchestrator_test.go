package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/capture"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAudio struct {
	size int
	err  error
}

func (a *fakeAudio) RecentWindow(d time.Duration) (*capture.Window, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &capture.Window{Data: make([]byte, a.size), Format: capture.DefaultFormat, Duration: d}, nil
}

// scripted returns scores in order, then repeats the last one.
type scripted struct {
	mu     sync.Mutex
	scores []float64
	calls  int
	err    error
	block  chan struct{}
	called chan struct{}
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scripted) AnalyzeGap(ctx context.Context, req GapRequest) (GapAnalysis, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	block, called := s.block, s.called
	s.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return GapAnalysis{}, ctx.Err()
		}
	}
	if s.err != nil {
		return GapAnalysis{}, s.err
	}
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	return GapAnalysis{Score: s.scores[i], Signals: []string{"skipped-step"}}, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	prior [][]string
	err   error
}

func (g *fakeGenerator) GenerateProbe(ctx context.Context, req ProbeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.prior = append(g.prior, req.PriorProbes)
	return fmt.Sprintf("probe %d: why?", len(g.prior)), nil
}

type fakeEnder struct {
	mu      sync.Mutex
	verdict EndVerdict
	err     error
	reqs    []EndCheckRequest
}

func (e *fakeEnder) CheckEnd(ctx context.Context, req EndCheckRequest) (EndVerdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	return e.verdict, e.err
}

type recordingSink struct {
	mu      sync.Mutex
	probes  []models.Probe
	ends    []models.EndSuggestion
	configs []models.ObserverConfig
}

func (s *recordingSink) ConfigChanged(c models.ObserverConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
}

func (s *recordingSink) configCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.configs)
}

func (s *recordingSink) ProbeCreated(p models.Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes = append(s.probes, p)
}

func (s *recordingSink) EndSuggested(e models.EndSuggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, e)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	clk   *clock
	audio *fakeAudio
	gaps  *scripted
	gen   *fakeGenerator
	ends  *fakeEnder
	sink  *recordingSink
	o     *Orchestrator
}

func newHarness(cfg models.ObserverConfig, scores ...float64) *harness {
	h := &harness{
		clk:   newClock(),
		audio: &fakeAudio{size: 4096},
		gaps:  &scripted{scores: scores},
		gen:   &fakeGenerator{},
		ends:  &fakeEnder{},
		sink:  &recordingSink{},
	}
	h.o = New(h.audio, h.gaps, h.gen, h.ends, Options{
		Problem: "Design a rate limiter",
		Config:  cfg,
		Now:     h.clk.Now,
		Logger:  quietLogger(),
		Sink:    h.sink,
	})
	return h
}

func TestPassiveScenario(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModePassive, Frequency: models.FrequencyBalanced},
		0.3, 0.65, 0.85, 0.2)

	var results []Result
	for i := 0; i < 4; i++ {
		h.clk.Advance(models.FrequencyBalanced.Interval())
		results = append(results, h.o.RunCycle(context.Background()).Result)
	}

	want := []Result{BelowThreshold, BelowThreshold, Probed, SkippedCooldown}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("cycle %d: got=%s want=%s", i+1, results[i], want[i])
		}
	}
	probes := h.o.Probes()
	if len(probes) != 1 || probes[0].GapScore != 0.85 {
		t.Fatalf("probes=%+v", probes)
	}
	if probes[0].OffsetMS != 24000 || probes[0].Offset() != 24*time.Second {
		t.Errorf("offset=%dms", probes[0].OffsetMS)
	}
	if len(h.sink.probes) != 1 {
		t.Errorf("sink got %d probes", len(h.sink.probes))
	}
}

func TestActiveIsMoreSensitive(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModeActive, Frequency: models.FrequencyBalanced}, 0.65)
	h.clk.Advance(8 * time.Second)
	if out := h.o.RunCycle(context.Background()); out.Result != Probed {
		t.Fatalf("result=%s", out.Result)
	}
	if models.ModeActive.Threshold() >= models.ModePassive.Threshold() {
		t.Errorf("active threshold must be below passive")
	}
}

func TestCooldownSpacing(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModeActive, Frequency: models.FrequencyBalanced}, 0.95)

	for i := 0; i < 100; i++ {
		h.clk.Advance(3 * time.Second)
		out := h.o.RunCycle(context.Background())
		if out.Probe != nil && out.Probe.GapScore < models.ModeActive.Threshold() {
			t.Fatalf("probe below threshold: %v", out.Probe.GapScore)
		}
	}
	probes := h.o.Probes()
	if len(probes) < 10 {
		t.Fatalf("only %d probes", len(probes))
	}
	for i := 1; i < len(probes); i++ {
		if gap := probes[i].CreatedAt.Sub(probes[i-1].CreatedAt); gap < DefaultCooldown {
			t.Errorf("probes %d and %d only %v apart", i-1, i, gap)
		}
	}
	// prior probe texts are passed along to avoid repetition
	last := h.gen.prior[len(h.gen.prior)-1]
	if len(last) != len(probes)-1 {
		t.Errorf("prior=%d probes=%d", len(last), len(probes))
	}
}

func TestMuteSuppressesProbes(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModeActive, Frequency: models.FrequencyFrequent}, 1)

	until, err := h.o.Mute(time.Minute)
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	for h.clk.Now().Before(until) {
		if out := h.o.RunCycle(context.Background()); out.Result != SkippedMuted {
			t.Fatalf("cycle while muted: %s", out.Result)
		}
		h.clk.Advance(4 * time.Second)
	}
	if len(h.o.Probes()) != 0 {
		t.Fatalf("probe created while muted")
	}
	if h.gaps.calls != 0 {
		t.Errorf("analysis ran while muted")
	}
	if out := h.o.RunCycle(context.Background()); out.Result != Probed {
		t.Errorf("after mute: %s", out.Result)
	}
	h.o.Close()
}

func TestMuteTimerClearsItself(t *testing.T) {
	h := newHarness(models.DefaultObserverConfig(), 1)
	if _, err := h.o.Mute(10 * time.Millisecond); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if h.o.Config().MutedUntil == nil {
		t.Fatalf("not muted")
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.sink.configCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("mute expiry was not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h.o.Config().MutedUntil != nil || h.sink.configs[0].MutedUntil != nil {
		t.Errorf("config after expiry=%+v", h.sink.configs[0])
	}

	if _, err := h.o.Mute(0); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("mute(0) err=%v", err)
	}
	if _, err := h.o.Mute(time.Hour); err != nil {
		t.Fatalf("mute: %v", err)
	}
	h.o.Unmute()
	if h.o.Config().MutedUntil != nil {
		t.Errorf("unmute left muted_until set")
	}
	// a stopped timer reports nothing; the caller of Unmute owns that event
	time.Sleep(20 * time.Millisecond)
	if n := h.sink.configCount(); n != 1 {
		t.Errorf("config events=%d", n)
	}
}

func TestSkipConditions(t *testing.T) {
	t.Run("off", func(t *testing.T) {
		h := newHarness(models.ObserverConfig{Mode: models.ModeOff, Frequency: models.FrequencyRare}, 1)
		if out := h.o.RunCycle(context.Background()); out.Result != SkippedOff {
			t.Errorf("result=%s", out.Result)
		}
	})
	t.Run("no audio yet", func(t *testing.T) {
		h := newHarness(models.DefaultObserverConfig(), 1)
		h.audio.err = capture.ErrInsufficientAudio
		if out := h.o.RunCycle(context.Background()); out.Result != SkippedNoAudio {
			t.Errorf("result=%s", out.Result)
		}
	})
	t.Run("payload too small", func(t *testing.T) {
		h := newHarness(models.DefaultObserverConfig(), 1)
		h.audio.size = 10
		if out := h.o.RunCycle(context.Background()); out.Result != SkippedTooSmall {
			t.Errorf("result=%s", out.Result)
		}
	})
	t.Run("analysis fails", func(t *testing.T) {
		h := newHarness(models.DefaultObserverConfig(), 1)
		h.gaps.err = errors.New("503")
		if out := h.o.RunCycle(context.Background()); out.Result != AnalysisFailed {
			t.Errorf("result=%s", out.Result)
		}
		h.gaps.err = nil
		if out := h.o.RunCycle(context.Background()); out.Result != Probed {
			t.Errorf("recovery result=%s", out.Result)
		}
	})
	t.Run("generation fails", func(t *testing.T) {
		h := newHarness(models.DefaultObserverConfig(), 1)
		h.gen.err = errors.New("quota")
		if out := h.o.RunCycle(context.Background()); out.Result != GenerationFailed {
			t.Errorf("result=%s", out.Result)
		}
		if len(h.o.Probes()) != 0 {
			t.Errorf("probe created despite failure")
		}
		// cooldown is only armed by a created probe
		h.gen.err = nil
		if out := h.o.RunCycle(context.Background()); out.Result != Probed {
			t.Errorf("result=%s", out.Result)
		}
	})
	t.Run("closed", func(t *testing.T) {
		h := newHarness(models.DefaultObserverConfig(), 1)
		h.o.Close()
		h.o.Close()
		if out := h.o.RunCycle(context.Background()); out.Result != SkippedClosed {
			t.Errorf("result=%s", out.Result)
		}
	})
}

func TestNoOverlappingCycles(t *testing.T) {
	h := newHarness(models.DefaultObserverConfig(), 1)
	h.gaps.block = make(chan struct{})
	h.gaps.called = make(chan struct{}, 1)

	done := make(chan CycleOutcome)
	go func() { done <- h.o.RunCycle(context.Background()) }()
	<-h.gaps.called

	if out := h.o.RunCycle(context.Background()); out.Result != SkippedInFlight {
		t.Errorf("overlapping cycle: %s", out.Result)
	}
	close(h.gaps.block)
	if out := <-done; out.Result != Probed {
		t.Errorf("first cycle: %s", out.Result)
	}
}

func TestStalledCallTimesOut(t *testing.T) {
	h := newHarness(models.DefaultObserverConfig(), 1)
	h.o.opts.CallTimeout = 20 * time.Millisecond
	h.gaps.block = make(chan struct{}) // never released

	if out := h.o.RunCycle(context.Background()); out.Result != AnalysisFailed {
		t.Fatalf("result=%s", out.Result)
	}
	if out := h.o.RunCycle(context.Background()); out.Result != AnalysisFailed {
		t.Fatalf("next cycle blocked: %s", out.Result)
	}
}

func TestModeChangeAppliesNextCycle(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModePassive, Frequency: models.FrequencyBalanced}, 0.6)
	if out := h.o.RunCycle(context.Background()); out.Result != BelowThreshold {
		t.Fatalf("result=%s", out.Result)
	}
	if err := h.o.SetMode(models.ModeActive); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := h.o.SetMode("loud"); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("bad mode err=%v", err)
	}
	if err := h.o.SetFrequency(models.FrequencyRare); err != nil {
		t.Fatalf("set frequency: %v", err)
	}
	if err := h.o.SetFrequency("hourly"); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("bad frequency err=%v", err)
	}
	if out := h.o.RunCycle(context.Background()); out.Result != Probed {
		t.Fatalf("result=%s", out.Result)
	}
	if cfg := h.o.Config(); cfg.Mode != models.ModeActive || cfg.Frequency != models.FrequencyRare {
		t.Errorf("config=%+v", cfg)
	}
}

func TestEndSuggestion(t *testing.T) {
	h := newHarness(models.DefaultObserverConfig(), 0.9)
	h.ends.verdict = EndVerdict{ShouldEnd: true, Reason: "all edge cases covered"}

	for i := 0; i < 3; i++ {
		if out := h.o.RunCycle(context.Background()); out.Result != Probed || out.EndSuggested {
			t.Fatalf("cycle %d: %+v", i, out)
		}
		h.clk.Advance(16 * time.Second)
	}
	if len(h.ends.reqs) != 0 {
		t.Fatalf("end check ran with only 3 probes")
	}

	out := h.o.RunCycle(context.Background())
	if out.Result != Probed || !out.EndSuggested {
		t.Fatalf("fourth cycle: %+v", out)
	}
	req := h.ends.reqs[0]
	if req.ProbeCount != 4 || len(req.RecentProbes) != 3 || req.Problem != "Design a rate limiter" {
		t.Errorf("end request=%+v", req)
	}
	if s := h.o.PendingEnd(); s == nil || s.Reason != "all edge cases covered" {
		t.Errorf("pending=%+v", s)
	}
	if len(h.sink.ends) != 1 {
		t.Errorf("sink ends=%d", len(h.sink.ends))
	}

	// still recording: suggestion never ends anything by itself
	h.clk.Advance(16 * time.Second)
	if out := h.o.RunCycle(context.Background()); out.Result != Probed {
		t.Errorf("after suggestion: %s", out.Result)
	}
	if len(h.ends.reqs) != 1 {
		t.Errorf("re-checked while a suggestion is pending")
	}

	h.o.DismissEnd()
	if h.o.PendingEnd() != nil {
		t.Errorf("dismiss left suggestion")
	}
}

func TestEndCheckFailureMeansContinue(t *testing.T) {
	h := newHarness(models.DefaultObserverConfig(), 0.9)
	h.ends.err = errors.New("timeout")
	for i := 0; i < 5; i++ {
		h.o.RunCycle(context.Background())
		h.clk.Advance(16 * time.Second)
	}
	if h.o.PendingEnd() != nil || len(h.sink.ends) != 0 {
		t.Errorf("failed check produced a suggestion")
	}
	if len(h.ends.reqs) != 2 {
		t.Errorf("checks=%d, want one per probe beyond the third", len(h.ends.reqs))
	}
}

func TestRunDriver(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModeActive, Frequency: models.FrequencyFrequent}, 0.9)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(done)
	}()

	h.o.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Close")
	}
}

func TestRunDropsTicksWhileInFlight(t *testing.T) {
	h := newHarness(models.ObserverConfig{Mode: models.ModeActive, Frequency: models.FrequencyFrequent}, 0.9)
	h.o.opts.Intervals = map[models.Frequency]time.Duration{
		models.FrequencyFrequent: 5 * time.Millisecond,
		models.FrequencyRare:     time.Hour,
	}
	h.gaps.block = make(chan struct{})
	h.gaps.called = make(chan struct{}, 64)

	done := make(chan struct{})
	go func() {
		h.o.Run(context.Background())
		close(done)
	}()
	defer func() {
		h.o.Close()
		<-done
	}()

	select {
	case <-h.gaps.called:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle started")
	}

	// many ticks pass while the first analysis is stuck
	time.Sleep(60 * time.Millisecond)
	if n := h.gaps.count(); n != 1 {
		t.Fatalf("analysis calls while in flight=%d, want 1", n)
	}

	// the slower interval is picked up by the next tick, even a dropped one
	if err := h.o.SetFrequency(models.FrequencyRare); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	close(h.gaps.block)
	time.Sleep(60 * time.Millisecond)
	if n := h.gaps.count(); n != 1 {
		t.Errorf("analysis calls after slowing down=%d, want 1", n)
	}
	if len(h.o.Probes()) != 1 {
		t.Errorf("probes=%d", len(h.o.Probes()))
	}
}

func TestClamp(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	for in, want := range map[float64]float64{-0.2: 0, 0.4: 0.4, 1.7: 1} {
		if got := clamp01(in); got != want {
			t.Errorf("clamp(%v)=%v", in, got)
		}
	}
	if clamp01(nan) != 0 {
		t.Errorf("NaN not clamped")
	}
}
