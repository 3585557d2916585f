package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/biosignal"
	"github.com/yoockh/thinkprobe/internal/cache"
	"github.com/yoockh/thinkprobe/internal/capture"
	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/observer"
	"github.com/yoockh/thinkprobe/internal/utils"
)

type StartRequest struct {
	Problem   string
	Mode      models.Mode
	Frequency models.Frequency
	// EEG asks for a headband to be paired. A failed or cancelled pairing
	// does not fail the start.
	EEG bool
}

// SessionState is the live view of the running session.
type SessionState struct {
	SessionID  string                    `json:"session_id"`
	Problem    string                    `json:"problem"`
	Status     string                    `json:"status"`
	Observer   models.ObserverConfig     `json:"observer"`
	Probes     []models.Probe            `json:"probes"`
	PendingEnd *models.EndSuggestion     `json:"pending_end,omitempty"`
	BandPower  *models.BandPowerSnapshot `json:"band_power,omitempty"`
	DeviceName string                    `json:"device_name,omitempty"`
	EEGState   biosignal.State           `json:"eeg_state"`
	StartedAt  time.Time                 `json:"started_at"`
	Elapsed    float64                   `json:"elapsed_seconds"`
	AudioBytes int64                     `json:"audio_bytes"`
}

// AudioInput is the push side of the microphone.
type AudioInput interface {
	Attach(format string)
	Deny()
	Detach()
	Push(frame []byte) error
}

// SessionService hosts at most one observation session at a time.
type SessionService interface {
	Start(ctx context.Context, req StartRequest) (*SessionState, error)
	Get(ctx context.Context) (*SessionState, error)
	SetMode(ctx context.Context, m models.Mode) error
	SetFrequency(ctx context.Context, f models.Frequency) error
	Mute(ctx context.Context, d time.Duration) (time.Time, error)
	Unmute(ctx context.Context) error
	DismissEnd(ctx context.Context) error
	// ConfirmEnd stops the session, but only while an end suggestion is pending.
	ConfirmEnd(ctx context.Context) (*models.SessionArtifacts, error)
	Stop(ctx context.Context) (*models.SessionArtifacts, error)
	Audio() AudioInput
}

type SessionSettings struct {
	DefaultConfig models.ObserverConfig

	ChunkDuration time.Duration
	Horizon       time.Duration
	Window        time.Duration
	Cooldown      time.Duration
	CallTimeout   time.Duration

	EEGChannels  [2]string
	EEGDecoder   biosignal.Decoder
	EEGCapacity  int
	PairTimeout  time.Duration
	SaveTimeout  time.Duration
	BandInterval time.Duration
}

type SessionDeps struct {
	Audio  *capture.WSSource
	Gaps   observer.GapAnalyzer
	Probes observer.ProbeGenerator
	Ends   observer.EndChecker

	// optional
	EEG   biosignal.Transport
	Bus   events.Publisher
	Cache cache.Cache
	Store ArtifactStore

	Logger   *logrus.Logger
	Settings SessionSettings
}

type liveSession struct {
	session  models.Session
	recorder *capture.Recorder
	orch     *observer.Orchestrator
	emitter  *events.Emitter
	eeg      *biosignal.Client
	monitor  *biosignal.Monitor
	cancel   context.CancelFunc
}

type sessionService struct {
	d SessionDeps

	mu       sync.Mutex
	live     *liveSession
	starting bool
}

func NewSessionService(d SessionDeps) SessionService {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Audio == nil {
		d.Audio = capture.NewWSSource(0)
	}
	st := &d.Settings
	if !st.DefaultConfig.Mode.Valid() || !st.DefaultConfig.Frequency.Valid() {
		st.DefaultConfig = models.DefaultObserverConfig()
	}
	if st.PairTimeout <= 0 {
		st.PairTimeout = 60 * time.Second
	}
	if st.SaveTimeout <= 0 {
		st.SaveTimeout = 2 * time.Minute
	}
	return &sessionService{d: d}
}

func (s *sessionService) Audio() AudioInput { return s.d.Audio }

func (s *sessionService) Start(ctx context.Context, req StartRequest) (*SessionState, error) {
	const op = "SessionService.Start"

	cfg := s.d.Settings.DefaultConfig
	if req.Mode != "" {
		if !req.Mode.Valid() {
			return nil, utils.E(utils.CodeInvalidArgument, op, "mode must be off, passive or active", nil)
		}
		cfg.Mode = req.Mode
	}
	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			return nil, utils.E(utils.CodeInvalidArgument, op, "frequency must be rare, balanced or frequent", nil)
		}
		cfg.Frequency = req.Frequency
	}
	cfg.MutedUntil = nil

	s.mu.Lock()
	if s.live != nil || s.starting {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeConflict, op, "a session is already running", nil)
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	st := s.d.Settings
	rec := capture.NewRecorder(s.d.Audio, capture.Options{
		ChunkDuration: st.ChunkDuration,
		Horizon:       st.Horizon,
		Logger:        s.d.Logger,
	})
	if err := rec.Start(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := s.d.Logger.WithField("session_id", id)
	em := &events.Emitter{SessionID: id, Bus: s.d.Bus, Cache: s.d.Cache, Logger: s.d.Logger}

	orch := observer.New(rec, s.d.Gaps, s.d.Probes, s.d.Ends, observer.Options{
		Problem:     req.Problem,
		Config:      cfg,
		Window:      st.Window,
		Cooldown:    st.Cooldown,
		CallTimeout: st.CallTimeout,
		StartedAt:   rec.StartedAt(),
		Logger:      s.d.Logger,
		Sink:        em,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go orch.Run(runCtx)

	live := &liveSession{
		session: models.Session{
			SessionID: id,
			Problem:   req.Problem,
			Status:    models.SessionRecording,
			Observer:  cfg,
			CreatedAt: rec.StartedAt().UTC(),
		},
		recorder: rec,
		orch:     orch,
		emitter:  em,
		cancel:   cancel,
	}

	if req.EEG {
		s.pair(ctx, runCtx, live)
	}

	s.mu.Lock()
	s.live = live
	s.mu.Unlock()

	if s.d.Store != nil {
		doc := live.session
		if err := s.d.Store.Begin(ctx, &doc); err != nil {
			log.WithError(err).Warn("session record not created")
		}
	}

	log.WithFields(logrus.Fields{
		"mode":      cfg.Mode,
		"frequency": cfg.Frequency,
		"eeg":       live.eeg != nil,
	}).Info("session started")
	em.Status(models.SessionRecording, "")
	em.ConfigChanged(cfg)
	return s.state(live), nil
}

// pair connects the headband and starts band power. Failure leaves the
// session running on audio alone.
func (s *sessionService) pair(ctx, runCtx context.Context, live *liveSession) {
	em := live.emitter
	log := s.d.Logger.WithField("session_id", live.session.SessionID)
	if s.d.EEG == nil {
		log.Warn("eeg requested but no headband bridge is configured")
		em.Device("unavailable", string(utils.CodeDeviceNotFound), "no headband bridge configured")
		return
	}

	st := s.d.Settings
	client := biosignal.NewClient(s.d.EEG, biosignal.Options{
		Capacity: st.EEGCapacity,
		Decoder:  st.EEGDecoder,
		Logger:   s.d.Logger,
		OnDrop: func(err error) {
			em.Device("disconnected", string(utils.CodeOf(err)), "headband link lost")
		},
	})

	pctx, cancel := context.WithTimeout(ctx, st.PairTimeout)
	defer cancel()
	if err := client.Connect(pctx); err != nil {
		if biosignal.IsUserCancelled(err) {
			log.Info("headband pairing cancelled by user")
			em.Device("cancelled", "", "pairing cancelled")
			return
		}
		log.WithError(err).Warn("headband pairing failed")
		em.Device("not_found", string(utils.CodeOf(err)), "headband not found")
		return
	}
	if err := client.StartStreaming(nil); err != nil {
		log.WithError(err).Warn("headband streaming failed")
		_ = client.Disconnect()
		em.Device("disconnected", string(utils.CodeOf(err)), "headband streaming failed")
		return
	}

	mon := &biosignal.Monitor{
		Source:   client,
		Channels: st.EEGChannels,
		Interval: st.BandInterval,
		Logger:   s.d.Logger,
		Publish:  em.BandPower,
	}
	go mon.Run(runCtx)

	live.eeg = client
	live.monitor = mon
	live.session.DeviceName = client.DeviceName()
	em.Device("streaming", "", client.DeviceName())
}

func (s *sessionService) current(op string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return nil, utils.E(utils.CodeNotFound, op, "no session is running", nil)
	}
	return s.live, nil
}

func (s *sessionService) Get(ctx context.Context) (*SessionState, error) {
	live, err := s.current("SessionService.Get")
	if err != nil {
		return nil, err
	}
	return s.state(live), nil
}

func (s *sessionService) state(live *liveSession) *SessionState {
	out := &SessionState{
		SessionID:  live.session.SessionID,
		Problem:    live.session.Problem,
		Status:     live.session.Status,
		Observer:   live.orch.Config(),
		Probes:     live.orch.Probes(),
		PendingEnd: live.orch.PendingEnd(),
		DeviceName: live.session.DeviceName,
		EEGState:   biosignal.StateDisconnected,
		StartedAt:  live.recorder.StartedAt(),
		AudioBytes: live.recorder.FullAudio().Size(),
	}
	out.Elapsed = time.Since(out.StartedAt).Seconds()
	if live.eeg != nil {
		out.EEGState = live.eeg.State()
	}
	if live.monitor != nil {
		out.BandPower = live.monitor.Latest()
	}
	return out
}

func (s *sessionService) SetMode(ctx context.Context, m models.Mode) error {
	const op = "SessionService.SetMode"

	live, err := s.current(op)
	if err != nil {
		return err
	}
	if err := live.orch.SetMode(m); err != nil {
		return err
	}
	live.emitter.ConfigChanged(live.orch.Config())
	return nil
}

func (s *sessionService) SetFrequency(ctx context.Context, f models.Frequency) error {
	const op = "SessionService.SetFrequency"

	live, err := s.current(op)
	if err != nil {
		return err
	}
	if err := live.orch.SetFrequency(f); err != nil {
		return err
	}
	live.emitter.ConfigChanged(live.orch.Config())
	return nil
}

func (s *sessionService) Mute(ctx context.Context, d time.Duration) (time.Time, error) {
	const op = "SessionService.Mute"

	live, err := s.current(op)
	if err != nil {
		return time.Time{}, err
	}
	until, err := live.orch.Mute(d)
	if err != nil {
		return time.Time{}, err
	}
	live.emitter.ConfigChanged(live.orch.Config())
	return until, nil
}

func (s *sessionService) Unmute(ctx context.Context) error {
	live, err := s.current("SessionService.Unmute")
	if err != nil {
		return err
	}
	live.orch.Unmute()
	live.emitter.ConfigChanged(live.orch.Config())
	return nil
}

func (s *sessionService) DismissEnd(ctx context.Context) error {
	live, err := s.current("SessionService.DismissEnd")
	if err != nil {
		return err
	}
	live.orch.DismissEnd()
	live.emitter.Status(models.SessionRecording, "end suggestion dismissed")
	return nil
}

func (s *sessionService) ConfirmEnd(ctx context.Context) (*models.SessionArtifacts, error) {
	const op = "SessionService.ConfirmEnd"

	live, err := s.current(op)
	if err != nil {
		return nil, err
	}
	if live.orch.PendingEnd() == nil {
		return nil, utils.E(utils.CodeConflict, op, "no end suggestion is pending", nil)
	}
	return s.stop(ctx, op, live)
}

func (s *sessionService) Stop(ctx context.Context) (*models.SessionArtifacts, error) {
	const op = "SessionService.Stop"

	live, err := s.current(op)
	if err != nil {
		return nil, err
	}
	return s.stop(ctx, op, live)
}

// stop tears capture and streaming down synchronously and abandons any
// analysis still in flight.
func (s *sessionService) stop(ctx context.Context, op string, live *liveSession) (*models.SessionArtifacts, error) {
	s.mu.Lock()
	if s.live != live {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeNotFound, op, "no session is running", nil)
	}
	s.live = nil
	s.mu.Unlock()

	log := s.d.Logger.WithField("session_id", live.session.SessionID)

	live.orch.Close()
	live.cancel()
	if err := live.recorder.Stop(); err != nil {
		log.WithError(err).Warn("recorder stop")
	}

	var samples map[string][]float64
	if live.eeg != nil {
		samples = live.eeg.Dump()
		if err := live.eeg.Disconnect(); err != nil {
			log.WithError(err).Warn("headband disconnect")
		}
	}

	ended := time.Now().UTC()
	sess := live.session
	sess.Status = models.SessionEnded
	sess.Observer = live.orch.Config()
	sess.Observer.MutedUntil = nil
	sess.Probes = live.orch.Probes()
	sess.EndSuggestion = live.orch.PendingEnd()
	if live.monitor != nil {
		sess.BandPower = live.monitor.Latest()
	}
	sess.EndedAt = &ended
	sess.DurationSeconds = max(int64(ended.Sub(sess.CreatedAt).Seconds()), 0)

	archive := live.recorder.FullAudio()
	out := &models.SessionArtifacts{
		Session:     &sess,
		Audio:       archive.Bytes(),
		AudioFormat: archive.Format(),
		EEGSamples:  samples,
	}

	log.WithFields(logrus.Fields{
		"probes":      len(sess.Probes),
		"audio_bytes": len(out.Audio),
		"duration_s":  sess.DurationSeconds,
	}).Info("session stopped")
	live.emitter.Status(models.SessionEnded, "")
	live.emitter.Clear()

	if s.d.Store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.d.Settings.SaveTimeout)
		defer cancel()
		if err := s.d.Store.Save(sctx, out); err != nil {
			log.WithError(err).Warn("session artifacts not fully stored")
			live.emitter.Error(string(utils.CodeOf(err)), "session artifacts not fully stored")
		}
	}
	return out, nil
}
