package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/config"
	"github.com/yoockh/thinkprobe/internal/api/handlers"
	"github.com/yoockh/thinkprobe/internal/api/middleware"
	"github.com/yoockh/thinkprobe/internal/api/routes"
	"github.com/yoockh/thinkprobe/internal/biosignal"
	"github.com/yoockh/thinkprobe/internal/cache"
	"github.com/yoockh/thinkprobe/internal/capture"
	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/logger"
	"github.com/yoockh/thinkprobe/internal/observer"
	"github.com/yoockh/thinkprobe/internal/providers/llm"
	"github.com/yoockh/thinkprobe/internal/providers/stt"
	mongorepo "github.com/yoockh/thinkprobe/internal/repositories/mongo"
	"github.com/yoockh/thinkprobe/internal/services"
	"github.com/yoockh/thinkprobe/internal/storage"
	"github.com/yoockh/thinkprobe/internal/workers"
)

type collaborators struct {
	gaps   observer.GapAnalyzer
	judge  *llm.Judge
	speech *stt.GoogleSpeech
	close  func()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	l := logger.New(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component(l, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ai, err := buildCollaborators(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("llm provider init failed")
	}
	defer ai.close()
	log.WithField("provider", cfg.LLMProvider).Info("llm provider ready")

	var (
		bus events.Bus = events.NewLocalBus()
		kv  cache.Cache
	)
	switch err := config.InitRedis(ctx); {
	case err == nil:
		bus = events.NewRedisBus(config.RedisClient, cfg.DeviceID)
		kv = cache.NewRedisCache(config.RedisClient, "thinkprobe:")
		defer config.RedisClient.Close()
		log.Info("redis connected")
	case errors.Is(err, config.ErrNotConfigured):
		log.Info("redis not configured; events stay in process")
	default:
		log.WithError(err).Fatal("redis init failed")
	}

	var store services.ArtifactStore
	switch err := config.InitMongo(ctx); {
	case err == nil:
		defer func() { _ = config.MongoClient.Disconnect(context.Background()) }()
		if err := config.EnsureMongoIndexes(cfg.MongoDB); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		store = buildArtifactStore(ctx, cfg, l, ai, bus)
		log.Info("mongo connected")
	case errors.Is(err, config.ErrNotConfigured):
		log.Info("mongo not configured; sessions are not persisted")
	default:
		log.WithError(err).Fatal("mongo init failed")
	}

	settings := services.SessionSettings{
		DefaultConfig: cfg.Observer,
		ChunkDuration: cfg.ChunkDuration,
		Horizon:       cfg.Horizon,
		Window:        cfg.Window,
		Cooldown:      cfg.Cooldown,
		CallTimeout:   cfg.CallTimeout,
		EEGChannels:   cfg.EEGChannels,
	}
	var eeg biosignal.Transport
	if cfg.EEGBridgeURL != "" {
		dec, err := biosignal.DecoderByName(cfg.EEGDecoder)
		if err != nil {
			log.WithError(err).Fatal("eeg decoder")
		}
		settings.EEGDecoder = dec
		eeg = biosignal.NewWSTransport(cfg.EEGBridgeURL)
	}

	audio := capture.NewWSSource(0)
	svc := services.NewSessionService(services.SessionDeps{
		Audio:    audio,
		Gaps:     ai.gaps,
		Probes:   ai.judge,
		Ends:     ai.judge,
		EEG:      eeg,
		Bus:      bus,
		Cache:    kv,
		Store:    store,
		Logger:   l,
		Settings: settings,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(l))
	deps := routes.Deps{
		Session: handlers.NewSessionHandler(svc),
		WS:      handlers.NewWSHandler(svc.Audio(), bus, l),
	}
	if kv != nil {
		deps.Live = handlers.NewLiveHandler(kv)
	}
	routes.RegisterRoutes(r, deps)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.WithField("port", cfg.Port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	// a running session still gets its artifacts saved
	if _, err := svc.Stop(sctx); err == nil {
		log.Info("active session stopped")
	}
	_ = srv.Shutdown(sctx)
}

func buildCollaborators(ctx context.Context, cfg config.Config) (*collaborators, error) {
	switch cfg.LLMProvider {
	case "gemini":
		g, err := llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		c := &collaborators{gaps: g, judge: llm.NewJudge(g), close: func() { _ = g.Close() }}
		// batch transcription is optional with Gemini
		if sp, err := stt.NewGoogleSpeech(ctx); err == nil {
			c.speech = sp
			c.close = func() { _ = g.Close(); _ = sp.Close() }
		}
		return c, nil
	}

	var (
		model llm.Completer
		err   error
	)
	if cfg.LLMProvider == "anthropic" {
		ac := llm.DefaultAnthropicConfig()
		ac.APIKey = cfg.AnthropicAPIKey
		if cfg.AnthropicModel != "" {
			ac.Model = cfg.AnthropicModel
		}
		model, err = llm.NewAnthropic(ac)
	} else {
		model, err = llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	if err != nil {
		return nil, err
	}

	// text models cannot hear; gap scoring goes through speech-to-text first
	sp, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		_ = model.Close()
		return nil, err
	}
	judge := llm.NewJudge(model)
	return &collaborators{
		gaps:   &llm.TranscriptAnalyzer{STT: sp, Judge: judge, Language: cfg.SpeechLanguage},
		judge:  judge,
		speech: sp,
		close:  func() { _ = model.Close(); _ = sp.Close() },
	}, nil
}

func buildArtifactStore(ctx context.Context, cfg config.Config, l *logrus.Logger, ai *collaborators, bus events.Publisher) services.ArtifactStore {
	log := logger.Component(l, "main")
	db := config.MongoClient.Database(cfg.MongoDB)
	sessions := mongorepo.NewSessionRepo(db)

	deps := services.ArtifactStoreDeps{
		Sessions: sessions,
		Samples:  mongorepo.NewSampleRepo(db, cfg.SampleTTL),
		Language: cfg.SpeechLanguage,
		Logger:   l,
	}

	if cfg.GCSBucket != "" {
		up, err := storage.NewGCSUploader(ctx, cfg.GCSBucket)
		if err != nil {
			log.WithError(err).Warn("gcs init failed; audio will not be archived")
		} else {
			up.Public = cfg.GCSPublic
			deps.Uploader = up
		}
	}

	if deps.Uploader != nil && ai.speech != nil && config.RedisClient != nil {
		pool := &workers.TranscriptPool{
			Redis:      config.RedisClient,
			Sessions:   sessions,
			STT:        ai.speech,
			Bus:        bus,
			NumWorkers: cfg.TranscriptWorkers,
			Logger:     l,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Warn("transcript workers not started")
		} else {
			deps.Queue = pool
		}
	}
	return services.NewArtifactStore(deps)
}
