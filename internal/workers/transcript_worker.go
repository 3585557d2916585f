package workers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/providers/stt"
	mongorepo "github.com/yoockh/thinkprobe/internal/repositories/mongo"
)

// TranscriptJob asks for the full transcript of an archived session.
type TranscriptJob struct {
	SessionID string
	URI       string
	Format    string
	Language  string
}

// TranscriptPool turns archived session audio into a stored transcript.
// Jobs travel over a Redis stream with a consumer group so a restart picks
// up where it left off.
type TranscriptPool struct {
	Redis      *redis.Client
	Sessions   mongorepo.SessionRepository
	STT        stt.BatchProvider
	Bus        events.Publisher
	NumWorkers int
	Logger     *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	// JobTimeout bounds one recognition, which can take minutes.
	JobTimeout time.Duration
}

func (p *TranscriptPool) defaults() {
	if p.Stream == "" {
		p.Stream = "transcript:stream"
	}
	if p.Group == "" {
		p.Group = "transcript-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 10 * time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *TranscriptPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Sessions == nil || p.STT == nil {
		return errors.New("TranscriptPool missing dependency: Redis/Sessions/STT must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

// Enqueue implements services.TranscriptQueue.
func (p *TranscriptPool) Enqueue(ctx context.Context, job TranscriptJob) error {
	p.defaults()
	return p.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{
			"session_id": job.SessionID,
			"uri":        job.URI,
			"format":     job.Format,
			"language":   job.Language,
			"ts_unix":    strconv.FormatInt(time.Now().UTC().Unix(), 10),
		},
	}).Err()
}

func (p *TranscriptPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handle(ctx, jobFromValues(msg.Values), msg.ID)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func jobFromValues(v map[string]any) TranscriptJob {
	get := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	return TranscriptJob{
		SessionID: get("session_id"),
		URI:       get("uri"),
		Format:    get("format"),
		Language:  normalizeLanguage(get("language")),
	}
}

func normalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "en", "en-US":
		return "en-US"
	case "id", "id-ID":
		return "id-ID"
	default:
		return v
	}
}

func (p *TranscriptPool) handle(ctx context.Context, job TranscriptJob, id string) {
	if job.SessionID == "" || job.URI == "" {
		return
	}
	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":   id,
		"session_id": job.SessionID,
	})

	jobCtx, cancel := context.WithTimeout(ctx, p.JobTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.STT.TranscribeURI(jobCtx, job.URI, job.Format, job.Language)
	if err != nil {
		log.WithError(err).Error("transcription failed")
		p.publish(ctx, job.SessionID, "transcript_failed")
		return
	}
	if err := p.Sessions.SetTranscript(ctx, job.SessionID, text); err != nil {
		log.WithError(err).Error("store transcript failed")
		p.publish(ctx, job.SessionID, "transcript_failed")
		return
	}

	log.WithFields(logrus.Fields{
		"chars":              len(text),
		"processing_time_ms": time.Since(start).Milliseconds(),
	}).Info("transcript stored")
	p.publish(ctx, job.SessionID, "transcript_ready")
}

func (p *TranscriptPool) publish(ctx context.Context, sessionID, status string) {
	if p.Bus == nil {
		return
	}
	_ = p.Bus.Publish(ctx, events.Event{
		Type:      events.TypeStatus,
		SessionID: sessionID,
		At:        time.Now().UTC(),
		Status:    status,
	})
}
