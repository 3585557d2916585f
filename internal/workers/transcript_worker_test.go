package workers

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

type fakeSessions struct {
	transcripts map[string]string
	err         error
}

func (f *fakeSessions) Create(ctx context.Context, s *models.Session) error { return nil }
func (f *fakeSessions) GetBySessionID(ctx context.Context, id string) (*models.Session, error) {
	return nil, utils.ErrNotFound
}
func (f *fakeSessions) Finish(ctx context.Context, s *models.Session) error { return nil }
func (f *fakeSessions) SetTranscript(ctx context.Context, id, text string) error {
	if f.err != nil {
		return f.err
	}
	f.transcripts[id] = text
	return nil
}
func (f *fakeSessions) ListRecent(ctx context.Context, limit int64) ([]models.Session, error) {
	return nil, nil
}

type fakeBatchSTT struct {
	text string
	err  error
	uri  string
	lang string
}

func (f *fakeBatchSTT) TranscribeURI(ctx context.Context, uri, format, language string) (string, error) {
	f.uri, f.lang = uri, language
	return f.text, f.err
}

type recordingBus struct{ got []events.Event }

func (b *recordingBus) Publish(ctx context.Context, e events.Event) error {
	b.got = append(b.got, e)
	return nil
}

func newPool(s *fakeSessions, t *fakeBatchSTT, b *recordingBus) *TranscriptPool {
	l := logrus.New()
	l.SetOutput(io.Discard)
	p := &TranscriptPool{Sessions: s, STT: t, Bus: b, Logger: l}
	p.defaults()
	return p
}

func TestTranscriptHandle(t *testing.T) {
	sessions := &fakeSessions{transcripts: map[string]string{}}
	speech := &fakeBatchSTT{text: "first I would bound the queue"}
	bus := &recordingBus{}
	p := newPool(sessions, speech, bus)

	job := jobFromValues(map[string]any{
		"session_id": "s1",
		"uri":        "gs://b/sessions/s1/audio.webm",
		"format":     "audio/webm;codecs=opus",
		"language":   "id",
	})
	p.handle(context.Background(), job, "1-0")

	if sessions.transcripts["s1"] != speech.text {
		t.Errorf("stored=%q", sessions.transcripts["s1"])
	}
	if speech.lang != "id-ID" || speech.uri != job.URI {
		t.Errorf("lang=%q uri=%q", speech.lang, speech.uri)
	}
	if len(bus.got) != 1 || bus.got[0].Status != "transcript_ready" || bus.got[0].SessionID != "s1" {
		t.Errorf("events=%+v", bus.got)
	}
}

func TestTranscriptFailures(t *testing.T) {
	t.Run("stt", func(t *testing.T) {
		bus := &recordingBus{}
		p := newPool(&fakeSessions{transcripts: map[string]string{}}, &fakeBatchSTT{err: errors.New("quota")}, bus)
		p.handle(context.Background(), TranscriptJob{SessionID: "s", URI: "gs://b/o"}, "1-0")
		if len(bus.got) != 1 || bus.got[0].Status != "transcript_failed" {
			t.Errorf("events=%+v", bus.got)
		}
	})
	t.Run("store", func(t *testing.T) {
		bus := &recordingBus{}
		p := newPool(&fakeSessions{err: utils.ErrNotFound}, &fakeBatchSTT{text: "x"}, bus)
		p.handle(context.Background(), TranscriptJob{SessionID: "s", URI: "gs://b/o"}, "1-0")
		if len(bus.got) != 1 || bus.got[0].Status != "transcript_failed" {
			t.Errorf("events=%+v", bus.got)
		}
	})
	t.Run("malformed job", func(t *testing.T) {
		bus := &recordingBus{}
		speech := &fakeBatchSTT{}
		p := newPool(&fakeSessions{}, speech, bus)
		p.handle(context.Background(), jobFromValues(map[string]any{"session_id": 42}), "1-0")
		if len(bus.got) != 0 || speech.uri != "" {
			t.Errorf("malformed job was processed")
		}
	})
}

func TestStartNeedsDeps(t *testing.T) {
	if err := (&TranscriptPool{}).Start(context.Background()); err == nil {
		t.Errorf("expected error")
	}
}
