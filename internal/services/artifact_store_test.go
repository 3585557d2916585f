package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/storage"
	"github.com/yoockh/thinkprobe/internal/utils"
	"github.com/yoockh/thinkprobe/internal/workers"
)

type fakeSessionRepo struct {
	created  []*models.Session
	finished []*models.Session
	err      error
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *models.Session) error {
	f.created = append(f.created, s)
	return f.err
}
func (f *fakeSessionRepo) GetBySessionID(ctx context.Context, id string) (*models.Session, error) {
	return nil, utils.ErrNotFound
}
func (f *fakeSessionRepo) Finish(ctx context.Context, s *models.Session) error {
	f.finished = append(f.finished, s)
	return f.err
}
func (f *fakeSessionRepo) SetTranscript(ctx context.Context, id, text string) error { return nil }
func (f *fakeSessionRepo) ListRecent(ctx context.Context, limit int64) ([]models.Session, error) {
	return nil, nil
}

type fakeSampleRepo struct {
	rate    int
	samples map[string][]float64
}

func (f *fakeSampleRepo) InsertSession(ctx context.Context, id string, rate int, s map[string][]float64) error {
	f.rate, f.samples = rate, s
	return nil
}
func (f *fakeSampleRepo) ListBySession(ctx context.Context, id string) ([]models.EEGRecording, error) {
	return nil, nil
}

type fakeUploader struct {
	name, contentType string
	body              []byte
	err               error
}

func (f *fakeUploader) Upload(ctx context.Context, name, contentType string, r io.Reader) (storage.Object, error) {
	if f.err != nil {
		return storage.Object{}, f.err
	}
	f.name, f.contentType = name, contentType
	f.body, _ = io.ReadAll(r)
	return storage.Object{Name: name, URI: "gs://bucket/" + name}, nil
}

type fakeQueue struct{ jobs []workers.TranscriptJob }

func (f *fakeQueue) Enqueue(ctx context.Context, j workers.TranscriptJob) error {
	f.jobs = append(f.jobs, j)
	return nil
}

func artifacts() *models.SessionArtifacts {
	return &models.SessionArtifacts{
		Session:     &models.Session{SessionID: "s1", Status: models.SessionEnded},
		Audio:       []byte("opus-bytes"),
		AudioFormat: "audio/webm;codecs=opus",
		EEGSamples:  map[string][]float64{"TP9": {1, 2}, "TP10": {3}},
	}
}

func TestArtifactStoreSave(t *testing.T) {
	repo := &fakeSessionRepo{}
	samples := &fakeSampleRepo{}
	up := &fakeUploader{}
	q := &fakeQueue{}
	store := NewArtifactStore(ArtifactStoreDeps{
		Sessions: repo, Samples: samples, Uploader: up, Queue: q, Language: "en-US", Logger: quietLogger(),
	})

	a := artifacts()
	if err := store.Save(context.Background(), a); err != nil {
		t.Fatalf("save: %v", err)
	}
	if up.name != "sessions/s1/audio.webm" || up.contentType != "audio/webm" || string(up.body) != "opus-bytes" {
		t.Errorf("upload name=%q type=%q body=%q", up.name, up.contentType, up.body)
	}
	if a.AudioURL != "gs://bucket/sessions/s1/audio.webm" || a.Session.AudioObject != a.AudioURL {
		t.Errorf("url=%q object=%q", a.AudioURL, a.Session.AudioObject)
	}
	if len(repo.finished) != 1 {
		t.Errorf("finished=%d", len(repo.finished))
	}
	if samples.rate != 256 || len(samples.samples) != 2 {
		t.Errorf("samples rate=%d n=%d", samples.rate, len(samples.samples))
	}
	if len(q.jobs) != 1 || q.jobs[0].URI != a.Session.AudioObject || q.jobs[0].Language != "en-US" {
		t.Errorf("jobs=%+v", q.jobs)
	}
}

func TestArtifactStoreUploadFailure(t *testing.T) {
	repo := &fakeSessionRepo{}
	q := &fakeQueue{}
	store := NewArtifactStore(ArtifactStoreDeps{
		Sessions: repo, Uploader: &fakeUploader{err: errors.New("403")}, Queue: q, Logger: quietLogger(),
	})

	err := store.Save(context.Background(), artifacts())
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("err=%v", err)
	}
	// the session record is still written; nothing to transcribe
	if len(repo.finished) != 1 || len(q.jobs) != 0 {
		t.Errorf("finished=%d jobs=%d", len(repo.finished), len(q.jobs))
	}
}

func TestArtifactStoreValidation(t *testing.T) {
	store := NewArtifactStore(ArtifactStoreDeps{Sessions: &fakeSessionRepo{}})
	if err := store.Save(context.Background(), &models.SessionArtifacts{}); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Errorf("err=%v", err)
	}
	repo := &fakeSessionRepo{err: errors.New("mongo down")}
	store = NewArtifactStore(ArtifactStoreDeps{Sessions: repo, Logger: quietLogger()})
	if err := store.Save(context.Background(), artifacts()); !utils.IsCode(err, utils.CodeInternal) {
		t.Errorf("err=%v", err)
	}
	if err := store.Begin(context.Background(), &models.Session{SessionID: "s"}); !utils.IsCode(err, utils.CodeInternal) {
		t.Errorf("begin err=%v", err)
	}
}
