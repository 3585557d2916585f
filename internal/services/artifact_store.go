package services

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/bandpower"
	"github.com/yoockh/thinkprobe/internal/models"
	mongorepo "github.com/yoockh/thinkprobe/internal/repositories/mongo"
	"github.com/yoockh/thinkprobe/internal/storage"
	"github.com/yoockh/thinkprobe/internal/utils"
	"github.com/yoockh/thinkprobe/internal/workers"
)

// ArtifactStore persists what a session leaves behind.
type ArtifactStore interface {
	// Begin records that a session started.
	Begin(ctx context.Context, s *models.Session) error
	// Save stores the final session, its audio and EEG samples. It fills in
	// AudioURL on success.
	Save(ctx context.Context, a *models.SessionArtifacts) error
}

type TranscriptQueue interface {
	Enqueue(ctx context.Context, job workers.TranscriptJob) error
}

type ArtifactStoreDeps struct {
	Sessions mongorepo.SessionRepository
	// optional
	Samples  mongorepo.SampleRepository
	Uploader storage.Uploader
	Queue    TranscriptQueue
	Language string
	Logger   *logrus.Logger
}

type artifactStore struct {
	d ArtifactStoreDeps
}

func NewArtifactStore(d ArtifactStoreDeps) ArtifactStore {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	return &artifactStore{d: d}
}

func (s *artifactStore) Begin(ctx context.Context, sess *models.Session) error {
	const op = "ArtifactStore.Begin"

	if err := s.d.Sessions.Create(ctx, sess); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to create session", err)
	}
	return nil
}

func (s *artifactStore) Save(ctx context.Context, a *models.SessionArtifacts) error {
	const op = "ArtifactStore.Save"

	if a == nil || a.Session == nil || a.Session.SessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session is required", nil)
	}
	sess := a.Session
	log := s.d.Logger.WithField("session_id", sess.SessionID)

	var errs []error
	if s.d.Uploader != nil && len(a.Audio) > 0 {
		obj, err := s.d.Uploader.Upload(ctx,
			storage.AudioObjectName(sess.SessionID, a.AudioFormat),
			contentType(a.AudioFormat),
			bytes.NewReader(a.Audio),
		)
		if err != nil {
			log.WithError(err).Warn("audio upload failed")
			errs = append(errs, err)
		} else {
			sess.AudioObject = obj.URI
			sess.AudioURL = obj.URL
			a.AudioURL = obj.URL
			if a.AudioURL == "" {
				a.AudioURL = obj.URI
			}
		}
	}

	if err := s.d.Sessions.Finish(ctx, sess); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save session", errors.Join(append(errs, err)...))
	}

	if s.d.Samples != nil && len(a.EEGSamples) > 0 {
		if err := s.d.Samples.InsertSession(ctx, sess.SessionID, bandpower.SampleRate, a.EEGSamples); err != nil {
			log.WithError(err).Warn("eeg samples not stored")
			errs = append(errs, err)
		}
	}

	if s.d.Queue != nil && sess.AudioObject != "" {
		err := s.d.Queue.Enqueue(ctx, workers.TranscriptJob{
			SessionID: sess.SessionID,
			URI:       sess.AudioObject,
			Format:    a.AudioFormat,
			Language:  s.d.Language,
		})
		if err != nil {
			log.WithError(err).Warn("transcript job not queued")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return utils.E(utils.CodeUnavailable, op, "some artifacts were not stored", errors.Join(errs...))
	}
	return nil
}

// contentType drops codec parameters some object stores reject.
func contentType(format string) string {
	base, _, _ := strings.Cut(format, ";")
	if base = strings.TrimSpace(base); base == "" {
		return "application/octet-stream"
	}
	return base
}
