package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/utils"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	// Finish writes the final session document, inserting it if Create never ran.
	Finish(ctx context.Context, s *models.Session) error
	SetTranscript(ctx context.Context, sessionID, transcript string) error
	ListRecent(ctx context.Context, limit int64) ([]models.Session, error)
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) Finish(ctx context.Context, s *models.Session) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": s.SessionID},
		bson.M{"$set": bson.M{
			"problem":          s.Problem,
			"status":           s.Status,
			"observer":         s.Observer,
			"probes":           s.Probes,
			"end_suggestion":   s.EndSuggestion,
			"device_name":      s.DeviceName,
			"band_power":       s.BandPower,
			"audio_url":        s.AudioURL,
			"audio_object":     s.AudioObject,
			"created_at":       s.CreatedAt.UTC(),
			"ended_at":         s.EndedAt,
			"duration_seconds": s.DurationSeconds,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *sessionRepo) SetTranscript(ctx context.Context, sessionID, transcript string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"transcript": transcript}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) ListRecent(ctx context.Context, limit int64) ([]models.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"transcript": 0})

	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
