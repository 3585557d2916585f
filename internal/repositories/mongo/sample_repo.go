package mongo

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/thinkprobe/internal/models"
)

// SampleRepository keeps the EEG samples retained at the end of a session.
// Documents expire through a TTL index on expires_at.
type SampleRepository interface {
	InsertSession(ctx context.Context, sessionID string, sampleRate int, samples map[string][]float64) error
	ListBySession(ctx context.Context, sessionID string) ([]models.EEGRecording, error)
}

type sampleRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewSampleRepo(db *mongo.Database, ttl time.Duration) SampleRepository {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &sampleRepo{col: db.Collection("eeg_recordings"), ttl: ttl}
}

func (r *sampleRepo) InsertSession(ctx context.Context, sessionID string, sampleRate int, samples map[string][]float64) error {
	if len(samples) == 0 {
		return nil
	}
	channels := make([]string, 0, len(samples))
	for ch := range samples {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	now := time.Now().UTC()
	docs := make([]any, 0, len(channels))
	for _, ch := range channels {
		docs = append(docs, models.EEGRecording{
			SessionID:  sessionID,
			Channel:    ch,
			SampleRate: sampleRate,
			Samples:    samples[ch],
			CreatedAt:  now,
			ExpiresAt:  now.Add(r.ttl),
		})
	}
	_, err := r.col.InsertMany(ctx, docs)
	return err
}

func (r *sampleRepo) ListBySession(ctx context.Context, sessionID string) ([]models.EEGRecording, error) {
	opts := options.Find().SetSort(bson.D{{Key: "channel", Value: 1}})

	cur, err := r.col.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.EEGRecording
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
