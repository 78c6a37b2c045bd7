package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// logs kept per scan; older lines are sliced off on push
const maxScanLogs = 500

type ScansRepository struct {
	mongoRepo *MongoRepository
}

func NewScansRepository(mongoRepo *MongoRepository) *ScansRepository {
	return &ScansRepository{
		mongoRepo: mongoRepo,
	}
}

// notTerminal matches a scan that can still transition
func notTerminal(id string) bson.M {
	return bson.M{"_id": id, "status": bson.M{"$nin": models.TerminalStatuses}}
}

func (r *ScansRepository) Create(ctx context.Context, scan *models.Scan) error {
	if scan.Logs == nil {
		scan.Logs = []models.LogEntry{}
	}
	if err := r.mongoRepo.InsertOne(ctx, scansCollection, scan); err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

func (r *ScansRepository) Get(ctx context.Context, id string) (*models.Scan, error) {
	var scan models.Scan
	err := r.mongoRepo.FindOne(ctx, scansCollection, bson.M{"_id": id}).Decode(&scan)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scan: %w", err)
	}
	return &scan, nil
}

func (r *ScansRepository) List(ctx context.Context, limit int) ([]models.Scan, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"logs": 0})

	cursor, err := r.mongoRepo.FindMany(ctx, scansCollection, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find scans: %w", err)
	}
	defer cursor.Close(ctx)

	scans := []models.Scan{}
	if err := cursor.All(ctx, &scans); err != nil {
		return nil, fmt.Errorf("failed to decode scans: %w", err)
	}
	return scans, nil
}

func (r *ScansRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	ok, err := r.mongoRepo.UpdateOne(ctx, scansCollection,
		bson.M{"_id": id, "status": models.StatusQueued},
		bson.M{"$set": bson.M{"status": models.StatusRunning, "startedAt": startedAt}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark scan running: %w", err)
	}
	return ok, nil
}

func (r *ScansRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.mongoRepo.UpdateOne(ctx, scansCollection, notTerminal(id),
		bson.M{"$max": bson.M{"progress": progress}},
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (r *ScansRepository) AppendLog(ctx context.Context, id string, entry models.LogEntry) error {
	_, err := r.mongoRepo.UpdateOne(ctx, scansCollection, bson.M{"_id": id},
		bson.M{"$push": bson.M{"logs": bson.M{"$each": []models.LogEntry{entry}, "$slice": -maxScanLogs}}},
	)
	if err != nil {
		return fmt.Errorf("failed to append scan log: %w", err)
	}
	return nil
}

func (r *ScansRepository) SetCounts(ctx context.Context, id string, fileCount, pairCount int, excluded []string) error {
	_, err := r.mongoRepo.UpdateOne(ctx, scansCollection, notTerminal(id),
		bson.M{"$set": bson.M{"fileCount": fileCount, "pairCount": pairCount, "excluded": excluded}},
	)
	if err != nil {
		return fmt.Errorf("failed to update scan counts: %w", err)
	}
	return nil
}

func (r *ScansRepository) Complete(ctx context.Context, id string, c models.Completion) (bool, error) {
	ok, err := r.mongoRepo.UpdateOne(ctx, scansCollection,
		bson.M{"_id": id, "status": models.StatusRunning},
		bson.M{"$set": bson.M{
			"status":         models.StatusComplete,
			"progress":       100,
			"fileCount":      c.FileCount,
			"pairCount":      c.PairCount,
			"excluded":       c.Excluded,
			"highRiskCount":  c.HighRiskCount,
			"topSimilarity":  c.TopSimilarity,
			"meanSimilarity": c.MeanSimilarity,
			"runtimeMs":      c.RuntimeMS,
			"finishedAt":     c.FinishedAt,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete scan: %w", err)
	}
	return ok, nil
}

func (r *ScansRepository) Fail(ctx context.Context, id string, f models.Failure) (bool, error) {
	set := bson.M{
		"status":     models.StatusFailed,
		"errorCode":  f.ErrorCode,
		"error":      f.Error,
		"runtimeMs":  f.RuntimeMS,
		"finishedAt": f.FinishedAt,
	}
	if f.Excluded != nil {
		set["excluded"] = f.Excluded
	}
	ok, err := r.mongoRepo.UpdateOne(ctx, scansCollection, notTerminal(id), bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to mark scan failed: %w", err)
	}
	return ok, nil
}

func (r *ScansRepository) Cancel(ctx context.Context, id string, finishedAt time.Time) (bool, error) {
	ok, err := r.mongoRepo.UpdateOne(ctx, scansCollection, notTerminal(id),
		bson.M{"$set": bson.M{"status": models.StatusCancelled, "finishedAt": finishedAt}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel scan: %w", err)
	}
	return ok, nil
}
