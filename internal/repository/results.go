package repository

import (
	"context"
	"fmt"

	"github.com/RishiKendai/plagcode/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// rows per InsertMany call
const insertBatchSize = 1000

type ResultsRepository struct {
	mongoRepo *MongoRepository
}

func NewResultsRepository(mongoRepo *MongoRepository) *ResultsRepository {
	return &ResultsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *ResultsRepository) ReplaceAll(ctx context.Context, scanID string, rows []models.PairResult) error {
	if err := r.DeleteByScan(ctx, scanID); err != nil {
		return err
	}

	opts := options.InsertMany().SetOrdered(false)
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		docs := make([]interface{}, 0, end-start)
		for _, row := range rows[start:end] {
			row.ScanID = scanID
			docs = append(docs, row)
		}
		if err := r.mongoRepo.InsertMany(ctx, resultsCollection, docs, opts); err != nil {
			return fmt.Errorf("failed to insert pair results: %w", err)
		}
	}
	return nil
}

func (r *ResultsRepository) DeleteByScan(ctx context.Context, scanID string) error {
	if _, err := r.mongoRepo.DeleteMany(ctx, resultsCollection, bson.M{"scanId": scanID}); err != nil {
		return fmt.Errorf("failed to delete pair results: %w", err)
	}
	return nil
}

func (r *ResultsRepository) ListByScan(ctx context.Context, scanID string) ([]models.PairResult, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "similarity", Value: -1},
		{Key: "fileA", Value: 1},
		{Key: "fileB", Value: 1},
	})

	cursor, err := r.mongoRepo.FindMany(ctx, resultsCollection, bson.M{"scanId": scanID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find pair results: %w", err)
	}
	defer cursor.Close(ctx)

	rows := []models.PairResult{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode pair results: %w", err)
	}
	return rows, nil
}

func (r *ResultsRepository) Count(ctx context.Context, scanID string) (int64, error) {
	count, err := r.mongoRepo.CountDocuments(ctx, resultsCollection, bson.M{"scanId": scanID})
	if err != nil {
		return 0, fmt.Errorf("failed to count pair results: %w", err)
	}
	return count, nil
}
