package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RishiKendai/plagcode/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type FilesRepository struct {
	mongoRepo *MongoRepository
}

func NewFilesRepository(mongoRepo *MongoRepository) *FilesRepository {
	return &FilesRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *FilesRepository) InsertMany(ctx context.Context, files []models.SourceFile) error {
	docs := make([]interface{}, len(files))
	for i := range files {
		docs[i] = files[i]
	}
	if err := r.mongoRepo.InsertMany(ctx, filesCollection, docs); err != nil {
		return fmt.Errorf("failed to insert scan files: %w", err)
	}
	return nil
}

func (r *FilesRepository) ListByScan(ctx context.Context, scanID string) ([]models.SourceFile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.mongoRepo.FindMany(ctx, filesCollection, bson.M{"scanId": scanID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find scan files: %w", err)
	}
	defer cursor.Close(ctx)

	files := []models.SourceFile{}
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode scan files: %w", err)
	}
	return files, nil
}

func (r *FilesRepository) Get(ctx context.Context, scanID, name string) (*models.SourceFile, error) {
	var file models.SourceFile
	err := r.mongoRepo.FindOne(ctx, filesCollection, bson.M{"scanId": scanID, "name": name}).Decode(&file)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scan file: %w", err)
	}
	return &file, nil
}
