package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/RishiKendai/plagcode/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AlertsRepository struct {
	mongoRepo *MongoRepository
}

func NewAlertsRepository(mongoRepo *MongoRepository) *AlertsRepository {
	return &AlertsRepository{
		mongoRepo: mongoRepo,
	}
}

func (r *AlertsRepository) Insert(ctx context.Context, alert *models.Alert) error {
	if err := r.mongoRepo.InsertOne(ctx, alertsCollection, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *AlertsRepository) List(ctx context.Context, limit int, query string) ([]models.Alert, error) {
	filter := bson.M{}
	if query != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"scanId": pattern},
			bson.M{"service": pattern},
			bson.M{"errorCode": pattern},
			bson.M{"message": pattern},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.mongoRepo.FindMany(ctx, alertsCollection, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}
	defer cursor.Close(ctx)

	alerts := []models.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}
