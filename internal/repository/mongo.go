package repository

import (
	"context"
	"fmt"

	mongoInfra "github.com/RishiKendai/plagcode/internal/infra/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	scansCollection   = "scans"
	filesCollection   = "scan_files"
	resultsCollection = "scan_results"
	alertsCollection  = "alerts"
)

type MongoRepository struct {
	db *mongo.Database
}

func NewMongoRepository(client *mongoInfra.Client) *MongoRepository {
	return &MongoRepository{
		db: client.Database,
	}
}

// NewMongoStore wires every repository onto the same database
func NewMongoStore(mongoRepo *MongoRepository) *Store {
	return &Store{
		Scans:   NewScansRepository(mongoRepo),
		Files:   NewFilesRepository(mongoRepo),
		Results: NewResultsRepository(mongoRepo),
		Alerts:  NewAlertsRepository(mongoRepo),
	}
}

func (r *MongoRepository) InsertOne(ctx context.Context, collection string, document interface{}, opts ...*options.InsertOneOptions) error {
	_, err := r.db.Collection(collection).InsertOne(ctx, document, opts...)
	return err
}

func (r *MongoRepository) InsertMany(ctx context.Context, collection string, documents []interface{}, opts ...*options.InsertManyOptions) error {
	if len(documents) == 0 {
		return nil
	}
	_, err := r.db.Collection(collection).InsertMany(ctx, documents, opts...)
	return err
}

func (r *MongoRepository) FindOne(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	return r.db.Collection(collection).FindOne(ctx, filter, opts...)
}

func (r *MongoRepository) FindMany(ctx context.Context, collection string, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return r.db.Collection(collection).Find(ctx, filter, opts...)
}

// UpdateOne reports whether a document matched filter
func (r *MongoRepository) UpdateOne(ctx context.Context, collection string, filter, update interface{}, opts ...*options.UpdateOptions) (bool, error) {
	res, err := r.db.Collection(collection).UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoRepository) DeleteMany(ctx context.Context, collection string, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	res, err := r.db.Collection(collection).DeleteMany(ctx, filter, opts...)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) CountDocuments(ctx context.Context, collection string, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return r.db.Collection(collection).CountDocuments(ctx, filter, opts...)
}

func (r *MongoRepository) GetCollection(collectionName string) *mongo.Collection {
	return r.db.Collection(collectionName)
}

// Database exposes the underlying database, used by the GridFS blob store
func (r *MongoRepository) Database() *mongo.Database {
	return r.db
}

// EnsureIndexes creates the indexes the queries rely on. It is safe to call on every start.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		scansCollection: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		filesCollection: {
			{
				Keys:    bson.D{{Key: "scanId", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		resultsCollection: {
			{Keys: bson.D{{Key: "scanId", Value: 1}, {Key: "similarity", Value: -1}}},
		},
		alertsCollection: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "scanId", Value: 1}}},
		},
	}
	for collection, models := range indexes {
		if _, err := r.GetCollection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
