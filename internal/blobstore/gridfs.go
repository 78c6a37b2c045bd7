package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const gridFSBucketName = "source_blobs"

// GridFSStore keeps blobs in a MongoDB GridFS bucket
type GridFSStore struct {
	db *mongo.Database
}

func NewGridFSStore(db *mongo.Database) *GridFSStore {
	return &GridFSStore{db: db}
}

// bucket returns a fresh bucket so per-call deadlines do not leak across goroutines
func (s *GridFSStore) bucket() (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(gridFSBucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return b, nil
}

func (s *GridFSStore) Put(ctx context.Context, key string, data []byte) error {
	b, err := s.bucket()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set gridfs deadline: %w", err)
		}
	}
	if _, err := b.UploadFromStream(key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

func (s *GridFSStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.bucket()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set gridfs deadline: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := b.DownloadToStreamByName(key, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *GridFSStore) DeletePrefix(ctx context.Context, prefix string) error {
	b, err := s.bucket()
	if err != nil {
		return err
	}

	filter := bson.M{"filename": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	cursor, err := b.FindContext(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list blobs: %w", err)
	}
	defer cursor.Close(ctx)

	var files []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		return fmt.Errorf("failed to decode blob list: %w", err)
	}
	for _, f := range files {
		if err := b.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("failed to delete blob: %w", err)
		}
	}
	return nil
}
