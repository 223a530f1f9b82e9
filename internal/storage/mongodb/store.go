// Package mongodb implements the storage interfaces using MongoDB. The
// exactly-once claim of pull locks uses FindOneAndDelete, which is atomic
// per document on the server side.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-as4-gateway/internal/storage"
	"github.com/sirosfoundation/go-as4-gateway/pkg/reliability"
)

// Store implements storage.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	logs      *mongo.Collection
	locks     *mongo.Collection
	envelopes *mongo.Collection
}

// Config holds MongoDB connection settings.
type Config struct {
	URI      string
	Database string
}

// NewStore connects to MongoDB and prepares the collections and indexes.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		db:        db,
		logs:      db.Collection("delivery_logs"),
		locks:     db.Collection("delivery_locks"),
		envelopes: db.Collection("raw_envelopes"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}, {Key: "msh_role", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating delivery log indexes: %w", err)
	}

	_, err = s.locks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "mpc", Value: 1}, {Key: "initiator_party", Value: 1}, {Key: "staled_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating delivery lock indexes: %w", err)
	}
	return nil
}

// Close disconnects the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// DeliveryLogStore implementation

func (s *Store) CreateDeliveryLog(ctx context.Context, log *storage.DeliveryLog) error {
	_, err := s.logs.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("delivery log for message %s: %w", log.MessageID, storage.ErrAlreadyExists)
	}
	return err
}

func (s *Store) GetDeliveryLog(ctx context.Context, messageID string, role reliability.MshRole) (*storage.DeliveryLog, error) {
	var log storage.DeliveryLog
	err := s.logs.FindOne(ctx, bson.M{"message_id": messageID, "msh_role": role}).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *Store) UpdateDeliveryLog(ctx context.Context, log *storage.DeliveryLog) error {
	res, err := s.logs.ReplaceOne(ctx, bson.M{"_id": log.ID}, log)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDeliveryLog(ctx context.Context, id string) error {
	_, err := s.logs.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) GetStatus(ctx context.Context, messageID string) (reliability.MessageStatus, error) {
	var log storage.DeliveryLog
	opts := options.FindOne().SetProjection(bson.M{"status": 1})
	err := s.logs.FindOne(ctx, bson.M{"message_id": messageID}, opts).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return reliability.StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return log.Status, nil
}

func (s *Store) FindRetryDue(ctx context.Context, now time.Time, limit int) ([]*storage.DeliveryLog, error) {
	query := bson.M{
		"msh_role": reliability.RoleSending,
		"status": bson.M{"$in": []reliability.MessageStatus{
			reliability.StatusWaitingForRetry,
			reliability.StatusWaitingForReceipt,
		}},
		"next_attempt": bson.M{"$ne": nil, "$lte": now},
	}

	opts := options.Find().SetSort(bson.D{{Key: "next_attempt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var due []*storage.DeliveryLog
	if err := cursor.All(ctx, &due); err != nil {
		return nil, err
	}
	return due, nil
}

// DeliveryLockStore implementation

func (s *Store) CreateLock(ctx context.Context, lock *storage.DeliveryLock) error {
	_, err := s.locks.InsertOne(ctx, lock)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("delivery lock for message %s: %w", lock.MessageID, storage.ErrAlreadyExists)
	}
	return err
}

// TryClaim consumes the lock via FindOneAndDelete. The server applies the
// read and the delete atomically, so concurrent claimants get the document
// at most once; losers see ErrNoDocuments.
func (s *Store) TryClaim(ctx context.Context, lockID string) (*storage.DeliveryLock, error) {
	var lock storage.DeliveryLock
	err := s.locks.FindOneAndDelete(ctx, bson.M{"_id": lockID}).Decode(&lock)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *Store) NextLockID(ctx context.Context, mpc, initiatorParty string) (string, error) {
	query := bson.M{"mpc": mpc}
	if initiatorParty != "" {
		query["initiator_party"] = initiatorParty
	}

	var lock storage.DeliveryLock
	opts := options.FindOne().
		SetSort(bson.D{{Key: "staled_at", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	err := s.locks.FindOne(ctx, query, opts).Decode(&lock)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return lock.ID, nil
}

func (s *Store) DeleteLockByMessageID(ctx context.Context, messageID string) error {
	_, err := s.locks.DeleteMany(ctx, bson.M{"message_id": messageID})
	return err
}

// RawEnvelopeStore implementation

func (s *Store) StoreRawEnvelope(ctx context.Context, env *storage.RawEnvelope) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.envelopes.ReplaceOne(ctx, bson.M{"_id": env.MessageID}, env, opts)
	return err
}

func (s *Store) GetRawEnvelope(ctx context.Context, messageID string) (*storage.RawEnvelope, error) {
	var env storage.RawEnvelope
	err := s.envelopes.FindOne(ctx, bson.M{"_id": messageID}).Decode(&env)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) DeleteRawEnvelope(ctx context.Context, messageID string) error {
	_, err := s.envelopes.DeleteOne(ctx, bson.M{"_id": messageID})
	return err
}
