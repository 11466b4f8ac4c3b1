package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/sync-service/internal/model"
)

type MongoStore struct {
	messages      *mongo.Collection
	notifications *mongo.Collection
	pushTokens    *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	s := &MongoStore{
		messages:      db.Collection("messages"),
		notifications: db.Collection("notifications"),
		pushTokens:    db.Collection("push_tokens"),
	}
	s.ensureIndexes()
	return s
}

func (s *MongoStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("sender_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("receiver_created_idx"),
		},
	})
	_, _ = s.notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("user_created_idx"),
	})
	_, _ = s.pushTokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_token_idx"),
	})
}

func (s *MongoStore) InsertMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

func (s *MongoStore) UpdateMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

func (s *MongoStore) ListMessages(ctx context.Context, userID string) ([]model.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": userID},
		bson.M{"receiver_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []model.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if _, err := s.notifications.InsertOne(ctx, n); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (s *MongoStore) UpdateNotificationsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.notifications.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"read": true}},
	)
	return err
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.notifications.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []model.Notification{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertPushToken registers a (user, token) pair. Re-registering the same
// pair is a no-op thanks to $setOnInsert under the unique index.
func (s *MongoStore) UpsertPushToken(ctx context.Context, userID, token string) error {
	filter := bson.M{"user_id": userID, "token": token}
	update := bson.M{"$setOnInsert": model.PushToken{
		UserID:    userID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}}
	_, err := s.pushTokens.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) ListPushTokens(ctx context.Context, userID string) ([]model.PushToken, error) {
	cur, err := s.pushTokens.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []model.PushToken{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
