package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	accountsCollection = "accounts"
	messagesCollection = "messages"

	minMessageId = 1
	maxMessageId = 999_999_999
	// maxIdAttempts bounds retries when a drawn id collides with an existing one.
	maxIdAttempts = 10
)

type MongoStore struct {
	client   *mongo.Client
	accounts *mongo.Collection
	messages *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	return NewMongoStoreFromDatabase(client.Database(dbName)), nil
}

// NewMongoStoreFromDatabase builds a store over an already connected database.
func NewMongoStoreFromDatabase(db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:   db.Client(),
		accounts: db.Collection(accountsCollection),
		messages: db.Collection(messagesCollection),
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	if _, err := s.accounts.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Account{}, fmt.Errorf("account %q: %w", account.Username, ErrDuplicate)
		}
		return Account{}, err
	}

	return account, nil
}

func (s *MongoStore) GetAccount(ctx context.Context, username string) (Account, error) {
	var a Account
	err := s.accounts.FindOne(ctx, bson.M{"_id": username}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, ErrNotFound
	}

	return a, err
}

func (s *MongoStore) SetActive(ctx context.Context, username string, active bool) error {
	return s.setAccountField(ctx, username, "active", active)
}

func (s *MongoStore) SetBlocked(ctx context.Context, username string, blocked bool) error {
	return s.setAccountField(ctx, username, "blocked", blocked)
}

func (s *MongoStore) setAccountField(ctx context.Context, username, field string, value bool) error {
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": username},
		bson.M{"$set": bson.M{field: value}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *MongoStore) ListAccounts(ctx context.Context, group AccountGroup) ([]Account, error) {
	var filter bson.M
	switch group {
	case GroupOnline:
		filter = bson.M{"active": true, "blocked": false}
	case GroupOffline:
		filter = bson.M{"active": false, "blocked": false}
	case GroupBlocked:
		filter = bson.M{"blocked": true}
	default:
		return nil, fmt.Errorf("unknown account group %q", group)
	}

	cur, err := s.accounts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}

	accounts := []Account{}
	if err := cur.All(ctx, &accounts); err != nil {
		return nil, err
	}

	return accounts, nil
}

// CreateMessage inserts msg. A zero id is replaced by a random unused id.
func (s *MongoStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.Id != 0 {
		if _, err := s.messages.InsertOne(ctx, msg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return Message{}, fmt.Errorf("message %d: %w", msg.Id, ErrDuplicate)
			}
			return Message{}, err
		}
		return msg, nil
	}

	for range maxIdAttempts {
		msg.Id = randomMessageId()
		_, err := s.messages.InsertOne(ctx, msg)
		if err == nil {
			return msg, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return Message{}, err
		}
	}

	return Message{}, fmt.Errorf("no free message id after %d attempts", maxIdAttempts)
}

func randomMessageId() int {
	return minMessageId + rand.IntN(maxMessageId-minMessageId+1)
}

func (s *MongoStore) GetMessage(ctx context.Context, id int) (Message, error) {
	var m Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, ErrNotFound
	}

	return m, err
}

func (s *MongoStore) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	var m Message
	err := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.Id},
		bson.M{"$set": bson.M{"text": msg.Text}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Message{}, ErrNotFound
	}

	return m, err
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id int) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	query := bson.M{}
	if !anyValue(filter.From) {
		query["from"] = filter.From
	}
	if !anyValue(filter.To) {
		query["to"] = filter.To
	}

	cur, err := s.messages.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}

	messages := []Message{}
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}
