package bot

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserLedger tracks who may use the bot and how much they downloaded.
type UserLedger interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
	RecordDownload(ctx context.Context, userID int64, name string) error
}

type MongoUsers struct {
	users  *mongo.Collection
	banned *mongo.Collection
}

var _ UserLedger = (*MongoUsers)(nil)

func NewMongoUsers(db *mongo.Database) *MongoUsers {
	return &MongoUsers{
		users:  db.Collection("users"),
		banned: db.Collection("banned_users"),
	}
}

func (m *MongoUsers) IsBanned(ctx context.Context, userID int64) (bool, error) {
	n, err := m.banned.CountDocuments(ctx, userFilter(userID), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordDownload bumps the user's counter, creating the user on first use.
func (m *MongoUsers) RecordDownload(ctx context.Context, userID int64, name string) error {
	_, err := m.users.UpdateOne(ctx, userFilter(userID), downloadUpdate(name), options.Update().SetUpsert(true))
	return err
}

func userFilter(userID int64) bson.M {
	return bson.M{"user_id": userID}
}

func downloadUpdate(name string) bson.M {
	return bson.M{
		"$inc":         bson.M{"downloads": 1},
		"$setOnInsert": bson.M{"first_name": name},
	}
}
