package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/ukydev/fleet-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserCollection implements UserCollection for MongoDB
type MongoUserCollection struct {
	Collection *mongo.Collection
	Counters   *mongo.Collection
}

// InsertUser inserts a new user into the database
func (c *MongoUserCollection) InsertUser(ctx context.Context, user models.User) (*models.User, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	if user.ID == 0 {
		id, err := nextID(ctx, c.Counters, "users")
		if err != nil {
			return nil, err
		}
		user.ID = id
	}
	if _, err := c.Collection.InsertOne(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUsers lists users, optionally only those with role
func (c *MongoUserCollection) FindUsers(ctx context.Context, role models.Role) ([]models.User, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	filter := bson.M{}
	if role != "" {
		filter["role"] = role
	}
	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FindUserByID finds a user by their ID
func (c *MongoUserCollection) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return c.findOne(ctx, bson.M{"id": id}, fmt.Sprintf("user %d", id))
}

// FindUserByUsername finds a user by their username
func (c *MongoUserCollection) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return c.findOne(ctx, bson.M{"username": username}, fmt.Sprintf("user %q", username))
}

func (c *MongoUserCollection) findOne(ctx context.Context, filter bson.M, what string) (*models.User, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var user models.User
	err := c.Collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// SetUserStatus sets the driver status of every user in ids
func (c *MongoUserCollection) SetUserStatus(ctx context.Context, ids []int64, status models.DriverStatus) (models.BulkResult, error) {
	return c.setMany(ctx, ids, bson.M{"status": status})
}

// SetUserRole sets the role of every user in ids
func (c *MongoUserCollection) SetUserRole(ctx context.Context, ids []int64, role models.Role) (models.BulkResult, error) {
	return c.setMany(ctx, ids, bson.M{"role": role})
}

func (c *MongoUserCollection) setMany(ctx context.Context, ids []int64, set bson.M) (models.BulkResult, error) {
	if c.Collection == nil {
		return models.BulkResult{}, fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateMany(ctx, idsFilter("id", ids), bson.M{"$set": set})
	if err != nil {
		return models.BulkResult{}, err
	}
	return models.BulkResult{Matched: result.MatchedCount, Modified: result.ModifiedCount}, nil
}

// DeleteUsers deletes every user in ids
func (c *MongoUserCollection) DeleteUsers(ctx context.Context, ids []int64) (int64, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.DeleteMany(ctx, idsFilter("id", ids))
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
