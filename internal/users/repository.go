package users

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (User, error)
	ListByRole(ctx context.Context, role string) ([]User, error)
	// NormalizeConvertedLeads rewrites a legacy non-array convertedLeads value
	// as an array so $addToSet can operate on it.
	NormalizeConvertedLeads(ctx context.Context, id string, ids []string, now time.Time) error
	AddConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error
	RemoveConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error
	RemoveConvertedLeadFromAll(ctx context.Context, leadID string, now time.Time) error
	IncPerformancePoint(ctx context.Context, userID string, delta int, now time.Time) error
	IncTotalLeads(ctx context.Context, userID string, delta int, now time.Time) error
	ResetPerformancePoints(ctx context.Context, role string, now time.Time) (int64, error)
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *MongoRepository) ListByRole(ctx context.Context, role string) ([]User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{"role": role, "isActive": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := make([]User, 0)
	for cursor.Next(ctx) {
		var user User
		if err := cursor.Decode(&user); err != nil {
			return nil, err
		}
		items = append(items, user)
	}
	return items, cursor.Err()
}

func (r *MongoRepository) NormalizeConvertedLeads(ctx context.Context, id string, ids []string, now time.Time) error {
	if ids == nil {
		ids = []string{}
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"convertedLeads": ids, "updatedAt": now},
	})
	return err
}

func (r *MongoRepository) AddConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$addToSet": bson.M{"convertedLeads": leadID},
		"$set":      bson.M{"updatedAt": now},
	})
	return err
}

func (r *MongoRepository) RemoveConvertedLead(ctx context.Context, userID, leadID string, now time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$pull": bson.M{"convertedLeads": leadID},
		"$set":  bson.M{"updatedAt": now},
	})
	return err
}

// RemoveConvertedLeadFromAll is the defensive cleanup used on reject: the lead
// id is pulled from every user document that carries it.
func (r *MongoRepository) RemoveConvertedLeadFromAll(ctx context.Context, leadID string, now time.Time) error {
	_, err := r.col.UpdateMany(ctx, bson.M{"convertedLeads": leadID}, bson.M{
		"$pull": bson.M{"convertedLeads": leadID},
		"$set":  bson.M{"updatedAt": now},
	})
	return err
}

func (r *MongoRepository) IncPerformancePoint(ctx context.Context, userID string, delta int, now time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"performancePoint": delta},
		"$set": bson.M{"updatedAt": now},
	})
	return err
}

func (r *MongoRepository) IncTotalLeads(ctx context.Context, userID string, delta int, now time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"totalLeads": delta},
		"$set": bson.M{"updatedAt": now},
	})
	return err
}

func (r *MongoRepository) ResetPerformancePoints(ctx context.Context, role string, now time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx, bson.M{"role": role}, bson.M{
		"$set": bson.M{"performancePoint": 0, "updatedAt": now},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
