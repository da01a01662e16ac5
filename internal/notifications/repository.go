package notifications

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, n Notification) error
	GetByID(ctx context.Context, id string) (Notification, error)
	ListForRecipient(ctx context.Context, userID string, limit, offset int64) ([]Notification, error)
	CountForRecipient(ctx context.Context, userID string) (int64, error)
	// MarkAsRead appends a read receipt unless one already exists for the
	// user. The returned bool reports whether a receipt was added.
	MarkAsRead(ctx context.Context, id, userID string, now time.Time) (Notification, bool, error)
	MarkAllAsRead(ctx context.Context, userID string, now time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Create(ctx context.Context, n Notification) error {
	_, err := r.col.InsertOne(ctx, n)
	return err
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (Notification, error) {
	var n Notification
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (r *MongoRepository) ListForRecipient(ctx context.Context, userID string, limit, offset int64) ([]Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.col.Find(ctx, bson.M{"recipients": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := make([]Notification, 0)
	for cursor.Next(ctx) {
		var n Notification
		if err := cursor.Decode(&n); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, cursor.Err()
}

func (r *MongoRepository) CountForRecipient(ctx context.Context, userID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"recipients": userID})
}

func (r *MongoRepository) MarkAsRead(ctx context.Context, id, userID string, now time.Time) (Notification, bool, error) {
	filter := bson.M{
		"_id":           id,
		"recipients":    userID,
		"readBy.userId": bson.M{"$ne": userID},
	}
	update := bson.M{
		"$push": bson.M{"readBy": ReadReceipt{UserID: userID, ReadAt: now}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Notification
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return Notification{}, false, err
	}

	// The filter misses both when the receipt already exists and when the
	// caller is not a recipient at all. Only the former is idempotent; a
	// non-recipient must not be handed the document.
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return Notification{}, false, err
	}
	if !existing.HasRecipient(userID) {
		return Notification{}, false, mongo.ErrNoDocuments
	}
	return existing, false, nil
}

func (r *MongoRepository) MarkAllAsRead(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"recipients": userID, "readBy.userId": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"readBy": ReadReceipt{UserID: userID, ReadAt: now}}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{
		"recipients":    userID,
		"readBy.userId": bson.M{"$ne": userID},
	})
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
