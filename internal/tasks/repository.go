package tasks

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, task Task) (Task, error)
	GetByID(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Task, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	Update(ctx context.Context, id string, set bson.M, now time.Time) (Task, error)
	Delete(ctx context.Context, id string) error
	FindOverdue(ctx context.Context, asOf time.Time) ([]Task, error)
	MarkOverdueNotified(ctx context.Context, ids []string, now time.Time) (int64, error)
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Create(ctx context.Context, task Task) (Task, error) {
	task.ID = primitive.NewObjectID().Hex()
	if _, err := r.col.InsertOne(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (Task, error) {
	var task Task
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	return task, err
}

func (r *MongoRepository) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "dueDate", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)
	cur, err := r.col.Find(ctx, listQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Task, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) Count(ctx context.Context, filter ListFilter) (int64, error) {
	return r.col.CountDocuments(ctx, listQuery(filter))
}

func (r *MongoRepository) Update(ctx context.Context, id string, set bson.M, now time.Time) (Task, error) {
	set["updatedAt"] = now
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var task Task
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&task)
	return task, err
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

// FindOverdue returns unfinished tasks past their due date that have not
// been alerted yet.
func (r *MongoRepository) FindOverdue(ctx context.Context, asOf time.Time) ([]Task, error) {
	query := bson.M{
		"status":          bson.M{"$ne": StatusDone},
		"dueDate":         bson.M{"$lt": asOf},
		"overdueNotified": false,
	}
	cur, err := r.col.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Task, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) MarkOverdueNotified(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"overdueNotified": true, "updatedAt": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func listQuery(filter ListFilter) bson.M {
	query := bson.M{}
	if filter.AssignedTo != "" {
		query["assignedTo"] = filter.AssignedTo
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	return query
}
