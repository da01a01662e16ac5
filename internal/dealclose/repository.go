package dealclose

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, req DealCloseRequest) (DealCloseRequest, error)
	GetByID(ctx context.Context, id string) (DealCloseRequest, error)
	FindPendingByLead(ctx context.Context, leadID string) (DealCloseRequest, error)
	List(ctx context.Context, filter ListFilter, limit, offset int64) ([]DealCloseRequest, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	Approve(ctx context.Context, id, incentiveAmount, approvedBy string, at time.Time) (DealCloseRequest, error)
	Reject(ctx context.Context, id, reason, rejectedBy string, at time.Time) (DealCloseRequest, error)
	Delete(ctx context.Context, id string) error
	FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]DealCloseRequest, error)
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Create(ctx context.Context, req DealCloseRequest) (DealCloseRequest, error) {
	req.ID = primitive.NewObjectID().Hex()
	if _, err := r.col.InsertOne(ctx, req); err != nil {
		return DealCloseRequest{}, err
	}
	return req, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (DealCloseRequest, error) {
	var req DealCloseRequest
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	return req, err
}

func (r *MongoRepository) FindPendingByLead(ctx context.Context, leadID string) (DealCloseRequest, error) {
	var req DealCloseRequest
	err := r.col.FindOne(ctx, bson.M{"leadId": leadID, "status": StatusPending}).Decode(&req)
	return req, err
}

func (r *MongoRepository) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]DealCloseRequest, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "requestedAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)
	cur, err := r.col.Find(ctx, listQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]DealCloseRequest, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) Count(ctx context.Context, filter ListFilter) (int64, error) {
	return r.col.CountDocuments(ctx, listQuery(filter))
}

// Approve flips a pending request to approved. The status guard in the filter
// makes concurrent approve/reject calls race safely: the loser sees
// mongo.ErrNoDocuments.
func (r *MongoRepository) Approve(ctx context.Context, id, incentiveAmount, approvedBy string, at time.Time) (DealCloseRequest, error) {
	update := bson.M{"$set": bson.M{
		"status":            StatusApproved,
		"approvedBy":        approvedBy,
		"approvedAt":        at,
		"incentiveAmount":   incentiveAmount,
		"incentiveCurrency": IncentiveCurrency,
	}}
	return r.findOneAndUpdate(ctx, bson.M{"_id": id, "status": StatusPending}, update)
}

func (r *MongoRepository) Reject(ctx context.Context, id, reason, rejectedBy string, at time.Time) (DealCloseRequest, error) {
	update := bson.M{"$set": bson.M{
		"status":          StatusRejected,
		"rejectedBy":      rejectedBy,
		"rejectedAt":      at,
		"rejectionReason": reason,
	}}
	return r.findOneAndUpdate(ctx, bson.M{"_id": id, "status": StatusPending}, update)
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

func (r *MongoRepository) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]DealCloseRequest, error) {
	query := bson.M{"status": StatusPending, "requestedAt": bson.M{"$lte": cutoff}}
	cur, err := r.col.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "requestedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]DealCloseRequest, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (DealCloseRequest, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var req DealCloseRequest
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&req)
	return req, err
}

func listQuery(filter ListFilter) bson.M {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Representative != "" {
		query["representative"] = filter.Representative
	}
	return query
}
