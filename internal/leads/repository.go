package leads

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, lead Lead) error
	GetByID(ctx context.Context, id string) (Lead, error)
	List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Lead, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	Update(ctx context.Context, id string, set bson.M, history []HistoryEntry, now time.Time) (Lead, error)
	SetStage(ctx context.Context, id, stageID string, history HistoryEntry, now time.Time) (Lead, error)
	AddNote(ctx context.Context, id string, note Note, now time.Time) (Lead, error)
	Delete(ctx context.Context, id string) error
	DeleteByStage(ctx context.Context, stageID string) (int64, error)

	// Deal workflow writes. Each carries the expected current dealStatus in
	// its filter so racing transitions lose with ErrNoDocuments.
	MarkClosingRequested(ctx context.Context, id string, history HistoryEntry, now time.Time) (Lead, error)
	CloseDeal(ctx context.Context, id, stageID, closedBy string, history HistoryEntry, now time.Time) (Lead, error)
	ReopenDeal(ctx context.Context, id, restoreStageID, rejectionReason string, history HistoryEntry, now time.Time) (Lead, error)
	MarkLost(ctx context.Context, id, lostReason string, history HistoryEntry, now time.Time) (Lead, error)
	ResetToOpen(ctx context.Context, id string, history HistoryEntry, now time.Time) (Lead, error)
	AppendHistory(ctx context.Context, id string, entry HistoryEntry, now time.Time) error
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Create(ctx context.Context, lead Lead) error {
	_, err := r.col.InsertOne(ctx, lead)
	return err
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (Lead, error) {
	var lead Lead
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&lead); err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (r *MongoRepository) List(ctx context.Context, filter ListFilter, limit, offset int64) ([]Lead, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.col.Find(ctx, r.filterToBSON(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := make([]Lead, 0)
	for cursor.Next(ctx) {
		var lead Lead
		if err := cursor.Decode(&lead); err != nil {
			return nil, err
		}
		items = append(items, lead)
	}
	return items, cursor.Err()
}

func (r *MongoRepository) Count(ctx context.Context, filter ListFilter) (int64, error) {
	return r.col.CountDocuments(ctx, r.filterToBSON(filter))
}

func (r *MongoRepository) Update(ctx context.Context, id string, set bson.M, history []HistoryEntry, now time.Time) (Lead, error) {
	set["updatedAt"] = now
	update := bson.M{"$set": set}
	if len(history) > 0 {
		update["$push"] = bson.M{"history": bson.M{"$each": history}}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Lead
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&updated); err != nil {
		return Lead{}, err
	}
	return updated, nil
}

func (r *MongoRepository) SetStage(ctx context.Context, id, stageID string, history HistoryEntry, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$set":  bson.M{"stageId": stageID, "updatedAt": now},
		"$push": bson.M{"history": history},
	})
}

func (r *MongoRepository) AddNote(ctx context.Context, id string, note Note, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$set":  bson.M{"updatedAt": now},
		"$push": bson.M{"notes": note},
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

func (r *MongoRepository) DeleteByStage(ctx context.Context, stageID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"stageId": stageID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) MarkClosingRequested(ctx context.Context, id string, history HistoryEntry, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "dealStatus": DealStatusOpen},
		bson.M{
			"$set": bson.M{
				"dealStatus":         DealStatusClosingRequested,
				"closingRequestedAt": now,
				"updatedAt":          now,
			},
			"$unset": bson.M{"dealRejectionReason": ""},
			"$push":  bson.M{"history": history},
		})
}

func (r *MongoRepository) CloseDeal(ctx context.Context, id, stageID, closedBy string, history HistoryEntry, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "dealStatus": DealStatusClosingRequested},
		bson.M{
			"$set": bson.M{
				"dealStatus": DealStatusClosed,
				"stageId":    stageID,
				"closedAt":   now,
				"closedBy":   closedBy,
				"updatedAt":  now,
			},
			"$push": bson.M{"history": history},
		})
}

func (r *MongoRepository) ReopenDeal(ctx context.Context, id, restoreStageID, rejectionReason string, history HistoryEntry, now time.Time) (Lead, error) {
	set := bson.M{
		"dealStatus":          DealStatusOpen,
		"dealRejectionReason": rejectionReason,
		"updatedAt":           now,
	}
	if restoreStageID != "" {
		set["stageId"] = restoreStageID
	}
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "dealStatus": DealStatusClosingRequested},
		bson.M{
			"$set":   set,
			"$unset": bson.M{"closingRequestedAt": ""},
			"$push":  bson.M{"history": history},
		})
}

func (r *MongoRepository) MarkLost(ctx context.Context, id, lostReason string, history HistoryEntry, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "dealStatus": bson.M{"$in": []string{DealStatusOpen, DealStatusClosingRequested}}},
		bson.M{
			"$set": bson.M{
				"dealStatus": DealStatusLost,
				"lostReason": lostReason,
				"updatedAt":  now,
			},
			"$unset": bson.M{"closingRequestedAt": ""},
			"$push":  bson.M{"history": history},
		})
}

func (r *MongoRepository) ResetToOpen(ctx context.Context, id string, history HistoryEntry, now time.Time) (Lead, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": id, "dealStatus": DealStatusClosingRequested},
		bson.M{
			"$set": bson.M{
				"dealStatus": DealStatusOpen,
				"updatedAt":  now,
			},
			"$unset": bson.M{"closingRequestedAt": ""},
			"$push":  bson.M{"history": history},
		})
}

func (r *MongoRepository) AppendHistory(ctx context.Context, id string, entry HistoryEntry, now time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":  bson.M{"updatedAt": now},
		"$push": bson.M{"history": entry},
	})
	return err
}

func (r *MongoRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (Lead, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Lead
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		return Lead{}, err
	}
	return updated, nil
}

func (r *MongoRepository) filterToBSON(filter ListFilter) bson.M {
	query := bson.M{}
	if filter.StageID != "" {
		query["stageId"] = filter.StageID
	}
	if filter.DealStatus != "" {
		query["dealStatus"] = filter.DealStatus
	}
	if filter.AssignedTo != "" {
		query["assignedTo"] = filter.AssignedTo
	}
	return query
}
