package stages

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, stage Stage) error
	GetByID(ctx context.Context, id string) (Stage, error)
	ListOrdered(ctx context.Context) ([]Stage, error)
	MaxPosition(ctx context.Context) (int, bool, error)
	Update(ctx context.Context, id string, set bson.M, now time.Time) (Stage, error)
	Delete(ctx context.Context, id string) error
	// ShiftPositionsAfter decrements every position greater than pos, keeping
	// the sequence dense after a delete.
	ShiftPositionsAfter(ctx context.Context, pos int, now time.Time) error
	// SetPositions rewrites positions to match the order of ids in one bulk
	// write.
	SetPositions(ctx context.Context, orderedIDs []string, now time.Time) error
	FindTerminal(ctx context.Context, flag string) (Stage, error)
	FindHighestPosition(ctx context.Context) (Stage, error)
	CountTerminal(ctx context.Context, flag string, excludeID string) (int64, error)
}

type MongoRepository struct {
	col *mongo.Collection
}

func NewRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Create(ctx context.Context, stage Stage) error {
	_, err := r.col.InsertOne(ctx, stage)
	return err
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (Stage, error) {
	var stage Stage
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&stage); err != nil {
		return Stage{}, err
	}
	return stage, nil
}

func (r *MongoRepository) ListOrdered(ctx context.Context) ([]Stage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := make([]Stage, 0)
	for cursor.Next(ctx) {
		var stage Stage
		if err := cursor.Decode(&stage); err != nil {
			return nil, err
		}
		items = append(items, stage)
	}
	return items, cursor.Err()
}

func (r *MongoRepository) MaxPosition(ctx context.Context) (int, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "position", Value: -1}})
	var stage Stage
	err := r.col.FindOne(ctx, bson.M{}, opts).Decode(&stage)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stage.Position, true, nil
}

func (r *MongoRepository) Update(ctx context.Context, id string, set bson.M, now time.Time) (Stage, error) {
	set["updatedAt"] = now
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated Stage
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		return Stage{}, err
	}
	return updated, nil
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

func (r *MongoRepository) ShiftPositionsAfter(ctx context.Context, pos int, now time.Time) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"position": bson.M{"$gt": pos}},
		bson.M{"$inc": bson.M{"position": -1}, "$set": bson.M{"updatedAt": now}},
	)
	return err
}

func (r *MongoRepository) SetPositions(ctx context.Context, orderedIDs []string, now time.Time) error {
	if len(orderedIDs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$set": bson.M{"position": i, "updatedAt": now}}))
	}
	_, err := r.col.BulkWrite(ctx, writes)
	return err
}

func (r *MongoRepository) FindTerminal(ctx context.Context, flag string) (Stage, error) {
	var stage Stage
	if err := r.col.FindOne(ctx, bson.M{"isTerminal": flag}).Decode(&stage); err != nil {
		return Stage{}, err
	}
	return stage, nil
}

func (r *MongoRepository) FindHighestPosition(ctx context.Context) (Stage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "position", Value: -1}})
	var stage Stage
	if err := r.col.FindOne(ctx, bson.M{}, opts).Decode(&stage); err != nil {
		return Stage{}, err
	}
	return stage, nil
}

// GetStageTitle satisfies the stage-reference checks of the leads service.
func (r *MongoRepository) GetStageTitle(ctx context.Context, id string) (string, error) {
	stage, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return stage.Title, nil
}

func (r *MongoRepository) CountTerminal(ctx context.Context, flag string, excludeID string) (int64, error) {
	filter := bson.M{"isTerminal": flag}
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	return r.col.CountDocuments(ctx, filter)
}
