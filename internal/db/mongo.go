package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Collections struct {
	Users             *mongo.Collection
	Stages            *mongo.Collection
	Leads             *mongo.Collection
	DealCloseRequests *mongo.Collection
	Notifications     *mongo.Collection
	Tasks             *mongo.Collection
}

func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *Collections, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, err
	}

	db := client.Database(dbName)

	cols := &Collections{
		Users:             db.Collection("users"),
		Stages:            db.Collection("stages"),
		Leads:             db.Collection("leads"),
		DealCloseRequests: db.Collection("deal_close_requests"),
		Notifications:     db.Collection("notifications"),
		Tasks:             db.Collection("tasks"),
	}

	return client, cols, nil
}

func EnsureIndexes(ctx context.Context, cols *Collections) error {
	indexTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := cols.Users.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = cols.Stages.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "position", Value: 1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = cols.Leads.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "stageId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "assignedTo", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "dealStatus", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = cols.DealCloseRequests.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "leadId", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "representative", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "requestedAt", Value: -1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = cols.Notifications.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "recipients", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "readBy.userId", Value: 1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = cols.Tasks.Indexes().CreateMany(indexTimeout, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "assignedTo", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "dueDate", Value: 1}},
		},
	})
	return err
}
