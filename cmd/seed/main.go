package main

import (
	"context"
	"log"
	"os"
	"time"

	"crmdesk-backend/internal/auth"
	"crmdesk-backend/internal/config"
	"crmdesk-backend/internal/db"
	"crmdesk-backend/internal/stages"
	"crmdesk-backend/internal/users"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type seedStage struct {
	Title      string
	Position   int
	IsTerminal string
}

type seedUser struct {
	Name        string
	Email       string
	Role        string
	PasswordEnv string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, cols, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Disconnect(context.Background())

	if err := db.EnsureIndexes(ctx, cols); err != nil {
		log.Fatal(err)
	}

	pipeline := []seedStage{
		{Title: "New", Position: 0},
		{Title: "Contacted", Position: 1},
		{Title: "Qualified", Position: 2},
		{Title: "Proposal Sent", Position: 3},
		{Title: "Negotiation", Position: 4},
		{Title: "Won", Position: 5, IsTerminal: stages.TerminalWon},
		{Title: "Lost", Position: 6, IsTerminal: stages.TerminalLost},
	}

	now := time.Now().In(cfg.Timezone)
	for _, stage := range pipeline {
		filter := bson.M{"title": stage.Title}
		setOnInsert := bson.M{
			"_id":       primitive.NewObjectID().Hex(),
			"title":     stage.Title,
			"position":  stage.Position,
			"isActive":  true,
			"createdBy": "seed",
			"createdAt": now,
			"updatedAt": now,
		}
		if stage.IsTerminal != "" {
			setOnInsert["isTerminal"] = stage.IsTerminal
		}
		update := bson.M{"$setOnInsert": setOnInsert}

		if _, err := cols.Stages.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			log.Fatalf("seed error for stage %s: %v", stage.Title, err)
		}
	}

	seedUsers := []seedUser{
		{
			Name:        envOrDefault("ADMIN_NAME", "Admin"),
			Email:       envOrDefault("ADMIN_EMAIL", "admin@crmdesk.local"),
			Role:        users.RoleAdmin,
			PasswordEnv: "ADMIN_PASSWORD",
		},
		{
			Name:        envOrDefault("SUPER_ADMIN_NAME", "Super Admin"),
			Email:       envOrDefault("SUPER_ADMIN_EMAIL", "superadmin@crmdesk.local"),
			Role:        users.RoleSuperAdmin,
			PasswordEnv: "SUPER_ADMIN_PASSWORD",
		},
		{
			Name:        envOrDefault("REP_NAME", "Representative"),
			Email:       envOrDefault("REP_EMAIL", "rep@crmdesk.local"),
			Role:        users.RoleRepresentative,
			PasswordEnv: "REP_PASSWORD",
		},
	}

	for _, u := range seedUsers {
		password := os.Getenv(u.PasswordEnv)
		if password == "" {
			log.Printf("seed user: %s missing, skipping (%s)", u.Email, u.PasswordEnv)
			continue
		}
		if err := upsertUser(ctx, cols, u, password, cfg.Timezone); err != nil {
			log.Fatalf("seed user error for %s: %v", u.Email, err)
		}
	}

	log.Println("seed completed")
}

func upsertUser(ctx context.Context, cols *db.Collections, u seedUser, password string, loc *time.Location) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	filter := bson.M{"email": u.Email}
	update := bson.M{
		"$set": bson.M{
			"passwordHash": hash,
			"role":         u.Role,
			"isActive":     true,
			"updatedAt":    now,
		},
		"$setOnInsert": bson.M{
			"_id":              primitive.NewObjectID().Hex(),
			"name":             u.Name,
			"email":            u.Email,
			"convertedLeads":   []string{},
			"performancePoint": 0,
			"totalLeads":       0,
			"createdAt":        now,
		},
	}
	_, err = cols.Users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
