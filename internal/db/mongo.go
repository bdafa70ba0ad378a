package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on. Creating an
// index that already exists with the same options is a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(availability.CollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().
			SetName("active_day").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"is_active": true}),
	})
	if err != nil {
		return fmt.Errorf("create availability index: %w", err)
	}

	_, err = db.Collection(appointment.CollectionAppointments).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scheduled_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("reminder_due").SetPartialFilterExpression(bson.M{"reminder_sent": false}),
		},
		{
			Keys:    bson.D{{Key: "patient_id", Value: 1}, {Key: "scheduled_at", Value: -1}},
			Options: options.Index().SetName("by_patient"),
		},
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "scheduled_at", Value: -1}},
			Options: options.Index().SetName("by_provider"),
		},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}

	_, err = db.Collection(appointment.CollectionEvents).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "appointment_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("by_appointment"),
	})
	if err != nil {
		return fmt.Errorf("create event index: %w", err)
	}
	return nil
}
