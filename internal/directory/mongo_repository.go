package directory

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const (
	CollectionPatients  = "patients"
	CollectionProviders = "doctors"
)

type MongoRepository struct {
	Patients  *mongo.Collection
	Providers *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		Patients:  db.Collection(CollectionPatients),
		Providers: db.Collection(CollectionProviders),
	}
}

func (r *MongoRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := r.Patients.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPatientNotFound
		}
		return nil, apperr.Store("directory.patient", err)
	}
	return &p, nil
}

func (r *MongoRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	var c Provider
	err := r.Providers.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProviderNotFound
		}
		return nil, apperr.Store("directory.provider", err)
	}
	return &c, nil
}

func (r *MongoRepository) UpsertPatient(ctx context.Context, p *Patient) error {
	now := time.Now().UTC()
	_, err := r.Patients.UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{
			"$set":         bson.M{"name": p.Name, "email": p.Email, "phone": p.Phone, "updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return apperr.Store("directory.upsert_patient", err)
}

func (r *MongoRepository) UpsertProvider(ctx context.Context, c *Provider) error {
	now := time.Now().UTC()
	_, err := r.Providers.UpdateOne(ctx,
		bson.M{"_id": c.ID},
		bson.M{
			"$set":         bson.M{"name": c.Name, "specialty": c.Specialty, "email": c.Email, "updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return apperr.Store("directory.upsert_provider", err)
}

var _ Repository = (*MongoRepository)(nil)
