package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const CollectionName = "doctor_availability"

type mongoSlot struct {
	SlotID             string     `bson:"slot_id"`
	StartTime          string     `bson:"start_time"`
	EndTime            string     `bson:"end_time"`
	Status             string     `bson:"status"`
	AppointmentID      string     `bson:"appointment_id,omitempty"`
	PatientID          string     `bson:"patient_id,omitempty"`
	BookedAt           *time.Time `bson:"booked_at,omitempty"`
	CancellationReason string     `bson:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `bson:"cancelled_at,omitempty"`
	Notes              string     `bson:"notes,omitempty"`
}

type mongoBucket struct {
	Type         string      `bson:"type"`
	DurationMins int         `bson:"duration_mins"`
	Price        float64     `bson:"price"`
	Currency     string      `bson:"currency"`
	Slots        []mongoSlot `bson:"slots"`
}

type mongoDocument struct {
	ID               string        `bson:"_id"`
	ProviderID       string        `bson:"provider_id"`
	Date             string        `bson:"date"`
	WorkHours        WorkHours     `bson:"work_hours"`
	ConsultationType string        `bson:"consultation_type"`
	Types            []mongoBucket `bson:"types"`
	Breaks           []BreakWindow `bson:"breaks"`
	IsActive         bool          `bson:"is_active"`
	CreatedAt        time.Time     `bson:"created_at"`
	UpdatedAt        time.Time     `bson:"updated_at"`
}

func toMongoSlot(s Slot) mongoSlot {
	m := mongoSlot{
		SlotID:             s.SlotID,
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		Status:             string(s.Status),
		PatientID:          s.PatientID,
		BookedAt:           s.BookedAt,
		CancellationReason: s.CancellationReason,
		CancelledAt:        s.CancelledAt,
		Notes:              s.Notes,
	}
	if s.AppointmentID != nil {
		m.AppointmentID = s.AppointmentID.String()
	}
	return m
}

func (m mongoSlot) toSlot() (Slot, error) {
	s := Slot{
		SlotID:             m.SlotID,
		StartTime:          m.StartTime,
		EndTime:            m.EndTime,
		Status:             SlotStatus(m.Status),
		PatientID:          m.PatientID,
		BookedAt:           m.BookedAt,
		CancellationReason: m.CancellationReason,
		CancelledAt:        m.CancelledAt,
		Notes:              m.Notes,
	}
	if m.AppointmentID != "" {
		id, err := uuid.Parse(m.AppointmentID)
		if err != nil {
			return Slot{}, fmt.Errorf("slot %s: bad appointment_id: %w", m.SlotID, err)
		}
		s.AppointmentID = &id
	}
	return s, nil
}

func toMongoDocument(d *Document) mongoDocument {
	m := mongoDocument{
		ID:               d.ID.String(),
		ProviderID:       d.ProviderID,
		Date:             d.Date,
		WorkHours:        d.WorkHours,
		ConsultationType: d.ConsultationType,
		Breaks:           nonNilBreaks(d.Breaks),
		IsActive:         d.IsActive,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, b := range d.Types {
		mb := mongoBucket{Type: b.Type, DurationMins: b.DurationMins, Price: b.Price, Currency: b.Currency}
		for _, s := range b.Slots {
			mb.Slots = append(mb.Slots, toMongoSlot(s))
		}
		m.Types = append(m.Types, mb)
	}
	return m
}

func (m mongoDocument) toDocument() (*Document, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("bad availability _id %q: %w", m.ID, err)
	}
	d := &Document{
		ID:               id,
		ProviderID:       m.ProviderID,
		Date:             m.Date,
		WorkHours:        m.WorkHours,
		ConsultationType: m.ConsultationType,
		Breaks:           m.Breaks,
		IsActive:         m.IsActive,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	for _, mb := range m.Types {
		b := TypeBucket{Type: mb.Type, DurationMins: mb.DurationMins, Price: mb.Price, Currency: mb.Currency}
		for _, ms := range mb.Slots {
			s, err := ms.toSlot()
			if err != nil {
				return nil, err
			}
			b.Slots = append(b.Slots, s)
		}
		d.Types = append(d.Types, b)
	}
	return d, nil
}

type MongoRepository struct {
	Collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{Collection: db.Collection(CollectionName)}
}

// activeFilter is the base of every read and write filter.
func activeFilter(extra bson.M) bson.M {
	f := bson.M{"is_active": true}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*Document, error) {
	var m mongoDocument
	err := r.Collection.FindOne(ctx, activeFilter(filter)).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, apperr.Store("availability.find", err)
	}
	return m.toDocument()
}

func (r *MongoRepository) Create(ctx context.Context, doc *Document) error {
	_, err := r.Collection.InsertOne(ctx, toMongoDocument(doc))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return apperr.Store("availability.create", err)
	}
	return nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *MongoRepository) GetByDate(ctx context.Context, providerID, date string) (*Document, error) {
	return r.findOne(ctx, bson.M{"provider_id": providerID, "date": date})
}

func (r *MongoRepository) List(ctx context.Context, providerID string, f Filter) ([]Document, error) {
	filter := activeFilter(bson.M{"provider_id": providerID})
	dateRange := bson.M{}
	if f.StartDate != "" {
		dateRange["$gte"] = f.StartDate
	}
	if f.EndDate != "" {
		dateRange["$lte"] = f.EndDate
	}
	if len(dateRange) > 0 {
		filter["date"] = dateRange
	}
	if f.ConsultationType != "" {
		filter["consultation_type"] = f.ConsultationType
	}

	cur, err := r.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, apperr.Store("availability.list", err)
	}
	defer cur.Close(ctx)

	var out []Document
	for cur.Next(ctx) {
		var m mongoDocument
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Store("availability.list", err)
		}
		d, err := m.toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Store("availability.list", err)
	}
	return out, nil
}

func (r *MongoRepository) UpdateMetadata(ctx context.Context, doc *Document) error {
	set := bson.M{
		"work_hours":        doc.WorkHours,
		"consultation_type": doc.ConsultationType,
		"breaks":            nonNilBreaks(doc.Breaks),
		"updated_at":        doc.UpdatedAt,
	}
	var arrayFilters []any
	for i, b := range doc.Types {
		ident := fmt.Sprintf("b%d", i)
		set["types.$["+ident+"].duration_mins"] = b.DurationMins
		set["types.$["+ident+"].price"] = b.Price
		set["types.$["+ident+"].currency"] = b.Currency
		arrayFilters = append(arrayFilters, bson.M{ident + ".type": b.Type})
	}

	opts := options.Update()
	if len(arrayFilters) > 0 {
		opts.SetArrayFilters(options.ArrayFilters{Filters: arrayFilters})
	}
	res, err := r.Collection.UpdateOne(ctx,
		activeFilter(bson.M{"_id": doc.ID.String()}),
		bson.M{"$set": set},
		opts,
	)
	if err != nil {
		return apperr.Store("availability.update", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := r.Collection.UpdateOne(ctx,
		activeFilter(bson.M{"_id": id.String()}),
		bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return apperr.Store("availability.delete", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSlot is one FindOneAndUpdate whose filter carries the expected
// slot state, so the document-level write is the compare-and-set.
func (r *MongoRepository) TransitionSlot(ctx context.Context, t SlotTransition) (*Slot, error) {
	slotCond := bson.M{"slot_id": t.SlotID, "status": string(t.From)}
	sFilter := bson.M{"s.slot_id": t.SlotID, "s.status": string(t.From)}
	if t.ExpectAppointmentID != nil {
		slotCond["appointment_id"] = t.ExpectAppointmentID.String()
		sFilter["s.appointment_id"] = t.ExpectAppointmentID.String()
	}
	bucketCond := bson.M{"slots": bson.M{"$elemMatch": slotCond}}
	bFilter := bson.M{"b.slots.slot_id": t.SlotID}
	if t.Type != "" {
		bucketCond["type"] = t.Type
		bFilter["b.type"] = t.Type
	}

	const p = "types.$[b].slots.$[s]."
	set := bson.M{p + "status": string(t.To), "updated_at": t.At}
	unset := bson.M{}
	switch t.To {
	case SlotBooked:
		if t.AppointmentID != nil {
			set[p+"appointment_id"] = t.AppointmentID.String()
		}
		set[p+"booked_at"] = t.At
		if t.PatientID != "" {
			set[p+"patient_id"] = t.PatientID
		} else {
			unset[p+"patient_id"] = ""
		}
		unset[p+"cancellation_reason"] = ""
		unset[p+"cancelled_at"] = ""
	case SlotAvailable:
		unset[p+"appointment_id"] = ""
		unset[p+"patient_id"] = ""
		unset[p+"booked_at"] = ""
		if t.Reason != "" {
			set[p+"cancellation_reason"] = t.Reason
			set[p+"cancelled_at"] = t.At
		} else {
			unset[p+"cancellation_reason"] = ""
			unset[p+"cancelled_at"] = ""
		}
	case SlotCancelled:
		set[p+"cancelled_at"] = t.At
		if t.Reason != "" {
			set[p+"cancellation_reason"] = t.Reason
		}
	default:
		return nil, fmt.Errorf("unknown slot status %q", t.To)
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []any{bFilter, sFilter}}).
		SetReturnDocument(options.After)

	var m mongoDocument
	err := r.Collection.FindOneAndUpdate(ctx,
		activeFilter(bson.M{
			"provider_id": t.ProviderID,
			"date":        t.Date,
			"types":       bson.M{"$elemMatch": bucketCond},
		}),
		update,
		opts,
	).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransitionRejected
		}
		return nil, apperr.Store("availability.transition", err)
	}

	for _, b := range m.Types {
		for _, ms := range b.Slots {
			if ms.SlotID == t.SlotID {
				s, err := ms.toSlot()
				if err != nil {
					return nil, err
				}
				return &s, nil
			}
		}
	}
	return nil, ErrTransitionRejected
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.Collection.Database().Client().Ping(ctx, readpref.Primary())
}

var _ Repository = (*MongoRepository)(nil)
