package appointment

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

const (
	CollectionAppointments = "appointments"
	CollectionEvents       = "appointment_events"
)

type mongoAppointment struct {
	ID                 string     `bson:"_id"`
	PatientID          string     `bson:"patient_id"`
	ProviderID         string     `bson:"provider_id"`
	AvailabilityID     string     `bson:"availability_id"`
	SlotID             string     `bson:"slot_id"`
	Date               string     `bson:"date"`
	StartTime          string     `bson:"start_time"`
	EndTime            string     `bson:"end_time"`
	AppointmentType    string     `bson:"appointment_type"`
	ConsultationType   string     `bson:"consultation_type"`
	ScheduledAt        time.Time  `bson:"scheduled_at"`
	Status             string     `bson:"status"`
	ReminderSent       bool       `bson:"reminder_sent"`
	ReminderSentAt     *time.Time `bson:"reminder_sent_at,omitempty"`
	CancellationReason string     `bson:"cancellation_reason,omitempty"`
	Notes              string     `bson:"notes,omitempty"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

type mongoEvent struct {
	EventType     string    `bson:"event_type"`
	AppointmentID string    `bson:"appointment_id,omitempty"`
	Payload       bson.Raw  `bson:"payload,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toMongoAppointment(a *Appointment) mongoAppointment {
	return mongoAppointment{
		ID:                 a.ID.String(),
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		AvailabilityID:     a.AvailabilityID.String(),
		SlotID:             a.SlotID,
		Date:               a.Date,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		AppointmentType:    a.AppointmentType,
		ConsultationType:   a.ConsultationType,
		ScheduledAt:        a.ScheduledAt,
		Status:             string(a.Status),
		ReminderSent:       a.ReminderSent,
		ReminderSentAt:     a.ReminderSentAt,
		CancellationReason: a.CancellationReason,
		Notes:              a.Notes,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (m mongoAppointment) toAppointment() (*Appointment, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("bad appointment _id %q: %w", m.ID, err)
	}
	availID, err := uuid.Parse(m.AvailabilityID)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: bad availability_id: %w", m.ID, err)
	}
	return &Appointment{
		ID:                 id,
		PatientID:          m.PatientID,
		ProviderID:         m.ProviderID,
		AvailabilityID:     availID,
		SlotID:             m.SlotID,
		Date:               m.Date,
		StartTime:          m.StartTime,
		EndTime:            m.EndTime,
		AppointmentType:    m.AppointmentType,
		ConsultationType:   m.ConsultationType,
		ScheduledAt:        m.ScheduledAt,
		Status:             AppointmentStatus(m.Status),
		ReminderSent:       m.ReminderSent,
		ReminderSentAt:     m.ReminderSentAt,
		CancellationReason: m.CancellationReason,
		Notes:              m.Notes,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}, nil
}

type MongoRepository struct {
	Collection *mongo.Collection
	Events     *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		Collection: db.Collection(CollectionAppointments),
		Events:     db.Collection(CollectionEvents),
	}
}

func (r *MongoRepository) decodeAll(ctx context.Context, cur *mongo.Cursor, op string) ([]Appointment, error) {
	defer cur.Close(ctx)

	var out []Appointment
	for cur.Next(ctx) {
		var m mongoAppointment
		if err := cur.Decode(&m); err != nil {
			return nil, apperr.Store(op, err)
		}
		a, err := m.toAppointment()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := cur.Err(); err != nil {
		return nil, apperr.Store(op, err)
	}
	return out, nil
}

func (r *MongoRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.Collection.CountDocuments(ctx, bson.M{"_id": id.String()}, options.Count().SetLimit(1))
	if err != nil {
		return false, apperr.Store("appointment.exists", err)
	}
	return n > 0, nil
}

func (r *MongoRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.Collection.InsertOne(ctx, toMongoAppointment(a))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return apperr.Store("appointment.create", err)
	}
	return nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var m mongoAppointment
	err := r.Collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, apperr.Store("appointment.get", err)
	}
	return m.toAppointment()
}

func (r *MongoRepository) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	filter := bson.M{}
	if f.PatientID != "" {
		filter["patient_id"] = f.PatientID
	}
	if f.ProviderID != "" {
		filter["provider_id"] = f.ProviderID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduled_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))

	cur, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Store("appointment.list", err)
	}
	return r.decodeAll(ctx, cur, "appointment.list")
}

func (r *MongoRepository) UpdateStatus(ctx context.Context, c StatusChange) (*Appointment, error) {
	from := make([]string, len(c.From))
	for i, s := range c.From {
		from[i] = string(s)
	}
	set := bson.M{"status": string(c.To), "updated_at": c.At}
	if c.To == StatusCancelled && c.Reason != "" {
		set["cancellation_reason"] = c.Reason
	}

	var m mongoAppointment
	err := r.Collection.FindOneAndUpdate(ctx,
		bson.M{"_id": c.ID.String(), "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m.toAppointment()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.Store("appointment.update_status", err)
	}

	ok, err := r.exists(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrInvalidTransition
	}
	return nil, ErrAppointmentNotFound
}

func (r *MongoRepository) DueForReminder(ctx context.Context, from, to time.Time, after *Cursor, limit int) ([]Appointment, error) {
	filter := bson.M{
		"reminder_sent": false,
		"status":        bson.M{"$in": []string{string(StatusScheduled), string(StatusConfirmed)}},
		"scheduled_at":  bson.M{"$gte": from, "$lte": to},
	}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{"scheduled_at": bson.M{"$gt": after.ScheduledAt}},
			bson.M{"scheduled_at": after.ScheduledAt, "_id": bson.M{"$gt": after.ID.String()}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduled_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Store("appointment.due_for_reminder", err)
	}
	return r.decodeAll(ctx, cur, "appointment.due_for_reminder")
}

func (r *MongoRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.Collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "reminder_sent": false},
		bson.M{"$set": bson.M{"reminder_sent": true, "reminder_sent_at": at, "updated_at": at}},
	)
	if err != nil {
		return false, apperr.Store("appointment.mark_reminder_sent", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	ok, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrAppointmentNotFound
	}
	return false, nil
}

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	doc := mongoEvent{EventType: ev.EventType, CreatedAt: ev.CreatedAt}
	if ev.AppointmentID != nil {
		doc.AppointmentID = ev.AppointmentID.String()
	}
	if len(ev.Payload) > 0 {
		var raw bson.Raw
		if err := bson.UnmarshalExtJSON(ev.Payload, false, &raw); err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		doc.Payload = raw
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := r.Events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.Collection.Database().Client().Ping(ctx, readpref.Primary())
}

var _ Repository = (*MongoRepository)(nil)
