package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, provider_id, availability_id, slot_id, to_char(date, 'YYYY-MM-DD'),
	start_time, end_time, appointment_type, consultation_type, scheduled_at, status,
	reminder_sent, reminder_sent_at, COALESCE(cancellation_reason, ''), COALESCE(notes, ''),
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reminderSentAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.AvailabilityID,
		&a.SlotID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.AppointmentType,
		&a.ConsultationType,
		&a.ScheduledAt,
		&a.Status,
		&a.ReminderSent,
		&reminderSentAt,
		&a.CancellationReason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, apperr.Store("appointment.scan", err)
	}

	a.ReminderSentAt = reminderSentAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("appointment.scan", err)
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, provider_id, availability_id, slot_id, date, start_time, end_time,
			appointment_type, consultation_type, scheduled_at, status, reminder_sent, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, false, NULLIF($13, ''), $14, $14)
	`, a.ID, a.PatientID, a.ProviderID, a.AvailabilityID, a.SlotID, a.Date, a.StartTime, a.EndTime,
		a.AppointmentType, a.ConsultationType, a.ScheduledAt, string(a.Status), a.Notes, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return apperr.Store("appointment.create", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR patient_id = $1)
		  AND ($2 = '' OR provider_id = $2)
		ORDER BY scheduled_at DESC, id
		LIMIT $3 OFFSET $4
	`, f.PatientID, f.ProviderID, f.Limit, f.Offset)
	if err != nil {
		return nil, apperr.Store("appointment.list", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, c StatusChange) (*Appointment, error) {
	from := make([]string, len(c.From))
	for i, s := range c.From {
		from[i] = string(s)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN NULLIF($4, '') ELSE cancellation_reason END,
		    updated_at = $5
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns, c.ID, string(c.To), from, c.Reason, c.At)

	a, err := scanAppointment(row)
	if !errors.Is(err, ErrAppointmentNotFound) {
		return a, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return nil, apperr.Store("appointment.update_status", err)
	}
	if exists {
		return nil, ErrInvalidTransition
	}
	return nil, ErrAppointmentNotFound
}

func (r *PgRepository) DueForReminder(ctx context.Context, from, to time.Time, after *Cursor, limit int) ([]Appointment, error) {
	var afterAt *time.Time
	var afterID *uuid.UUID
	if after != nil {
		afterAt, afterID = &after.ScheduledAt, &after.ID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE reminder_sent = false
		  AND status IN ('scheduled', 'confirmed')
		  AND scheduled_at >= $1
		  AND scheduled_at <= $2
		  AND ($3::timestamptz IS NULL OR (scheduled_at, id) > ($3, $4::uuid))
		ORDER BY scheduled_at, id
		LIMIT $5
	`, from, to, afterAt, afterID, limit)
	if err != nil {
		return nil, apperr.Store("appointment.due_for_reminder", err)
	}
	return collectAppointments(rows)
}

// MarkReminderSent is conditioned on reminder_sent = false, so of any number
// of overlapping sweeps exactly one observes a changed row.
func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    reminder_sent_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND reminder_sent = false
	`, id, at)
	if err != nil {
		return false, apperr.Store("appointment.mark_reminder_sent", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, apperr.Store("appointment.mark_reminder_sent", err)
	}
	if !exists {
		return false, ErrAppointmentNotFound
	}
	return false, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	var payload *string
	if len(ev.Payload) > 0 {
		p := string(ev.Payload)
		payload = &p
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3::jsonb, COALESCE($4, now()))
	`, ev.EventType, appID, payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Repository = (*PgRepository)(nil)
