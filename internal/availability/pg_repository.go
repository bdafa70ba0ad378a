package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// docQuery builds the WHERE clause shared by every read. It always starts from
// the active flag so soft-deleted documents never leak into a projection.
type docQuery struct {
	where []string
	args  []any
}

func activeDocs() *docQuery {
	return &docQuery{where: []string{"d.is_active"}}
}

func (q *docQuery) and(cond string, arg any) *docQuery {
	q.args = append(q.args, arg)
	q.where = append(q.where, fmt.Sprintf(cond, len(q.args)))
	return q
}

func (q *docQuery) sql() string {
	return strings.Join(q.where, " AND ")
}

// Helpers

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var breaks []byte

	err := row.Scan(
		&d.ID,
		&d.ProviderID,
		&d.Date,
		&d.WorkHours.StartTime,
		&d.WorkHours.EndTime,
		&d.ConsultationType,
		&breaks,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &d.Breaks); err != nil {
			return nil, fmt.Errorf("decode breaks: %w", err)
		}
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (uuid.UUID, string, *Slot, error) {
	var docID uuid.UUID
	var bucket string
	var s Slot

	err := row.Scan(
		&docID,
		&bucket,
		&s.SlotID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.AppointmentID,
		&s.PatientID,
		&s.BookedAt,
		&s.CancellationReason,
		&s.CancelledAt,
		&s.Notes,
	)
	if err != nil {
		return uuid.Nil, "", nil, err
	}
	return docID, bucket, &s, nil
}

const slotColumns = `
	s.availability_id, s.bucket_type, s.slot_id, s.start_time, s.end_time, s.status,
	s.appointment_id, COALESCE(s.patient_id, '') AS patient_id, s.booked_at,
	COALESCE(s.cancellation_reason, '') AS cancellation_reason, s.cancelled_at,
	COALESCE(s.notes, '') AS notes`

// load reads documents matching q with their buckets and slots from a single
// snapshot, so counts derived from the result are never torn by a concurrent
// booking.
func (r *PgRepository) load(ctx context.Context, q *docQuery) ([]Document, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT d.id, d.provider_id, to_char(d.date, 'YYYY-MM-DD'), d.work_start, d.work_end,
		       d.consultation_type, d.breaks, d.is_active, d.created_at, d.updated_at
		FROM availability_documents d
		WHERE `+q.sql()+`
		ORDER BY d.date, d.created_at
	`, q.args...)
	if err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Store("availability.load", err)
		}
		docs = append(docs, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	docIdx := make(map[uuid.UUID]int, len(docs))
	bucketIdx := make(map[uuid.UUID]map[string]int, len(docs))
	for i := range docs {
		docIdx[docs[i].ID] = i
		bucketIdx[docs[i].ID] = make(map[string]int)
	}

	rows, err = tx.Query(ctx, `
		SELECT b.availability_id, b.type, b.duration_mins, b.price::float8, b.currency
		FROM availability_buckets b
		WHERE b.availability_id IN (SELECT d.id FROM availability_documents d WHERE `+q.sql()+`)
		ORDER BY b.availability_id, b.position
	`, q.args...)
	if err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	for rows.Next() {
		var docID uuid.UUID
		var b TypeBucket
		if err := rows.Scan(&docID, &b.Type, &b.DurationMins, &b.Price, &b.Currency); err != nil {
			rows.Close()
			return nil, apperr.Store("availability.load", err)
		}
		i, ok := docIdx[docID]
		if !ok {
			continue
		}
		bucketIdx[docID][b.Type] = len(docs[i].Types)
		docs[i].Types = append(docs[i].Types, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("availability.load", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots s
		WHERE s.availability_id IN (SELECT d.id FROM availability_documents d WHERE `+q.sql()+`)
		ORDER BY s.availability_id, s.position
	`, q.args...)
	if err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	defer rows.Close()
	for rows.Next() {
		docID, bucket, s, err := scanSlot(rows)
		if err != nil {
			return nil, apperr.Store("availability.load", err)
		}
		i, ok := docIdx[docID]
		if !ok {
			continue
		}
		bi, ok := bucketIdx[docID][bucket]
		if !ok {
			continue
		}
		docs[i].Types[bi].Slots = append(docs[i].Types[bi].Slots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("availability.load", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Store("availability.load", err)
	}
	return docs, nil
}

func (r *PgRepository) loadOne(ctx context.Context, q *docQuery) (*Document, error) {
	docs, err := r.load(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, doc *Document) error {
	breaks, err := json.Marshal(nonNilBreaks(doc.Breaks))
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Store("availability.create", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO availability_documents
			(id, provider_id, date, work_start, work_end, consultation_type, breaks, is_active, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7::jsonb, true, $8, $8)
	`, doc.ID, doc.ProviderID, doc.Date, doc.WorkHours.StartTime, doc.WorkHours.EndTime,
		doc.ConsultationType, string(breaks), doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return apperr.Store("availability.create", err)
	}

	batch := &pgx.Batch{}
	for pos, b := range doc.Types {
		batch.Queue(`
			INSERT INTO availability_buckets (availability_id, position, type, duration_mins, price, currency)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, doc.ID, pos, b.Type, b.DurationMins, b.Price, b.Currency)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return apperr.Store("availability.create", err)
	}

	var slotRows [][]any
	pos := 0
	for _, b := range doc.Types {
		for _, s := range b.Slots {
			slotRows = append(slotRows, []any{
				doc.ID, s.SlotID, b.Type, pos, s.StartTime, s.EndTime, string(s.Status), nullableText(s.Notes),
			})
			pos++
		}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"availability_slots"},
		[]string{"availability_id", "slot_id", "bucket_type", "position", "start_time", "end_time", "status", "notes"},
		pgx.CopyFromRows(slotRows),
	)
	if err != nil {
		return apperr.Store("availability.create", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Store("availability.create", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return r.loadOne(ctx, activeDocs().and("d.id = $%d", id))
}

func (r *PgRepository) GetByDate(ctx context.Context, providerID, date string) (*Document, error) {
	return r.loadOne(ctx, activeDocs().
		and("d.provider_id = $%d", providerID).
		and("d.date = $%d::date", date))
}

func (r *PgRepository) List(ctx context.Context, providerID string, f Filter) ([]Document, error) {
	q := activeDocs().and("d.provider_id = $%d", providerID)
	if f.StartDate != "" {
		q.and("d.date >= $%d::date", f.StartDate)
	}
	if f.EndDate != "" {
		q.and("d.date <= $%d::date", f.EndDate)
	}
	if f.ConsultationType != "" {
		q.and("d.consultation_type = $%d", f.ConsultationType)
	}
	return r.load(ctx, q)
}

func (r *PgRepository) UpdateMetadata(ctx context.Context, doc *Document) error {
	breaks, err := json.Marshal(nonNilBreaks(doc.Breaks))
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Store("availability.update", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE availability_documents
		SET work_start = $2,
		    work_end = $3,
		    consultation_type = $4,
		    breaks = $5::jsonb,
		    updated_at = $6
		WHERE id = $1
		  AND is_active
	`, doc.ID, doc.WorkHours.StartTime, doc.WorkHours.EndTime, doc.ConsultationType, string(breaks), doc.UpdatedAt)
	if err != nil {
		return apperr.Store("availability.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	for _, b := range doc.Types {
		_, err := tx.Exec(ctx, `
			UPDATE availability_buckets
			SET duration_mins = $3,
			    price = $4,
			    currency = $5
			WHERE availability_id = $1
			  AND type = $2
		`, doc.ID, b.Type, b.DurationMins, b.Price, b.Currency)
		if err != nil {
			return apperr.Store("availability.update", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Store("availability.update", err)
	}
	return nil
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_documents
		SET is_active = false,
		    updated_at = now()
		WHERE id = $1
		  AND is_active
	`, id)
	if err != nil {
		return apperr.Store("availability.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionSlot is a single conditional UPDATE. Under concurrent callers the
// row lock serializes writers and the losers re-evaluate the status predicate
// against the committed row, matching nothing.
func (r *PgRepository) TransitionSlot(ctx context.Context, t SlotTransition) (*Slot, error) {
	args := []any{t.ProviderID, t.Date, t.SlotID, t.Type, string(t.From), t.ExpectAppointmentID, string(t.To), t.At}

	var set string
	switch t.To {
	case SlotBooked:
		set = `appointment_id = $9, patient_id = NULLIF($10, ''), booked_at = $8,
		       cancellation_reason = NULL, cancelled_at = NULL`
		args = append(args, t.AppointmentID, t.PatientID)
	case SlotAvailable:
		set = `appointment_id = NULL, patient_id = NULL, booked_at = NULL,
		       cancellation_reason = NULLIF($9, ''),
		       cancelled_at = CASE WHEN $9 = '' THEN NULL ELSE $8::timestamptz END`
		args = append(args, t.Reason)
	case SlotCancelled:
		set = `cancellation_reason = NULLIF($9, ''), cancelled_at = $8`
		args = append(args, t.Reason)
	default:
		return nil, fmt.Errorf("unknown slot status %q", t.To)
	}

	row := r.pool.QueryRow(ctx, `
		WITH moved AS (
			UPDATE availability_slots s
			SET status = $7, `+set+`
			FROM availability_documents d
			WHERE d.id = s.availability_id
			  AND d.is_active
			  AND d.provider_id = $1
			  AND d.date = $2::date
			  AND s.slot_id = $3
			  AND ($4 = '' OR s.bucket_type = $4)
			  AND s.status = $5
			  AND ($6::uuid IS NULL OR s.appointment_id = $6)
			RETURNING `+slotColumns+`
		), touched AS (
			UPDATE availability_documents
			SET updated_at = $8
			WHERE id IN (SELECT availability_id FROM moved)
		)
		SELECT * FROM moved
	`, args...)

	_, _, s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransitionRejected
		}
		return nil, apperr.Store("availability.transition", err)
	}
	return s, nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nonNilBreaks(b []BreakWindow) []BreakWindow {
	if b == nil {
		return []BreakWindow{}
	}
	return b
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*PgRepository)(nil)
