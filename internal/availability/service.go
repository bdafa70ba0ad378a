package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the AvailabilityStore facade: authoring, projections and
// administrative edits. Slot status changes belong to the booking package.
type Service struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// Create validates doc, generates its slot identifiers and persists it.
func (s *Service) Create(ctx context.Context, doc *Document) (*Document, error) {
	if err := Prepare(doc); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc.ID = uuid.New()
	doc.IsActive = true
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info("availability created",
		zap.String("availability_id", doc.ID.String()),
		zap.String("provider_id", doc.ProviderID),
		zap.String("date", doc.Date),
		zap.Int("types", len(doc.Types)),
	)
	return doc, nil
}

func (s *Service) GetByDate(ctx context.Context, providerID, date string) (*Document, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	return s.repo.GetByDate(ctx, providerID, date)
}

// GetByDateAndType projects the bucket labelled typ, annotated with counts.
func (s *Service) GetByDateAndType(ctx context.Context, providerID, date, typ string) (*TypeView, error) {
	doc, err := s.GetByDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	for _, b := range doc.Types {
		if b.Type != typ {
			continue
		}
		v := &TypeView{
			AvailabilityID:   doc.ID,
			ProviderID:       doc.ProviderID,
			Date:             doc.Date,
			ConsultationType: doc.ConsultationType,
			Type:             b.Type,
			DurationMins:     b.DurationMins,
			Price:            b.Price,
			Currency:         b.Currency,
			Slots:            b.Slots,
			TotalCount:       len(b.Slots),
		}
		for _, sl := range b.Slots {
			if sl.Status == SlotAvailable {
				v.AvailableCount++
			}
		}
		return v, nil
	}
	return nil, ErrTypeNotFound
}

// AvailableSlots flattens the bookable slots of a date across buckets.
func (s *Service) AvailableSlots(ctx context.Context, providerID, date string) ([]SlotRef, error) {
	doc, err := s.GetByDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return doc.SlotsWithStatus(SlotAvailable), nil
}

// GetAll lists active documents matching f. When f.AppointmentType is set the
// buckets are narrowed to that type and documents without it are dropped.
func (s *Service) GetAll(ctx context.Context, providerID string, f Filter) ([]Document, error) {
	for _, d := range []string{f.StartDate, f.EndDate} {
		if d == "" {
			continue
		}
		if err := ValidateDate(d); err != nil {
			return nil, err
		}
	}

	docs, err := s.repo.List(ctx, providerID, f)
	if err != nil {
		return nil, err
	}
	if f.AppointmentType == "" {
		return docs, nil
	}

	out := docs[:0]
	for _, d := range docs {
		var kept []TypeBucket
		for _, b := range d.Types {
			if b.Type == f.AppointmentType {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			continue
		}
		d.Types = kept
		out = append(out, d)
	}
	return out, nil
}

// Update applies p to the active document id. Concurrent administrative edits
// are last-writer-wins.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ApplyPatch(doc, p); err != nil {
		return nil, err
	}
	doc.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateMetadata(ctx, doc); err != nil {
		return nil, err
	}
	s.log.Info("availability updated", zap.String("availability_id", id.String()))
	return doc, nil
}

func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info("availability deactivated", zap.String("availability_id", id.String()))
	return nil
}
