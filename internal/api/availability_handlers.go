package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

func createAvailabilityHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAvailabilityRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		doc, err := req.toDocument(chi.URLParam(r, "providerID"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		doc, err = svc.Create(r.Context(), doc)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAvailabilityResponse{
			Success:        true,
			AvailabilityID: doc.ID,
			Availability:   doc,
		})
	}
}

func listAvailabilityHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		docs, err := svc.GetAll(r.Context(), chi.URLParam(r, "providerID"), availability.Filter{
			StartDate:        q.Get("start_date"),
			EndDate:          q.Get("end_date"),
			ConsultationType: q.Get("consultation_type"),
			AppointmentType:  q.Get("appointment_type"),
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if docs == nil {
			docs = []availability.Document{}
		}
		writeJSON(w, http.StatusOK, ok(docs))
	}
}

func getAvailabilityHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.GetByDate(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(doc))
	}
}

func getAvailabilityTypeHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.GetByDateAndType(r.Context(),
			chi.URLParam(r, "providerID"), chi.URLParam(r, "date"), chi.URLParam(r, "type"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(view))
	}
}

func availableSlotsHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refs, err := svc.AvailableSlots(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		out := make([]AvailableSlotResponse, 0, len(refs))
		for _, ref := range refs {
			out = append(out, AvailableSlotResponse{
				SlotID:          ref.Slot.SlotID,
				AppointmentType: ref.Type,
				DurationMins:    ref.DurationMins,
				StartTime:       ref.Slot.StartTime,
				EndTime:         ref.Slot.EndTime,
			})
		}
		writeJSON(w, http.StatusOK, ok(out))
	}
}

func updateAvailabilityHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "availabilityID"))
		if err != nil {
			writeServiceError(w, r, log, apperr.Validation("availability id must be a valid UUID"))
			return
		}
		var req UpdateAvailabilityRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		doc, err := svc.Update(r.Context(), id, req.toPatch())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(doc))
	}
}

func deleteAvailabilityHandler(svc *availability.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "availabilityID"))
		if err != nil {
			writeServiceError(w, r, log, apperr.Validation("availability id must be a valid UUID"))
			return
		}
		if err := svc.SoftDelete(r.Context(), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(map[string]string{"availability_id": id.String()}))
	}
}
