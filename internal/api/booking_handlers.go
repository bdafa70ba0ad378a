package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/booking"
)

func bookSlotHandler(svc *booking.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookSlotRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		b, err := svc.Book(r.Context(), booking.BookRequest{
			ProviderID: chi.URLParam(r, "providerID"),
			Date:       chi.URLParam(r, "date"),
			Type:       req.AppointmentType,
			SlotID:     req.SlotID,
			PatientID:  req.PatientID,
			Notes:      req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookResponse{
			Success:       true,
			AppointmentID: b.Appointment.ID,
			Appointment:   b.Appointment,
			Slot:          b.Slot,
		})
	}
}

func cancelSlotHandler(svc *booking.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelSlotRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		apptID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeServiceError(w, r, log, apperr.Validation("appointment_id must be a valid UUID"))
			return
		}

		c, err := svc.CancelSlot(r.Context(),
			chi.URLParam(r, "providerID"), chi.URLParam(r, "date"), chi.URLParam(r, "slotID"),
			apptID, req.CancellationReason)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelSlotResponse{Success: true, CancelledSlot: *c})
	}
}

func cancelAllHandler(svc *booking.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelAllRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		res, err := svc.CancelAllForDate(r.Context(),
			chi.URLParam(r, "providerID"), chi.URLParam(r, "date"), req.CancellationReason, req.CloseDay)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelAllResponse{Success: true, CancelAllResult: res})
	}
}

func bookedSlotsHandler(svc *booking.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refs, err := svc.BookedSlots(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		out := make([]BookedSlotResponse, 0, len(refs))
		for _, ref := range refs {
			out = append(out, BookedSlotResponse{
				SlotID:          ref.Slot.SlotID,
				AppointmentType: ref.Type,
				StartTime:       ref.Slot.StartTime,
				EndTime:         ref.Slot.EndTime,
				AppointmentID:   ref.Slot.AppointmentID,
				PatientID:       ref.Slot.PatientID,
			})
		}
		writeJSON(w, http.StatusOK, ok(out))
	}
}

func summaryHandler(svc *booking.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.Summary(r.Context(), chi.URLParam(r, "providerID"), chi.URLParam(r, "date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(s))
	}
}
