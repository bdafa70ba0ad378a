package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func listAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := appointment.ListFilter{
			PatientID:  q.Get("patient_id"),
			ProviderID: q.Get("provider_id"),
		}
		var err error
		if f.Limit, err = queryInt(q.Get("limit")); err != nil {
			writeServiceError(w, r, log, apperr.Validation("limit must be an integer"))
			return
		}
		if f.Offset, err = queryInt(q.Get("offset")); err != nil {
			writeServiceError(w, r, log, apperr.Validation("offset must be an integer"))
			return
		}

		list, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if list == nil {
			list = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, ok(list))
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return withAppointmentID(log, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		a, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(a))
	})
}

func confirmAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return withAppointmentID(log, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		a, err := svc.Confirm(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(a))
	})
}

func completeAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return withAppointmentID(log, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		a, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(a))
	})
}

func withAppointmentID(log *zap.Logger, next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, log, apperr.Validation("id must be a valid UUID"))
			return
		}
		next(w, r, id)
	}
}
