package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func schedulerStatusHandler(s *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ok(s.GetStatus()))
	}
}

func schedulerConfigHandler(s *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ok(s.GetConfig()))
	}
}

func updateSchedulerConfigHandler(s *reminder.Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reminder.Config
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		cfg, err := s.SetConfig(req)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ok(cfg))
	}
}

func triggerSweepHandler(s *reminder.Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A client that hangs up must not abort the sweep halfway.
		rep, err := s.TriggerNow(context.WithoutCancel(r.Context()))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, TriggerResponse{
			Success: true,
			Message: "reminder sweep completed",
			Report:  rep,
		})
	}
}
