package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher writes reminders to the log instead of delivering them.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("reminder",
		zap.String("appointment_id", m.AppointmentID.String()),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}
