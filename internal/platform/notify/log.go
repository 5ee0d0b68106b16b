package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes each event as a structured log line.
type LogNotifier struct {
	logger    zerolog.Logger
	templates *TemplateEngine
}

func NewLogNotifier(logger zerolog.Logger, templates *TemplateEngine) *LogNotifier {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &LogNotifier{logger: logger, templates: templates}
}

func (n *LogNotifier) Notify(_ context.Context, ev AppointmentEvent) error {
	subject, body, err := n.templates.Render(ev)
	if err != nil {
		return err
	}
	n.logger.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID).
		Str("status", ev.Status).
		Time("scheduled_time", ev.ScheduledTime).
		Str("subject", subject).
		Msg(body)
	return nil
}
