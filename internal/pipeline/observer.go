package pipeline

import (
	"log/slog"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
)

// Observer receives best-effort notifications after a pipeline run has chosen
// its outcome. Notifications are fire-and-forget: a slow or panicking observer
// never blocks or fails the reply path.
type Observer interface {
	Notify(event models.Event)
}

// LoggingObserver writes every event to the structured log. It is the default
// observer when no other is configured.
type LoggingObserver struct{}

// Compile-time check that LoggingObserver implements Observer.
var _ Observer = (*LoggingObserver)(nil)

func (LoggingObserver) Notify(event models.Event) {
	slog.Info("Pipeline event", "kind", event.Kind, "participantID", event.ParticipantID, "reason", event.Reason)
}

// notify dispatches the event to all observers on a separate goroutine,
// swallowing panics.
func (p *Pipeline) notify(event models.Event) {
	observers := p.observers
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Observer panicked", "panic", r, "kind", event.Kind)
			}
		}()
		for _, o := range observers {
			o.Notify(event)
		}
	}()
}
