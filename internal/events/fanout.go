package events

import (
	"context"

	"trainfleet/internal/model"
	"trainfleet/pkg/logger"
)

// Publisher is implemented by every event sink (asynq queue, websocket hub).
type Publisher interface {
	PublishJobEvent(ctx context.Context, event *model.JobEvent) error
}

// Fanout publishes each event to all sinks. A failing sink is logged and
// skipped; notification must never fail coordination writes.
type Fanout struct {
	sinks []Publisher
}

// NewFanout creates a fanout over the given sinks; nil sinks are ignored
func NewFanout(sinks ...Publisher) *Fanout {
	kept := make([]Publisher, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

// PublishJobEvent delivers the event to every sink
func (f *Fanout) PublishJobEvent(ctx context.Context, event *model.JobEvent) error {
	for _, sink := range f.sinks {
		if err := sink.PublishJobEvent(ctx, event); err != nil {
			logger.WarnCtx(ctx, "event sink failed, type: %s, job_id: %s, error: %v", event.Type, event.JobID, err)
		}
	}
	return nil
}
