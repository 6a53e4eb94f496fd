package main

import (
	"log/slog"

	"chatten/core/events"
)

// logEmitter writes each committed event to the structured log. It stands in
// for a real downstream subscriber (indexer, webhook fanout) until one is
// attached.
type logEmitter struct {
	logger *slog.Logger
}

func newLogEmitter(logger *slog.Logger) *logEmitter {
	return &logEmitter{logger: logger.With(slog.String("component", "events"))}
}

func (l *logEmitter) Emit(event events.Event) {
	l.logger.Info("event committed", slog.String("type", event.EventType()))
}
