package sink

import (
	"context"
	"log/slog"

	"github.com/c360/ctcgateway/acquisition"
)

// LogSink writes a summary of each result to the logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "sink", "sink", "log")}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, res *acquisition.Result) error {
	attrs := []any{
		"serial", res.Metadata.Serial,
		"reading_id", res.Metadata.ReadingID,
		"strategy", res.Metadata.Strategy,
		"samples", res.X.Stats.Count,
		"duration", res.Metadata.CompletedAt.Sub(res.Metadata.StartedAt),
		slog.Group("x", "min", res.X.Stats.Min, "max", res.X.Stats.Max, "mean", res.X.Stats.Mean, "rms", res.X.Stats.RMS),
		slog.Group("y", "min", res.Y.Stats.Min, "max", res.Y.Stats.Max, "mean", res.Y.Stats.Mean, "rms", res.Y.Stats.RMS),
		slog.Group("z", "min", res.Z.Stats.Min, "max", res.Z.Stats.Max, "mean", res.Z.Stats.Mean, "rms", res.Z.Stats.RMS),
	}
	if res.Temperature != nil {
		attrs = append(attrs, "temperature", *res.Temperature)
	}
	s.logger.InfoContext(ctx, "Acquisition result", attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error { return nil }
