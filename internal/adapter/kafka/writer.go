// Package kafka adapts the job runner to Kafka: a consumer pulls
// acquisition requests off the job topic, and writers publish outcomes
// and per-tile progress.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/terrain-tile-service/internal/config"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
	"github.com/couchcryptid/terrain-tile-service/internal/job"
)

// ResultWriter publishes job outcomes to the result topic.
type ResultWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewResultWriter creates a Kafka producer for the configured result topic.
func NewResultWriter(cfg *config.Config, logger *slog.Logger) *ResultWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &ResultWriter{writer: w, logger: logger}
}

// PublishOutcome serializes and publishes one job outcome.
func (w *ResultWriter) PublishOutcome(ctx context.Context, out job.Outcome) error {
	msg, err := serializeOutcome(out)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *ResultWriter) Close() error {
	return w.writer.Close()
}

// serializeOutcome marshals a job outcome into a Kafka message keyed by
// job ID so all messages for a job land on one partition.
func serializeOutcome(out job.Outcome) (kafkago.Message, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(out.JobID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(out.Status)},
			{Key: "finished_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}

// ProgressWriter publishes per-tile completion events to the progress
// topic so clients can watch long jobs advance.
type ProgressWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewProgressWriter creates a Kafka producer for the configured progress topic.
func NewProgressWriter(cfg *config.Config, logger *slog.Logger) *ProgressWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaProgressTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne, // progress is best-effort
	}
	return &ProgressWriter{writer: w, logger: logger}
}

func (w *ProgressWriter) Close() error {
	return w.writer.Close()
}

// progressEvent is the wire form of a tile completion event.
type progressEvent struct {
	JobID     string `json:"job_id"`
	Tile      string `json:"tile"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Sink returns a progress sink publishing one job's events. Publish
// failures are logged and dropped; progress must never fail a job.
func (w *ProgressWriter) Sink(jobID string) fetch.ProgressSink {
	return fetch.SinkFunc(func(e fetch.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.writer.WriteMessages(ctx, serializeProgress(jobID, e)); err != nil {
			w.logger.Warn("progress publish failed", "job_id", jobID, "tile", e.TileID, "error", err)
		}
	})
}

func serializeProgress(jobID string, e fetch.Event) kafkago.Message {
	pe := progressEvent{
		JobID:     jobID,
		Tile:      e.TileID,
		Outcome:   string(e.Outcome),
		Completed: e.Completed,
		Total:     e.Total,
	}
	if e.Err != nil {
		pe.Error = e.Err.Error()
	}
	// progressEvent has no unmarshalable fields, Marshal cannot fail.
	data, _ := json.Marshal(pe)
	return kafkago.Message{Key: []byte(jobID), Value: data}
}
