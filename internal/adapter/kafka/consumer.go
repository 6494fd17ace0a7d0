package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/terrain-tile-service/internal/config"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
	"github.com/couchcryptid/terrain-tile-service/internal/job"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
)

// JobRunner executes one acquisition request. Implemented by job.Runner.
type JobRunner interface {
	Run(ctx context.Context, req job.Request, sink fetch.ProgressSink) (job.Outcome, error)
}

// Consumer reads acquisition requests from the job topic and drives the
// runner, publishing an outcome per job and progress per tile.
type Consumer struct {
	reader   *kafkago.Reader
	runner   JobRunner
	results  *ResultWriter
	progress *ProgressWriter
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// NewConsumer creates a consumer group member on the job topic.
func NewConsumer(cfg *config.Config, runner JobRunner, results *ResultWriter, progress *ProgressWriter, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaJobTopic,
		GroupID: cfg.KafkaGroupID,
	})
	return &Consumer{
		reader:   reader,
		runner:   runner,
		results:  results,
		progress: progress,
		logger:   logger,
		metrics:  metrics,
	}
}

// Ready reports whether the consume loop is running.
func (c *Consumer) Ready() bool {
	return c.ready.Load()
}

// Run consumes jobs until the context is cancelled. Malformed messages
// are logged, committed, and skipped; a failed job still publishes its
// outcome and commits, since retrying the same request would fail the
// same way and the failed tiles are enumerated for the client.
func (c *Consumer) Run(ctx context.Context) error {
	c.ready.Store(true)
	c.metrics.ConsumerUp.Set(1)
	defer func() {
		c.ready.Store(false)
		c.metrics.ConsumerUp.Set(0)
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch job message: %w", err)
		}

		req, err := mapMessageToRequest(msg)
		if err != nil {
			c.logger.Warn("skipping malformed job message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := c.commit(ctx, msg); err != nil {
				return err
			}
			continue
		}

		out, runErr := c.runner.Run(ctx, req, c.progress.Sink(req.ID))
		if ctx.Err() != nil {
			// Interrupted by shutdown: leave the offset uncommitted so the
			// job is redelivered; the idempotent fetcher skips finished tiles.
			return nil
		}
		if runErr != nil {
			c.logger.Error("job did not complete", "job_id", out.JobID, "status", out.Status, "error", runErr)
		}
		if err := c.results.PublishOutcome(ctx, out); err != nil {
			return fmt.Errorf("publish outcome for job %s: %w", out.JobID, err)
		}
		if err := c.commit(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafkago.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("commit job offset: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// mapMessageToRequest deserializes a job message. The message key backs
// the job ID when the payload doesn't carry one, so producers can route
// and identify jobs without duplicating the ID in the body.
func mapMessageToRequest(msg kafkago.Message) (job.Request, error) {
	var req job.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return job.Request{}, fmt.Errorf("deserialize job request: %w", err)
	}
	if req.ID == "" {
		req.ID = string(msg.Key)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}
