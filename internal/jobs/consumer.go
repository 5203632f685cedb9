// Package jobs is the Kafka intake and results boundary: call jobs are
// consumed from the dispatch topic and turned into call.initiated events;
// finished calls are published back as result records.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
	"github.com/calliope-voice/calliope/internal/observability"
)

// ConsumerConfig selects the dispatch topic the engine consumes jobs from.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Concurrency bounds how many jobs are handled at once. Defaults to 5.
	Concurrency int
}

// Consumer pulls call jobs off Kafka and dispatches them onto the bus.
// Offsets are committed after a job's handling finishes, so a crash between
// fetch and commit re-delivers the job; terminal-status checks keep that
// re-delivery a no-op.
type Consumer struct {
	reader  *kafka.Reader
	store   call.Store
	events  *bus.Bus
	metrics *observability.Metrics
	log     zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, store call.Store, events *bus.Bus, metrics *observability.Metrics, log zerolog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		store:   store,
		events:  events,
		metrics: metrics,
		log:     log,
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Run consumes until ctx is cancelled. Jobs are handled on bounded worker
// goroutines so one call's engine setup never stalls intake for the next.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	defer c.wg.Wait()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.dispatch(ctx, msg.Value, func() {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Error().Err(err).Msg("offset commit failed")
			}
		})
	}
}

// dispatch runs one job on a worker slot and invokes commit once the job has
// been handled. Workers commit independently, so an earlier offset can be
// re-delivered after a crash; handle's terminal-status check absorbs that.
func (c *Consumer) dispatch(ctx context.Context, payload []byte, commit func()) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		c.handle(ctx, payload)
		if commit != nil {
			commit()
		}
	}()
}

// handle validates one job payload and publishes call.initiated. Malformed
// jobs are logged and skipped rather than retried; they will never become
// valid.
func (c *Consumer) handle(ctx context.Context, payload []byte) {
	var job call.JobSpec
	if err := json.Unmarshal(payload, &job); err != nil {
		c.metrics.JobEvents.WithLabelValues("malformed").Inc()
		c.log.Error().Err(err).Msg("malformed job payload, skipped")
		return
	}
	if job.CallID == "" {
		job.CallID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		c.metrics.JobEvents.WithLabelValues("invalid").Inc()
		c.log.Error().Err(err).Str("call_id", job.CallID).Msg("invalid job, skipped")
		return
	}

	if existing, err := c.store.GetCall(ctx, job.CallID); err == nil && existing.Status.Terminal() {
		c.metrics.JobEvents.WithLabelValues("duplicate").Inc()
		c.log.Info().Str("call_id", job.CallID).Str("status", string(existing.Status)).
			Msg("job for terminal call, skipped")
		return
	}

	c.metrics.JobEvents.WithLabelValues("dispatched").Inc()
	c.events.Publish(bus.Event{
		Ctx:     bus.NewContext(job.CallID, job.Providers.Telephony),
		Payload: bus.CallInitiated{Job: job},
	})
}
