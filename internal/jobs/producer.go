package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
)

// Enqueuer hands call jobs to the dispatch topic. Without brokers configured
// it degrades to publishing call.initiated directly on the local bus, which
// keeps single-node deployments working without Kafka.
type Enqueuer struct {
	writer *kafka.Writer
	events *bus.Bus
	log    zerolog.Logger
}

func NewEnqueuer(brokers []string, topic string, events *bus.Bus, log zerolog.Logger) *Enqueuer {
	e := &Enqueuer{events: events, log: log}
	if len(brokers) > 0 {
		e.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		}
	}
	return e
}

// Enqueue submits one job. The call ID keys the Kafka message so retries of
// the same call land on the same partition.
func (e *Enqueuer) Enqueue(ctx context.Context, job call.JobSpec) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if e.writer == nil {
		e.events.Publish(bus.Event{
			Ctx:     bus.NewContext(job.CallID, job.Providers.Telephony),
			Payload: bus.CallInitiated{Job: job},
		})
		return nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.CallID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	e.log.Debug().Str("call_id", job.CallID).Msg("job enqueued")
	return nil
}

func (e *Enqueuer) Close() error {
	if e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
