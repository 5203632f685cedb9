package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
)

// Result is the record published to the results topic when a call reaches a
// terminal state.
type Result struct {
	CallID            string    `json:"callId"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	RecordingURL      string    `json:"recordingUrl,omitempty"`
	RecordingDuration int       `json:"recordingDurationSec,omitempty"`
	TelephonyDuration int       `json:"telephonyDurationSec,omitempty"`
	STTUsageSeconds   int       `json:"sttUsageSeconds,omitempty"`
	TTSUsageChars     int       `json:"ttsUsageChars,omitempty"`
	EndedAt           time.Time `json:"endedAt"`
}

// ResultPublisher listens for terminal call events and emits one result
// record per call. Recording and usage totals are read back from the store
// because they are finalized by separate services.
type ResultPublisher struct {
	writer *kafka.Writer
	store  call.Store
	log    zerolog.Logger
	// settle is how long to wait before reading the store, so the recording
	// and usage finalizers have landed. Tune it up with recording size.
	settle time.Duration
}

func NewResultPublisher(brokers []string, topic string, settle time.Duration, store call.Store, log zerolog.Logger) *ResultPublisher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	p := &ResultPublisher{store: store, log: log, settle: settle}
	if len(brokers) > 0 && topic != "" {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		}
	}
	return p
}

// Wire subscribes the publisher to the terminal call topics. Without a
// writer configured the subscription is skipped entirely.
func (p *ResultPublisher) Wire(events *bus.Bus) {
	if p.writer == nil {
		return
	}
	events.Subscribe(bus.TopicCallEnded, func(evt bus.Event) {
		reason := ""
		if ended, ok := evt.Payload.(bus.CallEnded); ok {
			reason = ended.Reason
		}
		go p.publish(evt.Ctx.CallID, reason)
	})
	events.Subscribe(bus.TopicCallError, func(evt bus.Event) {
		reason := ""
		if errEvt, ok := evt.Payload.(bus.CallError); ok {
			reason = errEvt.Reason
		}
		go p.publish(evt.Ctx.CallID, reason)
	})
}

func (p *ResultPublisher) publish(callID, reason string) {
	time.Sleep(p.settle)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res := Result{CallID: callID, Reason: reason, EndedAt: time.Now().UTC()}
	if c, err := p.store.GetCall(ctx, callID); err == nil {
		res.Status = string(c.Status)
		res.Summary = c.Summary
		res.RecordingURL = c.RecordingURL
		res.RecordingDuration = c.RecordingDuration
		res.TelephonyDuration = c.TelephonyDuration
		res.STTUsageSeconds = c.STTUsageSeconds
		res.TTSUsageChars = c.TTSUsageChars
	}

	payload, err := json.Marshal(res)
	if err != nil {
		p.log.Error().Err(err).Str("call_id", callID).Msg("marshal call result")
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(callID),
		Value: payload,
	}); err != nil {
		p.log.Error().Err(err).Str("call_id", callID).Msg("publish call result failed")
		return
	}
	p.log.Info().Str("call_id", callID).Msg("call result published")
}

func (p *ResultPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
