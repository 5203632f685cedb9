// Package dtmf bridges keypad tones between the telephony transport and the
// event bus, in both directions.
package dtmf

import (
	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/audio"
	"github.com/calliope-voice/calliope/internal/bus"
)

// Options sets the synthesis timings for outbound tone sequences.
type Options struct {
	ToneMs  int
	PauseMs int
	Format  audio.Format
}

func (o *Options) applyDefaults() {
	if o.ToneMs <= 0 {
		o.ToneMs = 100
	}
	if o.PauseMs <= 0 {
		o.PauseMs = 50
	}
	if o.Format.SampleRate == 0 {
		o.Format = audio.DefaultFormat
	}
}

type Service struct {
	opts   Options
	events *bus.Bus
	log    zerolog.Logger
}

func NewService(opts Options, events *bus.Bus, log zerolog.Logger) *Service {
	opts.applyDefaults()
	return &Service{opts: opts, events: events, log: log}
}

// ProcessTone publishes an inbound keypad tone reported by the transport.
func (s *Service) ProcessTone(callID, providerName, tone string) {
	s.log.Debug().Str("call_id", callID).Str("tone", tone).Msg("dtmf tone received")
	s.events.Publish(bus.Event{
		Ctx:     bus.NewContext(callID, providerName),
		Payload: bus.DTMFReceived{Tone: tone},
	})
}

// GenerateSequence synthesizes an outbound tone run and publishes the audio
// for the telephony stage to play. Unsupported symbols are dropped; a
// sequence with nothing playable is an error.
func (s *Service) GenerateSequence(callID, providerName, digits string) error {
	buf, tones, err := audio.GenerateSequence(digits, s.opts.ToneMs, s.opts.PauseMs, s.opts.Format)
	if err != nil {
		return err
	}
	played := make([]byte, len(tones))
	for i, t := range tones {
		played[i] = byte(t)
	}
	s.events.Publish(bus.Event{
		Ctx: bus.NewContext(callID, providerName),
		Payload: bus.DTMFToneGenerated{
			Buffer:      buf,
			Sequence:    string(played),
			Frequencies: audio.SequenceFrequencies(tones),
		},
	})
	s.log.Info().Str("call_id", callID).Str("sequence", string(played)).Int("bytes", len(buf)).Msg("dtmf sequence generated")
	return nil
}
