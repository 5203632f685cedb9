package dtmf

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/audio"
	"github.com/calliope-voice/calliope/internal/bus"
)

func TestProcessTonePublishesEvent(t *testing.T) {
	events := bus.New(zerolog.Nop())
	svc := NewService(Options{}, events, zerolog.Nop())

	var got bus.Event
	events.Subscribe(bus.TopicDTMFReceived, func(evt bus.Event) { got = evt })

	svc.ProcessTone("call-1", "websocket", "7")

	payload, ok := got.Payload.(bus.DTMFReceived)
	if !ok {
		t.Fatalf("payload = %T, want DTMFReceived", got.Payload)
	}
	if payload.Tone != "7" || got.Ctx.CallID != "call-1" {
		t.Fatalf("event = %+v / %+v, want tone 7 for call-1", got.Ctx, payload)
	}
}

func TestGenerateSequencePublishesAudio(t *testing.T) {
	events := bus.New(zerolog.Nop())
	svc := NewService(Options{ToneMs: 100, PauseMs: 50}, events, zerolog.Nop())

	var got bus.DTMFToneGenerated
	events.Subscribe(bus.TopicDTMFToneGenerated, func(evt bus.Event) {
		got, _ = evt.Payload.(bus.DTMFToneGenerated)
	})

	if err := svc.GenerateSequence("call-1", "websocket", "1x#"); err != nil {
		t.Fatalf("GenerateSequence() error = %v", err)
	}
	if got.Sequence != "1#" {
		t.Fatalf("Sequence = %q, want invalid symbols filtered to %q", got.Sequence, "1#")
	}
	// Two tones and two pauses at 8kHz mu-law.
	if len(got.Buffer) != 2400 {
		t.Fatalf("Buffer = %d bytes, want 2400", len(got.Buffer))
	}
	if len(got.Frequencies) != 2 || got.Frequencies[0] != audio.ToneFrequencies['1'] {
		t.Fatalf("Frequencies = %v, want pairs for 1 and #", got.Frequencies)
	}
}

func TestGenerateSequenceAllInvalid(t *testing.T) {
	events := bus.New(zerolog.Nop())
	svc := NewService(Options{}, events, zerolog.Nop())

	published := false
	events.Subscribe(bus.TopicDTMFToneGenerated, func(bus.Event) { published = true })

	err := svc.GenerateSequence("call-1", "websocket", "zz")
	if !errors.Is(err, audio.ErrEmptySequence) {
		t.Fatalf("GenerateSequence() error = %v, want ErrEmptySequence", err)
	}
	if published {
		t.Fatalf("tone event published for invalid sequence")
	}
}
