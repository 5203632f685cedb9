package bus

import (
	"time"

	"github.com/calliope-voice/calliope/internal/call"
)

// Topic identifies an event stream on the bus.
type Topic string

const (
	TopicCallInitiated             Topic = "call.initiated"
	TopicCallEnded                 Topic = "call.ended"
	TopicCallError                 Topic = "call.error"
	TopicAudioChunkReceived        Topic = "call.audio.chunk.received"
	TopicTranscriptionChunkCreated Topic = "call.transcription.chunk.created"
	TopicResponseChunkGenerated    Topic = "call.response.chunk.generated"
	TopicAudioChunkSynthesized     Topic = "call.audio.chunk.synthesized"
	TopicHangupRequested           Topic = "call.hangup.requested"
	TopicTransferRequested         Topic = "call.transfer.requested"
	TopicDTMFReceived              Topic = "call.dtmf.received"
	TopicDTMFToneGenerated         Topic = "call.dtmf.tone.generated"
	TopicRecordingSaved            Topic = "call.recording.saved"
)

// Context rides along with every event.
type Context struct {
	CallID    string
	Provider  string
	Timestamp time.Time
}

// Event pairs a payload with its call context. The topic is derived from the
// payload type, so a payload can never be published under the wrong topic.
type Event struct {
	Ctx     Context
	Payload Payload
}

// Payload is the closed set of event bodies. Each payload names the single
// topic it belongs to.
type Payload interface {
	Topic() Topic
}

// CallInitiated starts the per-call engine wiring.
type CallInitiated struct {
	Job call.JobSpec
}

// CallEnded finalizes recording and usage and tears the session down.
type CallEnded struct {
	Reason string
}

// CallError marks the call FAILED. Fatal for the call, not the process.
type CallError struct {
	Reason string
}

// AudioChunkReceived carries inbound caller audio toward the STT stage.
type AudioChunkReceived struct {
	Chunk     []byte
	Direction string // inbound|outbound
}

// TranscriptionChunkCreated carries STT output toward the LLM stage.
type TranscriptionChunkCreated struct {
	Text string
}

// ResponseChunkGenerated carries LLM text toward the TTS stage. An empty
// Text marks the end of one assistant turn.
type ResponseChunkGenerated struct {
	Text string
}

// AudioChunkSynthesized carries TTS audio toward the telephony stage.
type AudioChunkSynthesized struct {
	Chunk []byte
}

// HangupRequested is the tool side channel asking to end the call.
type HangupRequested struct {
	Reason string
}

// TransferRequested is the tool side channel asking to redirect the call.
type TransferRequested struct {
	Reason         string
	TransferNumber string
}

// DTMFReceived reports one inbound keypad tone.
type DTMFReceived struct {
	Tone string
}

// DTMFToneGenerated carries a synthesized outbound tone sequence.
type DTMFToneGenerated struct {
	Buffer      []byte
	Sequence    string
	Frequencies [][2]float64
}

// RecordingSaved reports the finalized recording artifact for a call.
type RecordingSaved struct {
	URL         string
	LocalPath   string
	DurationSec int
}

func (CallInitiated) Topic() Topic             { return TopicCallInitiated }
func (CallEnded) Topic() Topic                 { return TopicCallEnded }
func (CallError) Topic() Topic                 { return TopicCallError }
func (AudioChunkReceived) Topic() Topic        { return TopicAudioChunkReceived }
func (TranscriptionChunkCreated) Topic() Topic { return TopicTranscriptionChunkCreated }
func (ResponseChunkGenerated) Topic() Topic    { return TopicResponseChunkGenerated }
func (AudioChunkSynthesized) Topic() Topic     { return TopicAudioChunkSynthesized }
func (HangupRequested) Topic() Topic           { return TopicHangupRequested }
func (TransferRequested) Topic() Topic         { return TopicTransferRequested }
func (DTMFReceived) Topic() Topic              { return TopicDTMFReceived }
func (DTMFToneGenerated) Topic() Topic         { return TopicDTMFToneGenerated }
func (RecordingSaved) Topic() Topic            { return TopicRecordingSaved }

// NewContext builds an event context stamped with the current time.
func NewContext(callID, providerName string) Context {
	return Context{CallID: callID, Provider: providerName, Timestamp: time.Now().UTC()}
}
