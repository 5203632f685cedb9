// Package provider defines the capability contracts implemented by vendor
// engine adapters and the registry the orchestrator resolves them from.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Config carries everything a factory needs to build one engine instance.
type Config struct {
	CallID     string
	Provider   string
	Model      string
	Language   string
	Prompt     string
	FromNumber string
	ToNumber   string
	History    []Message
}

// InboundAudioFunc receives raw audio arriving from the remote party.
type InboundAudioFunc func(chunk []byte)

// TelephonyEngine is the transport leg of one call.
type TelephonyEngine interface {
	// Send transmits synthesized audio to the remote party.
	Send(ctx context.Context, audio []byte) error
	// Cancel aborts in-flight outbound playback (barge-in). Advisory to the
	// transport, not an instantaneous stop.
	Cancel(ctx context.Context) error
	Hangup(ctx context.Context) error
	Transfer(ctx context.Context, number string) error
	OnInboundAudio(fn InboundAudioFunc)
}

// STTEngine turns caller audio into transcript text.
type STTEngine interface {
	Initialize(ctx context.Context) error
	Pipe(ctx context.Context, chunk []byte) error
	OnTranscript(fn func(text string))
	Close() error
}

// ToolCall is a side-channel action selected by the model.
type ToolCall struct {
	Name           string // hangup | transfer | dtmf
	Reason         string
	TransferNumber string
	Digits         string
}

// LLMEngine streams response text for transcript input. It owns the call's
// conversation history.
type LLMEngine interface {
	Initialize(ctx context.Context) error
	Pipe(ctx context.Context, text string) error
	OnResponse(fn func(chunk string))
	OnTool(fn func(tc ToolCall))
}

// TTSEngine turns response text into synthesized audio.
type TTSEngine interface {
	Initialize(ctx context.Context) error
	Pipe(ctx context.Context, text string) error
	OnAudio(fn func(chunk []byte))
	Close() error
}

type (
	TelephonyFactory func(ctx context.Context, cfg Config) (TelephonyEngine, error)
	STTFactory       func(ctx context.Context, cfg Config) (STTEngine, error)
	LLMFactory       func(ctx context.Context, cfg Config) (LLMEngine, error)
	TTSFactory       func(ctx context.Context, cfg Config) (TTSEngine, error)
)

// Registry maps provider names to engine constructors. Vendors register at
// startup; the orchestrator resolves by lookup instead of branching on
// provider strings.
type Registry struct {
	mu        sync.RWMutex
	telephony map[string]TelephonyFactory
	stt       map[string]STTFactory
	llm       map[string]LLMFactory
	tts       map[string]TTSFactory
}

func NewRegistry() *Registry {
	return &Registry{
		telephony: make(map[string]TelephonyFactory),
		stt:       make(map[string]STTFactory),
		llm:       make(map[string]LLMFactory),
		tts:       make(map[string]TTSFactory),
	}
}

func (r *Registry) RegisterTelephony(name string, f TelephonyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telephony[name] = f
}

func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

func (r *Registry) Telephony(name string) (TelephonyFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.telephony[name]
	if !ok {
		return nil, fmt.Errorf("%w: telephony %q", ErrUnknownProvider, name)
	}
	return f, nil
}

func (r *Registry) STT(name string) (STTFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.stt[name]
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrUnknownProvider, name)
	}
	return f, nil
}

func (r *Registry) LLM(name string) (LLMFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.llm[name]
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrUnknownProvider, name)
	}
	return f, nil
}

func (r *Registry) TTS(name string) (TTSFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.tts[name]
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrUnknownProvider, name)
	}
	return f, nil
}
