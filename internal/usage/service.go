// Package usage accrues per-call billing metrics: telephony seconds, STT
// audio seconds, and TTS character counts.
package usage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/call"
)

// sttSecondsPerByte converts mu-law byte counts (8kHz mono, one byte per
// sample) into seconds of audio: 1/8000.
const sttSecondsPerByte = 0.000125

// setupOverhead is subtracted from the wall-clock span when no audio ever
// flowed, approximating engine setup time the carrier does not bill.
const setupOverhead = 2 * time.Second

type callMetrics struct {
	started      time.Time
	lastActivity time.Time
	firstAudio   time.Time
	lastAudio    time.Time
	sttSeconds   float64
	ttsChars     int
}

// Service tracks usage for in-flight calls and flushes totals to the store
// when a call ends.
type Service struct {
	mu    sync.Mutex
	calls map[string]*callMetrics

	store call.Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(store call.Store, log zerolog.Logger) *Service {
	return &Service{
		calls: make(map[string]*callMetrics),
		store: store,
		now:   time.Now,
		log:   log,
	}
}

// Start opens a usage record for the call.
func (s *Service) Start(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.calls[callID] = &callMetrics{started: now, lastActivity: now}
}

// TouchActivity bumps the call's last-activity timestamp.
func (s *Service) TouchActivity(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.calls[callID]; ok {
		m.lastActivity = s.now()
	}
}

// TouchAudioActivity records that audio flowed, in either direction. The
// first and last audio timestamps bound the billable span.
func (s *Service) TouchAudioActivity(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.calls[callID]
	if !ok {
		return
	}
	now := s.now()
	if m.firstAudio.IsZero() {
		m.firstAudio = now
	}
	m.lastAudio = now
	m.lastActivity = now
}

// AddSTTUsage accrues transcription time for n bytes of inbound audio.
func (s *Service) AddSTTUsage(callID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.calls[callID]
	if !ok {
		return
	}
	m.sttSeconds += float64(n) * sttSecondsPerByte
	now := s.now()
	if m.firstAudio.IsZero() {
		m.firstAudio = now
	}
	m.lastAudio = now
	m.lastActivity = now
}

// AddTTSUsage accrues synthesized character count.
func (s *Service) AddTTSUsage(callID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.calls[callID]; ok {
		m.ttsChars += len(text)
		m.lastActivity = s.now()
	}
}

// Flush computes the final totals, persists them, and drops the record.
// Telephony duration prefers the audio span plus one trailing second; calls
// that never carried audio fall back to wall-clock minus setup overhead.
// The floor is one billable second either way.
func (s *Service) Flush(ctx context.Context, callID string) {
	s.mu.Lock()
	m, ok := s.calls[callID]
	delete(s.calls, callID)
	s.mu.Unlock()
	if !ok {
		return
	}

	var span time.Duration
	if !m.firstAudio.IsZero() {
		span = m.lastAudio.Sub(m.firstAudio) + time.Second
	} else {
		span = m.lastActivity.Sub(m.started) - setupOverhead
	}
	durationSec := int(math.Round(float64(span.Milliseconds()) / 1000))
	if durationSec < 1 {
		durationSec = 1
	}
	sttSec := int(math.Round(m.sttSeconds))

	if err := s.store.UpdateUsage(ctx, callID, durationSec, sttSec, m.ttsChars); err != nil {
		s.log.Error().Err(err).Str("call_id", callID).Msg("persist usage failed")
		return
	}
	s.log.Info().
		Str("call_id", callID).
		Int("telephony_sec", durationSec).
		Int("stt_sec", sttSec).
		Int("tts_chars", m.ttsChars).
		Msg("usage flushed")
}

// Tracking reports whether a usage record is open for the call.
func (s *Service) Tracking(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[callID]
	return ok
}
