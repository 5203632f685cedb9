package call

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence boundary for Call records. Updates after call
// setup are best-effort: callers log failures and keep the call running.
type Store interface {
	CreateCall(ctx context.Context, c Call) error
	GetCall(ctx context.Context, id string) (Call, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetSummary(ctx context.Context, id, summary string) error
	UpdateRecording(ctx context.Context, id, url string, durationSec int, format string) error
	UpdateUsage(ctx context.Context, id string, durationSec, sttSeconds, ttsChars int) error
	AddTranscript(ctx context.Context, t Transcript) error
	Transcripts(ctx context.Context, callID string) ([]Transcript, error)
	Close()
}

// MemoryStore keeps calls in process memory. It backs tests and deployments
// without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	calls       map[string]*Call
	transcripts map[string][]Transcript
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:       make(map[string]*Call),
		transcripts: make(map[string][]Transcript),
	}
}

// CreateCall inserts the record if absent. Re-creating an existing call is a
// no-op so that queue re-dispatch and HTTP pre-creation can coexist.
func (s *MemoryStore) CreateCall(_ context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = StatusInitiated
	}
	s.calls[c.ID] = &c
	return nil
}

func (s *MemoryStore) GetCall(_ context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return *c, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	if !c.Status.CanTransition(status) {
		return ErrInvalidTransition
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status.Terminal() {
		return ErrInvalidTransition
	}
	c.Status = StatusFailed
	c.ErrorReason = reason
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetSummary(_ context.Context, id, summary string) error {
	return s.update(id, func(c *Call) { c.Summary = summary })
}

func (s *MemoryStore) UpdateRecording(_ context.Context, id, url string, durationSec int, format string) error {
	return s.update(id, func(c *Call) {
		c.RecordingURL = url
		c.RecordingDuration = durationSec
		c.RecordingFormat = format
	})
}

func (s *MemoryStore) UpdateUsage(_ context.Context, id string, durationSec, sttSeconds, ttsChars int) error {
	return s.update(id, func(c *Call) {
		c.TelephonyDuration = durationSec
		c.STTUsageSeconds = sttSeconds
		c.TTSUsageChars = ttsChars
	})
}

func (s *MemoryStore) AddTranscript(_ context.Context, t Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[t.CallID]; !ok {
		return ErrNotFound
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transcripts[t.CallID] = append(s.transcripts[t.CallID], t)
	return nil
}

func (s *MemoryStore) Transcripts(_ context.Context, callID string) ([]Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.transcripts[callID]
	out := make([]Transcript, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) update(id string, fn func(*Call)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
