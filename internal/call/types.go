// Package call holds the durable Call record, the job intake payload, and
// the persistence layer mutated by the orchestrator and the recording and
// usage services.
package call

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the call lifecycle state. Transitions only move forward, except
// FAILED which is reachable from any non-terminal state.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the forward
// monotonic lifecycle.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.rank() == s.rank()+1
}

// ProviderSelection names the vendor and model for each pipeline stage.
type ProviderSelection struct {
	Telephony   string `json:"telephonyProvider"`
	STTProvider string `json:"sttProvider"`
	STTModel    string `json:"sttModel"`
	LLMProvider string `json:"llmProvider"`
	LLMModel    string `json:"llmModel"`
	TTSProvider string `json:"ttsProvider"`
	TTSModel    string `json:"ttsModel"`
}

// Call is the durable record for one placed call.
type Call struct {
	ID                string
	Status            Status
	Prompt            string
	Language          string
	FromNumber        string
	ToNumber          string
	Providers         ProviderSelection
	RecordingURL      string
	RecordingDuration int // seconds
	RecordingFormat   string
	Summary           string
	ErrorReason       string
	TelephonyDuration int // seconds
	STTUsageSeconds   int
	TTSUsageChars     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TranscriptRole tags one conversation utterance.
type TranscriptRole string

const (
	RoleUser      TranscriptRole = "user"
	RoleAssistant TranscriptRole = "assistant"
	RoleTool      TranscriptRole = "tool"
)

// Transcript is one persisted utterance for a call.
type Transcript struct {
	CallID    string
	Role      TranscriptRole
	Text      string
	CreatedAt time.Time
}

// JobSpec is the shape dispatched by the external job queue. It mirrors the
// call.initiated payload exactly.
type JobSpec struct {
	CallID     string            `json:"callId"`
	Prompt     string            `json:"prompt"`
	Language   string            `json:"language"`
	FromNumber string            `json:"fromNumber"`
	ToNumber   string            `json:"toNumber"`
	Providers  ProviderSelection `json:"providers"`
}

var errMissingField = errors.New("missing required field")

// Validate checks the fields a job must carry before engines can be built.
func (j JobSpec) Validate() error {
	for name, v := range map[string]string{
		"callId":            j.CallID,
		"prompt":            j.Prompt,
		"telephonyProvider": j.Providers.Telephony,
		"sttProvider":       j.Providers.STTProvider,
		"llmProvider":       j.Providers.LLMProvider,
		"ttsProvider":       j.Providers.TTSProvider,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", errMissingField, name)
		}
	}
	return nil
}
