package call

import (
	"context"
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInitiated, StatusFailed, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInitiated, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusInProgress, StatusInitiated, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateCall(ctx, Call{ID: "call-1", Prompt: "greet"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	c, err := s.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Status != StatusInitiated {
		t.Fatalf("Status = %s, want %s", c.Status, StatusInitiated)
	}

	if err := s.UpdateStatus(ctx, "call-1", StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus(in_progress) error = %v", err)
	}
	if err := s.UpdateStatus(ctx, "call-1", StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus(completed) error = %v", err)
	}
	if err := s.UpdateStatus(ctx, "call-1", StatusInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("UpdateStatus after terminal = %v, want ErrInvalidTransition", err)
	}
}

func TestMemoryStoreCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateCall(ctx, Call{ID: "call-1", Prompt: "first"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if err := s.UpdateStatus(ctx, "call-1", StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	// Re-creating must not reset the record.
	if err := s.CreateCall(ctx, Call{ID: "call-1", Prompt: "second"}); err != nil {
		t.Fatalf("CreateCall() again error = %v", err)
	}
	c, err := s.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Prompt != "first" || c.Status != StatusInProgress {
		t.Fatalf("call = %+v, want original prompt and status preserved", c)
	}
}

func TestMemoryStoreMarkFailedRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateCall(ctx, Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if err := s.MarkFailed(ctx, "call-1", "engine exploded"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	c, _ := s.GetCall(ctx, "call-1")
	if c.Status != StatusFailed || c.ErrorReason != "engine exploded" {
		t.Fatalf("call = %+v, want FAILED with reason", c)
	}
	if err := s.MarkFailed(ctx, "call-1", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkFailed on terminal = %v, want ErrInvalidTransition", err)
	}
}

func TestMemoryStoreTranscripts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.AddTranscript(ctx, Transcript{CallID: "missing", Role: RoleUser, Text: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddTranscript for unknown call = %v, want ErrNotFound", err)
	}

	if err := s.CreateCall(ctx, Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if err := s.AddTranscript(ctx, Transcript{CallID: "call-1", Role: RoleUser, Text: "hi"}); err != nil {
		t.Fatalf("AddTranscript() error = %v", err)
	}
	if err := s.AddTranscript(ctx, Transcript{CallID: "call-1", Role: RoleAssistant, Text: "hello"}); err != nil {
		t.Fatalf("AddTranscript() error = %v", err)
	}

	list, err := s.Transcripts(ctx, "call-1")
	if err != nil {
		t.Fatalf("Transcripts() error = %v", err)
	}
	if len(list) != 2 || list[0].Role != RoleUser || list[1].Role != RoleAssistant {
		t.Fatalf("transcripts = %+v, want user then assistant", list)
	}
}

func TestJobSpecValidate(t *testing.T) {
	valid := JobSpec{
		CallID: "call-1",
		Prompt: "be helpful",
		Providers: ProviderSelection{
			Telephony:   "websocket",
			STTProvider: "mock",
			LLMProvider: "mock",
			TTSProvider: "mock",
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	missingPrompt := valid
	missingPrompt.Prompt = "  "
	if err := missingPrompt.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for blank prompt")
	}

	missingProvider := valid
	missingProvider.Providers.LLMProvider = ""
	if err := missingProvider.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for missing llm provider")
	}
}
