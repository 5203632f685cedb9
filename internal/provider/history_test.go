package provider

import "testing"

func TestNormalizeHistoryMergesConsecutiveRoles(t *testing.T) {
	in := []Message{
		{Role: RoleAssistant, Content: "You are a receptionist."},
		{Role: RoleAssistant, Content: "Greet the caller."},
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleUser, Content: "anyone there?"},
		{Role: RoleAssistant, Content: "Hi!"},
	}

	out := NormalizeHistory(in)
	if len(out) != 3 {
		t.Fatalf("normalized length = %d, want 3: %+v", len(out), out)
	}
	if out[0].Role != RoleAssistant || out[0].Content != "You are a receptionist.\n\nGreet the caller." {
		t.Fatalf("out[0] = %+v, want merged assistant messages", out[0])
	}
	if out[1].Role != RoleUser || out[1].Content != "Hello\n\nanyone there?" {
		t.Fatalf("out[1] = %+v, want merged user messages", out[1])
	}
	if out[2].Content != "Hi!" {
		t.Fatalf("out[2] = %+v, want trailing assistant message", out[2])
	}
}

func TestNormalizeHistoryEmptyAndSingle(t *testing.T) {
	if out := NormalizeHistory(nil); len(out) != 0 {
		t.Fatalf("NormalizeHistory(nil) = %+v, want empty", out)
	}
	single := []Message{{Role: RoleUser, Content: "hi"}}
	out := NormalizeHistory(single)
	if len(out) != 1 || out[0] != single[0] {
		t.Fatalf("NormalizeHistory(single) = %+v, want unchanged", out)
	}
}

func TestRegistryLookupUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.LLM("nope"); err == nil {
		t.Fatalf("LLM lookup = nil error, want ErrUnknownProvider")
	}
	RegisterMocks(r)
	if _, err := r.LLM(MockName); err != nil {
		t.Fatalf("LLM(%q) error = %v", MockName, err)
	}
	if _, err := r.Telephony(MockName); err != nil {
		t.Fatalf("Telephony(%q) error = %v", MockName, err)
	}
	if _, err := r.STT(MockName); err != nil {
		t.Fatalf("STT(%q) error = %v", MockName, err)
	}
	if _, err := r.TTS(MockName); err != nil {
		t.Fatalf("TTS(%q) error = %v", MockName, err)
	}
}
