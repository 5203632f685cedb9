package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
	"github.com/calliope-voice/calliope/internal/dtmf"
	"github.com/calliope-voice/calliope/internal/observability"
	"github.com/calliope-voice/calliope/internal/provider"
	"github.com/calliope-voice/calliope/internal/recording"
	"github.com/calliope-voice/calliope/internal/usage"
)

// capturedEngines records the mock engines built for each call so tests can
// drive and inspect them.
type capturedEngines struct {
	telephony *provider.MockTelephony
	stt       *provider.MockSTT
	llm       *provider.MockLLM
	tts       *provider.MockTTS
}

type testHarness struct {
	orch    *Orchestrator
	events  *bus.Bus
	store   *call.MemoryStore
	engines map[string]*capturedEngines
	prep    func(*capturedEngines)
}

func newHarness(t *testing.T, namespace string, opts Options) *testHarness {
	t.Helper()
	h := &testHarness{
		events:  bus.New(zerolog.Nop()),
		store:   call.NewMemoryStore(),
		engines: make(map[string]*capturedEngines),
	}

	registry := provider.NewRegistry()
	registry.RegisterTelephony("mock", func(_ context.Context, cfg provider.Config) (provider.TelephonyEngine, error) {
		e := provider.NewMockTelephony(cfg.CallID)
		h.captured(cfg.CallID).telephony = e
		return e, nil
	})
	registry.RegisterSTT("mock", func(_ context.Context, cfg provider.Config) (provider.STTEngine, error) {
		e := provider.NewMockSTT()
		h.captured(cfg.CallID).stt = e
		return e, nil
	})
	registry.RegisterLLM("mock", func(_ context.Context, cfg provider.Config) (provider.LLMEngine, error) {
		e := provider.NewMockLLM(cfg.History)
		h.captured(cfg.CallID).llm = e
		if h.prep != nil {
			h.prep(h.captured(cfg.CallID))
		}
		return e, nil
	})
	registry.RegisterTTS("mock", func(_ context.Context, cfg provider.Config) (provider.TTSEngine, error) {
		e := provider.NewMockTTS()
		h.captured(cfg.CallID).tts = e
		return e, nil
	})

	recorder, err := recording.NewService(recording.Options{LocalDir: t.TempDir()}, h.store, nil, h.events, zerolog.Nop())
	if err != nil {
		t.Fatalf("recording service: %v", err)
	}
	usageSvc := usage.NewService(h.store, zerolog.Nop())
	dtmfSvc := dtmf.NewService(dtmf.Options{}, h.events, zerolog.Nop())
	metrics := observability.NewMetrics(namespace)

	h.orch = NewOrchestrator(h.events, h.store, registry, recorder, usageSvc, dtmfSvc, metrics, opts, zerolog.Nop())
	h.orch.Wire()
	return h
}

func (h *testHarness) captured(callID string) *capturedEngines {
	if _, ok := h.engines[callID]; !ok {
		h.engines[callID] = &capturedEngines{}
	}
	return h.engines[callID]
}

func testJob(id string) call.JobSpec {
	return call.JobSpec{
		CallID:   id,
		Prompt:   "You are a helpful receptionist.",
		Language: "en",
		Providers: call.ProviderSelection{
			Telephony:   "mock",
			STTProvider: "mock",
			LLMProvider: "mock",
			TTSProvider: "mock",
		},
	}
}

func (h *testHarness) initiate(id string) {
	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext(id, "mock"),
		Payload: bus.CallInitiated{Job: testJob(id)},
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartCallRegistersEnginesAndPersistsCall(t *testing.T) {
	h := newHarness(t, "test_engine_start", Options{})
	h.initiate("call-1")

	if !h.orch.HasEngines("call-1") {
		t.Fatalf("HasEngines(call-1) = false, want all four engines registered")
	}
	if h.orch.HasEngines("call-2") {
		t.Fatalf("HasEngines(call-2) = true, want no engines for other call")
	}
	if h.orch.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", h.orch.ActiveSessions())
	}

	c, err := h.store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Status != call.StatusInProgress {
		t.Fatalf("Status = %s, want %s", c.Status, call.StatusInProgress)
	}
	// The model starts from the prompt as seeded history.
	hist := h.captured("call-1").llm.History()
	if len(hist) != 1 || hist[0].Role != provider.RoleAssistant {
		t.Fatalf("history = %+v, want seeded assistant prompt", hist)
	}
}

func TestDuplicateInitiateIsRejected(t *testing.T) {
	h := newHarness(t, "test_engine_dup", Options{})
	h.initiate("call-1")

	err := h.orch.startCall(context.Background(), testJob("call-1"))
	if !errors.Is(err, ErrCallExists) {
		t.Fatalf("startCall duplicate = %v, want ErrCallExists", err)
	}
	if h.orch.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", h.orch.ActiveSessions())
	}
}

func TestUnknownProviderFailsCall(t *testing.T) {
	h := newHarness(t, "test_engine_unknown", Options{})
	job := testJob("call-1")
	job.Providers.LLMProvider = "no-such-vendor"
	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.CallInitiated{Job: job},
	})

	if h.orch.HasEngines("call-1") {
		t.Fatalf("HasEngines = true, want unwound engines after init failure")
	}
	c, err := h.store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Status != call.StatusFailed {
		t.Fatalf("Status = %s, want %s", c.Status, call.StatusFailed)
	}
}

func TestInitFailureReleasesTransport(t *testing.T) {
	h := newHarness(t, "test_engine_unwind", Options{})
	job := testJob("call-1")
	job.Providers.STTProvider = "no-such-vendor"
	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.CallInitiated{Job: job},
	})

	// Telephony was built before the STT stage failed; the unwind must hang
	// it up, not just deregister it.
	eng := h.captured("call-1")
	if eng.telephony == nil {
		t.Fatalf("telephony engine not built, want it constructed before the failing stage")
	}
	if eng.telephony.Hangups() == 0 {
		t.Fatalf("hangups = 0, want transport released after init failure")
	}
	if h.orch.HasEngines("call-1") {
		t.Fatalf("HasEngines = true, want unwound engines")
	}

	c, err := h.store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Status != call.StatusFailed {
		t.Fatalf("Status = %s, want %s", c.Status, call.StatusFailed)
	}
}

func TestPipelineFlowFromAudioToPlayback(t *testing.T) {
	h := newHarness(t, "test_engine_flow", Options{})
	h.initiate("call-1")
	eng := h.captured("call-1")

	// Caller audio enters through the telephony engine.
	eng.telephony.EmitInbound([]byte{0x7F, 0x7F, 0x7F, 0x7F})

	// STT transcribes, the LLM replies, TTS synthesizes, and the audio goes
	// back out the telephony engine.
	waitFor(t, "synthesized audio to reach telephony", func() bool {
		return len(eng.telephony.Sent()) > 0
	})

	if eng.stt.Piped() != 1 {
		t.Fatalf("stt chunks = %d, want 1", eng.stt.Piped())
	}
	if got := eng.tts.Piped(); len(got) == 0 {
		t.Fatalf("tts received no text, want reply chunks")
	}

	// The caller spoke while nothing was playing, still counts as one
	// barge-in cancel for the turn.
	waitFor(t, "barge-in cancel", func() bool { return eng.telephony.Cancels() == 1 })

	// Both sides of the turn are persisted.
	waitFor(t, "transcripts persisted", func() bool {
		list, err := h.store.Transcripts(context.Background(), "call-1")
		if err != nil {
			return false
		}
		return len(list) >= 2
	})
	list, _ := h.store.Transcripts(context.Background(), "call-1")
	if list[0].Role != call.RoleUser {
		t.Fatalf("first transcript role = %s, want user", list[0].Role)
	}
	if list[1].Role != call.RoleAssistant || list[1].Text != "How can I help?" {
		t.Fatalf("assistant transcript = %+v, want full assembled turn", list[1])
	}
}

func TestBargeInCancelsOncePerTurn(t *testing.T) {
	h := newHarness(t, "test_engine_bargein", Options{})
	h.initiate("call-1")
	eng := h.captured("call-1")

	// Two audio chunks in quick succession produce two transcripts inside
	// the same assistant turn window; only the first one cancels.
	eng.stt.Canned = "still talking"
	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.TranscriptionChunkCreated{Text: "hello"},
	})
	waitFor(t, "first cancel", func() bool { return eng.telephony.Cancels() >= 1 })

	if got := eng.telephony.Cancels(); got != 1 {
		t.Fatalf("cancels = %d, want exactly 1 for the turn", got)
	}
}

func TestHangupFlowCompletesCall(t *testing.T) {
	h := newHarness(t, "test_engine_hangup", Options{HangupGrace: 20 * time.Millisecond, TransferGrace: 20 * time.Millisecond})
	h.prep = func(e *capturedEngines) {
		e.llm.PendingTool = &provider.ToolCall{Name: "hangup", Reason: "caller said goodbye"}
	}
	h.initiate("call-1")
	eng := h.captured("call-1")

	// A transcript triggers the model, which requests the hangup.
	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.TranscriptionChunkCreated{Text: "goodbye"},
	})

	waitFor(t, "session teardown", func() bool { return h.orch.ActiveSessions() == 0 })

	if eng.telephony.Hangups() == 0 {
		t.Fatalf("hangups = 0, want transport hung up")
	}
	if h.orch.HasEngines("call-1") {
		t.Fatalf("HasEngines = true after teardown, want registries cleared")
	}

	c, err := h.store.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if c.Status != call.StatusCompleted {
		t.Fatalf("Status = %s, want %s", c.Status, call.StatusCompleted)
	}
	if c.RecordingURL == "" {
		t.Fatalf("RecordingURL empty, want finalized recording")
	}
	if c.TelephonyDuration < 1 {
		t.Fatalf("TelephonyDuration = %d, want at least the 1s floor", c.TelephonyDuration)
	}
}

func TestTransferFlowRecordsSummary(t *testing.T) {
	h := newHarness(t, "test_engine_transfer", Options{HangupGrace: 20 * time.Millisecond, TransferGrace: 20 * time.Millisecond})
	h.prep = func(e *capturedEngines) {
		e.llm.PendingTool = &provider.ToolCall{Name: "transfer", Reason: "needs a human", TransferNumber: "+15550100"}
	}
	h.initiate("call-1")
	eng := h.captured("call-1")

	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.TranscriptionChunkCreated{Text: "agent please"},
	})

	waitFor(t, "session teardown", func() bool { return h.orch.ActiveSessions() == 0 })

	transfers := eng.telephony.Transfers()
	if len(transfers) != 1 || transfers[0] != "+15550100" {
		t.Fatalf("transfers = %v, want one to +15550100", transfers)
	}
	c, _ := h.store.GetCall(context.Background(), "call-1")
	if c.Summary != "needs a human" {
		t.Fatalf("Summary = %q, want transfer reason", c.Summary)
	}
	if c.Status != call.StatusCompleted {
		t.Fatalf("Status = %s, want %s", c.Status, call.StatusCompleted)
	}
}

func TestTerminalCallRedispatchIsNoOp(t *testing.T) {
	h := newHarness(t, "test_engine_redispatch", Options{})
	ctx := context.Background()
	if err := h.store.CreateCall(ctx, call.Call{ID: "call-1", Status: call.StatusCompleted}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	if err := h.orch.startCall(ctx, testJob("call-1")); err != nil {
		t.Fatalf("startCall on terminal call = %v, want nil no-op", err)
	}
	if h.orch.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", h.orch.ActiveSessions())
	}
	if h.orch.HasEngines("call-1") {
		t.Fatalf("HasEngines = true, want no engines built")
	}
}

func TestCallErrorMarksFailed(t *testing.T) {
	h := newHarness(t, "test_engine_error", Options{})
	h.initiate("call-1")

	h.events.Publish(bus.Event{
		Ctx:     bus.NewContext("call-1", "mock"),
		Payload: bus.CallError{Reason: "stt stream lost"},
	})

	waitFor(t, "session teardown", func() bool { return h.orch.ActiveSessions() == 0 })

	c, _ := h.store.GetCall(context.Background(), "call-1")
	if c.Status != call.StatusFailed || c.ErrorReason != "stt stream lost" {
		t.Fatalf("call = %+v, want FAILED with reason", c)
	}
}

func TestShutdownDrainsSessions(t *testing.T) {
	h := newHarness(t, "test_engine_shutdown", Options{})
	h.initiate("call-1")
	h.initiate("call-2")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if h.orch.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions = %d, want 0 after shutdown", h.orch.ActiveSessions())
	}
}
