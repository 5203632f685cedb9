package recording

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
)

func newTestService(t *testing.T, opts Options) (*Service, *call.MemoryStore, *bus.Bus, *time.Time) {
	t.Helper()
	opts.LocalDir = t.TempDir()
	store := call.NewMemoryStore()
	events := bus.New(zerolog.Nop())
	svc, err := NewService(opts, store, nil, events, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	return svc, store, events, &current
}

func TestFinishTrimsTrailingKeepAliveChunks(t *testing.T) {
	ctx := context.Background()
	svc, store, events, clock := newTestService(t, Options{MinMeaningfulBytes: 50, BufferChunks: 1})
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	var saved bus.RecordingSaved
	events.Subscribe(bus.TopicRecordingSaved, func(evt bus.Event) {
		saved, _ = evt.Payload.(bus.RecordingSaved)
	})

	start := *clock
	svc.Start("call-1")
	svc.AddChunk("call-1", bytes.Repeat([]byte{0x7F}, 100), SourceUser)
	*clock = start.Add(100 * time.Millisecond)
	svc.AddChunk("call-1", bytes.Repeat([]byte{0x7F}, 10), SourceAssistant)
	*clock = start.Add(200 * time.Millisecond)
	svc.AddChunk("call-1", bytes.Repeat([]byte{0x7F}, 5), SourceUser)

	url, err := svc.Finish(ctx, "call-1")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	// Last meaningful chunk is index 0 (100 bytes); one buffer chunk keeps
	// index 1 and drops index 2.
	data, err := os.ReadFile(url)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(data) != 110 {
		t.Fatalf("recording = %d bytes, want 110 after trim", len(data))
	}

	c, err := store.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	// Kept span ends at 100ms, rounded up to one whole second.
	if c.RecordingDuration != 1 {
		t.Fatalf("RecordingDuration = %d, want 1", c.RecordingDuration)
	}
	if c.RecordingURL != url || c.RecordingFormat != "ulaw" {
		t.Fatalf("recording metadata = %q/%q, want %q/ulaw", c.RecordingURL, c.RecordingFormat, url)
	}
	if saved.URL != url || saved.DurationSec != 1 {
		t.Fatalf("RecordingSaved = %+v, want url %q and 1s", saved, url)
	}
}

func TestFinishKeepsEverythingWhenAllChunksSmall(t *testing.T) {
	ctx := context.Background()
	svc, store, _, clock := newTestService(t, Options{MinMeaningfulBytes: 50, BufferChunks: 3})
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	start := *clock
	svc.Start("call-1")
	for i := 0; i < 4; i++ {
		*clock = start.Add(time.Duration(i) * 100 * time.Millisecond)
		svc.AddChunk("call-1", bytes.Repeat([]byte{0x01}, 10), SourceUser)
	}

	url, err := svc.Finish(ctx, "call-1")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	data, err := os.ReadFile(url)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	// No chunk meets the threshold: the scan-back default keeps the final
	// chunk, so nothing is dropped.
	if len(data) != 40 {
		t.Fatalf("recording = %d bytes, want all 40", len(data))
	}
}

func TestAddChunkWithoutOpenRecordingIsDropped(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	svc.AddChunk("ghost", []byte{1, 2, 3}, SourceUser)
	if svc.Open("ghost") {
		t.Fatalf("Open(ghost) = true, want no buffer created by stray chunk")
	}
}

func TestFinishWithoutRecording(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	if _, err := svc.Finish(context.Background(), "ghost"); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("Finish() error = %v, want ErrNoRecording", err)
	}
}

func TestFinishDeletesBuffer(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t, Options{})
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	svc.Start("call-1")
	svc.AddChunk("call-1", bytes.Repeat([]byte{0x7F}, 100), SourceUser)
	if _, err := svc.Finish(ctx, "call-1"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if svc.Open("call-1") {
		t.Fatalf("Open = true after Finish, want buffer deleted")
	}
	// Chunks after finish land nowhere.
	svc.AddChunk("call-1", []byte{1}, SourceUser)
	if svc.Open("call-1") {
		t.Fatalf("Open = true after stray post-finish chunk")
	}
}

func TestAddChunkBase64RejectsBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	svc.Start("call-1")
	svc.AddChunkBase64("call-1", "!!not base64!!", SourceUser)
	svc.AddChunkBase64("call-1", "AAEC", SourceUser) // valid: 0x00 0x01 0x02

	svc.mu.Lock()
	chunks := len(svc.recordings["call-1"].chunks)
	svc.mu.Unlock()
	if chunks != 1 {
		t.Fatalf("chunks = %d, want only the valid frame", chunks)
	}
}
