package usage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/call"
)

func newTestService(t *testing.T) (*Service, *call.MemoryStore, *time.Time) {
	t.Helper()
	store := call.NewMemoryStore()
	svc := NewService(store, zerolog.Nop())
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	return svc, store, &current
}

func TestFlushUsesAudioSpan(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	start := *clock
	svc.Start("call-1")
	*clock = start.Add(1 * time.Second)
	svc.TouchAudioActivity("call-1")
	*clock = start.Add(5 * time.Second)
	svc.TouchAudioActivity("call-1")

	svc.Flush(ctx, "call-1")

	c, err := store.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	// 4s of audio span plus the trailing second.
	if c.TelephonyDuration != 5 {
		t.Fatalf("TelephonyDuration = %d, want 5", c.TelephonyDuration)
	}
	if svc.Tracking("call-1") {
		t.Fatalf("Tracking = true after flush, want record dropped")
	}
}

func TestFlushFallsBackToWallClockMinusSetup(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	start := *clock
	svc.Start("call-1")
	*clock = start.Add(10 * time.Second)
	svc.TouchActivity("call-1")

	svc.Flush(ctx, "call-1")

	c, _ := store.GetCall(ctx, "call-1")
	// 10s wall clock minus 2s setup overhead.
	if c.TelephonyDuration != 8 {
		t.Fatalf("TelephonyDuration = %d, want 8", c.TelephonyDuration)
	}
}

func TestFlushFloorsAtOneSecond(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	start := *clock
	svc.Start("call-1")
	*clock = start.Add(500 * time.Millisecond)
	svc.TouchActivity("call-1")

	svc.Flush(ctx, "call-1")

	c, _ := store.GetCall(ctx, "call-1")
	if c.TelephonyDuration != 1 {
		t.Fatalf("TelephonyDuration = %d, want floor of 1", c.TelephonyDuration)
	}
}

func TestSTTUsageFromByteCount(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	svc.Start("call-1")
	// 8000 mu-law bytes per second of audio.
	svc.AddSTTUsage("call-1", 8000)
	svc.AddSTTUsage("call-1", 8000)
	svc.AddSTTUsage("call-1", 4400) // 0.55s, rounds the total to 3

	svc.Flush(ctx, "call-1")

	c, _ := store.GetCall(ctx, "call-1")
	if c.STTUsageSeconds != 3 {
		t.Fatalf("STTUsageSeconds = %d, want 3", c.STTUsageSeconds)
	}
}

func TestTTSUsageCountsCharacters(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	if err := store.CreateCall(ctx, call.Call{ID: "call-1"}); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	svc.Start("call-1")
	svc.AddTTSUsage("call-1", "Hello ")
	svc.AddTTSUsage("call-1", "world")

	svc.Flush(ctx, "call-1")

	c, _ := store.GetCall(ctx, "call-1")
	if c.TTSUsageChars != 11 {
		t.Fatalf("TTSUsageChars = %d, want 11", c.TTSUsageChars)
	}
}

func TestAccrualForUnknownCallIsIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.AddSTTUsage("ghost", 8000)
	svc.AddTTSUsage("ghost", "text")
	svc.TouchAudioActivity("ghost")
	svc.Flush(context.Background(), "ghost")
	if svc.Tracking("ghost") {
		t.Fatalf("Tracking(ghost) = true, want no record")
	}
}
