// Package recording assembles one chronologically ordered audio artifact per
// call from interleaved user and assistant chunks, trims spurious trailing
// chunks, and persists the result.
package recording

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/audio"
	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/call"
)

// Source tags which side of the conversation produced a chunk.
type Source string

const (
	SourceUser      Source = "user"
	SourceAssistant Source = "assistant"
)

var ErrNoRecording = errors.New("no open recording for call")

// Storage is the optional durable store for finished artifacts. Save returns
// a stable access URL.
type Storage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type chunk struct {
	data   []byte
	ts     time.Time
	source Source
}

type buffer struct {
	chunks  []chunk
	started time.Time
}

// Options tunes the trailing-chunk trim and output location.
type Options struct {
	// LocalDir receives every finished artifact regardless of durable-store
	// availability.
	LocalDir string
	// MinMeaningfulBytes is the size below which a trailing chunk counts as
	// keep-alive noise.
	MinMeaningfulBytes int
	// BufferChunks is how many chunks after the last meaningful one are kept
	// as a safety margin.
	BufferChunks int
}

func (o *Options) applyDefaults() {
	if o.LocalDir == "" {
		o.LocalDir = "recordings"
	}
	if o.MinMeaningfulBytes <= 0 {
		o.MinMeaningfulBytes = 50
	}
	if o.BufferChunks <= 0 {
		o.BufferChunks = 3
	}
}

// Service owns the in-memory chunk buffers, one per active call.
type Service struct {
	mu         sync.Mutex
	recordings map[string]*buffer

	opts    Options
	store   call.Store
	storage Storage
	events  *bus.Bus
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(opts Options, store call.Store, storage Storage, events *bus.Bus, log zerolog.Logger) (*Service, error) {
	opts.applyDefaults()
	if err := os.MkdirAll(opts.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Service{
		recordings: make(map[string]*buffer),
		opts:       opts,
		store:      store,
		storage:    storage,
		events:     events,
		now:        time.Now,
		log:        log,
	}, nil
}

// Start opens an empty chunk buffer for the call. Starting twice resets the
// buffer.
func (s *Service) Start(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[callID] = &buffer{started: s.now()}
	s.log.Info().Str("call_id", callID).Msg("recording started")
}

// AddChunk appends raw audio bytes for the call. A chunk arriving with no
// open buffer is dropped with a warning.
func (s *Service) AddChunk(callID string, data []byte, source Source) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[callID]
	if !ok {
		s.log.Warn().Str("call_id", callID).Msg("no recording open for call, chunk dropped")
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	rec.chunks = append(rec.chunks, chunk{data: buf, ts: s.now(), source: source})
}

// AddChunkBase64 decodes a base64 chunk before appending it.
func (s *Service) AddChunkBase64(callID, encoded string, source Source) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.log.Error().Err(err).Str("call_id", callID).Msg("invalid base64 audio chunk")
		return
	}
	s.AddChunk(callID, data, source)
}

// Finish trims, concatenates, and persists the call's recording. The durable
// upload is best-effort: on failure the recording degrades to local-only and
// the local path is used as the URL. The in-memory buffer is always deleted.
func (s *Service) Finish(ctx context.Context, callID string) (string, error) {
	s.mu.Lock()
	rec, ok := s.recordings[callID]
	delete(s.recordings, callID)
	s.mu.Unlock()
	if !ok {
		s.log.Warn().Str("call_id", callID).Msg("finish called with no open recording")
		return "", ErrNoRecording
	}

	combined, durationSec := s.trim(rec)

	name := fmt.Sprintf("call-%s-%d.ulaw", callID, s.now().UnixMilli())
	localPath := filepath.Join(s.opts.LocalDir, name)
	if err := os.WriteFile(localPath, combined, 0o644); err != nil {
		return "", fmt.Errorf("write local recording: %w", err)
	}

	// WAV rendition for playback tooling; the raw mu-law stays the artifact
	// of record.
	wavPath := filepath.Join(s.opts.LocalDir, callID+".wav")
	if err := audio.WriteWAVPCM16LEFile(wavPath, audio.MulawDecodeToPCM16LE(combined), audio.DefaultFormat.SampleRate); err != nil {
		s.log.Error().Err(err).Str("call_id", callID).Msg("wav rendition failed")
	}

	url := localPath
	if s.storage != nil {
		key := filepath.Join("recordings", name)
		saved, err := s.storage.Save(ctx, key, combined, "audio/basic")
		if err != nil {
			s.log.Warn().Err(err).Str("call_id", callID).Msg("durable upload failed, recording is local-only")
		} else {
			url = saved
		}
	}

	if err := s.store.UpdateRecording(ctx, callID, url, durationSec, "ulaw"); err != nil {
		s.log.Error().Err(err).Str("call_id", callID).Msg("persist recording metadata failed")
	}

	s.events.Publish(bus.Event{
		Ctx: bus.NewContext(callID, ""),
		Payload: bus.RecordingSaved{
			URL:         url,
			LocalPath:   localPath,
			DurationSec: durationSec,
		},
	})

	s.log.Info().Str("call_id", callID).Int("duration_sec", durationSec).Str("url", url).Msg("recording saved")
	return url, nil
}

// trim sorts chunks chronologically, drops the trailing run of sub-threshold
// keep-alive chunks (keeping a fixed safety margin), and reports the
// concatenated audio plus its duration in whole seconds.
func (s *Service) trim(rec *buffer) ([]byte, int) {
	chunks := make([]chunk, len(rec.chunks))
	copy(chunks, rec.chunks)
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ts.Before(chunks[j].ts) })

	if len(chunks) == 0 {
		return nil, 0
	}

	lastMeaningful := len(chunks) - 1
	for i := len(chunks) - 1; i >= 0; i-- {
		if len(chunks[i].data) >= s.opts.MinMeaningfulBytes {
			lastMeaningful = i
			break
		}
	}
	lastIncluded := lastMeaningful + s.opts.BufferChunks
	if lastIncluded > len(chunks)-1 {
		lastIncluded = len(chunks) - 1
	}

	kept := chunks[:lastIncluded+1]
	size := 0
	for _, c := range kept {
		size += len(c.data)
	}
	combined := make([]byte, 0, size)
	for _, c := range kept {
		combined = append(combined, c.data...)
	}

	durationMs := kept[len(kept)-1].ts.Sub(rec.started).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}
	return combined, int(math.Ceil(float64(durationMs) / 1000))
}

// Open reports whether a buffer is currently open for the call.
func (s *Service) Open(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recordings[callID]
	return ok
}
