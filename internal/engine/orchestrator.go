// Package engine hosts the per-call orchestrator: it builds the four vendor
// engines when a call starts, routes bus events between pipeline stages, and
// tears the session down when the call ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

var ErrCallExists = errors.New("call session already active")

// Options tunes session teardown behavior and the farewell lines spoken
// before the transport is released.
type Options struct {
	// HangupGrace is how long synthesized goodbye audio gets to drain before
	// the transport is hung up.
	HangupGrace time.Duration
	// TransferGrace is the drain window before the transfer is executed.
	TransferGrace time.Duration
	// GoodbyeText is synthesized when the model requests a hangup.
	GoodbyeText string
	// TransferAnnouncement is synthesized before a transfer.
	TransferAnnouncement string
	// MailboxSize bounds each call's event queue. Events beyond it are
	// dropped so a stuck session cannot block publishers.
	MailboxSize int
}

func (o *Options) applyDefaults() {
	if o.HangupGrace <= 0 {
		o.HangupGrace = 3 * time.Second
	}
	if o.TransferGrace <= 0 {
		o.TransferGrace = 6 * time.Second
	}
	if o.GoodbyeText == "" {
		o.GoodbyeText = "Thank you for calling. Goodbye."
	}
	if o.TransferAnnouncement == "" {
		o.TransferAnnouncement = "Please hold while I transfer you."
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
}

// callSession is the per-call state the orchestrator tracks between events.
// Only the session's mailbox worker touches the mutable fields, so they need
// no lock of their own.
type callSession struct {
	providerName string
	mailbox      chan bus.Event

	// pending is the armed hangup or transfer grace timer.
	pending *time.Timer
	// assistantTurn accumulates response chunks until the turn marker.
	assistantTurn string
	// cancelled is set after the first barge-in of an assistant turn.
	cancelled bool
}

// Orchestrator wires engines to the bus for each call and drives the audio
// pipeline. Events for one call are processed in arrival order; separate
// calls never block each other.
type Orchestrator struct {
	events    *bus.Bus
	store     call.Store
	providers *provider.Registry
	recorder  *recording.Service
	usage     *usage.Service
	dtmf      *dtmf.Service
	metrics   *observability.Metrics
	opts      Options
	log       zerolog.Logger

	mu        sync.RWMutex
	telephony map[string]provider.TelephonyEngine
	stt       map[string]provider.STTEngine
	llm       map[string]provider.LLMEngine
	tts       map[string]provider.TTSEngine
	sessions  map[string]*callSession

	wg sync.WaitGroup
}

func NewOrchestrator(
	events *bus.Bus,
	store call.Store,
	providers *provider.Registry,
	recorder *recording.Service,
	usageSvc *usage.Service,
	dtmfSvc *dtmf.Service,
	metrics *observability.Metrics,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		events:    events,
		store:     store,
		providers: providers,
		recorder:  recorder,
		usage:     usageSvc,
		dtmf:      dtmfSvc,
		metrics:   metrics,
		opts:      opts,
		log:       log,
		telephony: make(map[string]provider.TelephonyEngine),
		stt:       make(map[string]provider.STTEngine),
		llm:       make(map[string]provider.LLMEngine),
		tts:       make(map[string]provider.TTSEngine),
		sessions:  make(map[string]*callSession),
	}
}

// Wire subscribes the orchestrator to every pipeline topic. Call once at
// startup.
func (o *Orchestrator) Wire() {
	o.events.Subscribe(bus.TopicCallInitiated, func(evt bus.Event) {
		job, ok := evt.Payload.(bus.CallInitiated)
		if !ok {
			return
		}
		if err := o.startCall(context.Background(), job.Job); err != nil {
			o.log.Error().Err(err).Str("call_id", job.Job.CallID).Msg("call start failed")
		}
	})

	for _, topic := range []bus.Topic{
		bus.TopicAudioChunkReceived,
		bus.TopicTranscriptionChunkCreated,
		bus.TopicResponseChunkGenerated,
		bus.TopicAudioChunkSynthesized,
		bus.TopicHangupRequested,
		bus.TopicTransferRequested,
		bus.TopicDTMFReceived,
		bus.TopicDTMFToneGenerated,
		bus.TopicCallEnded,
		bus.TopicCallError,
	} {
		o.events.Subscribe(topic, o.route)
	}
}

// route hands an event to its call's mailbox. Calls without a live session
// and sessions with a full mailbox both drop the event; a slow call must not
// stall the publisher.
func (o *Orchestrator) route(evt bus.Event) {
	o.metrics.BusEvents.WithLabelValues(string(evt.Payload.Topic())).Inc()

	o.mu.RLock()
	sess, ok := o.sessions[evt.Ctx.CallID]
	o.mu.RUnlock()
	if !ok {
		o.log.Debug().
			Str("call_id", evt.Ctx.CallID).
			Str("topic", string(evt.Payload.Topic())).
			Msg("no session for event, dropped")
		return
	}

	select {
	case sess.mailbox <- evt:
	default:
		o.metrics.DroppedEvents.WithLabelValues("mailbox_full").Inc()
		o.log.Warn().
			Str("call_id", evt.Ctx.CallID).
			Str("topic", string(evt.Payload.Topic())).
			Msg("session mailbox full, event dropped")
	}
}

// startCall builds and registers the four engines for a job, in pipeline
// order, then opens the session. A failure at any stage unwinds the engines
// already built and publishes call.error.
func (o *Orchestrator) startCall(ctx context.Context, job call.JobSpec) error {
	if err := job.Validate(); err != nil {
		return err
	}
	id := job.CallID
	log := o.log.With().Str("call_id", id).Logger()

	// Queue re-dispatch of an already finished call is a no-op.
	if existing, err := o.store.GetCall(ctx, id); err == nil && existing.Status.Terminal() {
		log.Info().Str("status", string(existing.Status)).Msg("call already terminal, dispatch ignored")
		return nil
	}

	sess := &callSession{
		providerName: job.Providers.Telephony,
		mailbox:      make(chan bus.Event, o.opts.MailboxSize),
	}
	o.mu.Lock()
	if _, ok := o.sessions[id]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCallExists, id)
	}
	o.sessions[id] = sess
	o.mu.Unlock()

	if err := o.store.CreateCall(ctx, call.Call{
		ID:         id,
		Status:     call.StatusInitiated,
		Prompt:     job.Prompt,
		Language:   job.Language,
		FromNumber: job.FromNumber,
		ToNumber:   job.ToNumber,
		Providers:  job.Providers,
	}); err != nil {
		o.removeSession(id)
		return fmt.Errorf("create call record: %w", err)
	}

	started := time.Now()
	if err := o.buildEngines(ctx, job); err != nil {
		// Release the transport leg too: a telephony engine built before the
		// failing stage would otherwise stay attached to a failed call.
		o.teardownEngines(ctx, id, true)
		o.removeSession(id)
		o.metrics.PipelineErrors.WithLabelValues("engine_init").Inc()
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, job.Providers.Telephony),
			Payload: bus.CallError{Reason: err.Error()},
		})
		if ferr := o.store.MarkFailed(ctx, id, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("mark failed")
		}
		return err
	}
	o.metrics.ObserveEngineInitLatency(time.Since(started))

	o.recorder.Start(id)
	o.usage.Start(id)
	if err := o.store.UpdateStatus(ctx, id, call.StatusInProgress); err != nil {
		log.Error().Err(err).Msg("status update to in_progress failed")
	}
	o.metrics.ActiveCalls.Inc()
	o.metrics.CallEvents.WithLabelValues("started").Inc()
	log.Info().
		Str("telephony", job.Providers.Telephony).
		Str("stt", job.Providers.STTProvider).
		Str("llm", job.Providers.LLMProvider).
		Str("tts", job.Providers.TTSProvider).
		Msg("call session started")

	o.wg.Add(1)
	go o.run(id, sess)
	return nil
}

// buildEngines constructs telephony, STT, LLM, and TTS for the job and wires
// their callbacks back onto the bus.
func (o *Orchestrator) buildEngines(ctx context.Context, job call.JobSpec) error {
	id := job.CallID
	p := job.Providers

	telFactory, err := o.providers.Telephony(p.Telephony)
	if err != nil {
		return err
	}
	tel, err := telFactory(ctx, provider.Config{
		CallID:     id,
		Provider:   p.Telephony,
		FromNumber: job.FromNumber,
		ToNumber:   job.ToNumber,
	})
	if err != nil {
		return fmt.Errorf("telephony init: %w", err)
	}
	tel.OnInboundAudio(func(chunk []byte) {
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, p.Telephony),
			Payload: bus.AudioChunkReceived{Chunk: chunk, Direction: "inbound"},
		})
	})
	o.mu.Lock()
	o.telephony[id] = tel
	o.mu.Unlock()

	sttFactory, err := o.providers.STT(p.STTProvider)
	if err != nil {
		return err
	}
	stt, err := sttFactory(ctx, provider.Config{
		CallID:   id,
		Provider: p.STTProvider,
		Model:    p.STTModel,
		Language: job.Language,
	})
	if err != nil {
		return fmt.Errorf("stt init: %w", err)
	}
	stt.OnTranscript(func(text string) {
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, p.STTProvider),
			Payload: bus.TranscriptionChunkCreated{Text: text},
		})
	})
	if err := stt.Initialize(ctx); err != nil {
		return fmt.Errorf("stt init: %w", err)
	}
	o.mu.Lock()
	o.stt[id] = stt
	o.mu.Unlock()

	llmFactory, err := o.providers.LLM(p.LLMProvider)
	if err != nil {
		return err
	}
	llm, err := llmFactory(ctx, provider.Config{
		CallID:   id,
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		Language: job.Language,
		Prompt:   job.Prompt,
		History:  []provider.Message{{Role: provider.RoleAssistant, Content: job.Prompt}},
	})
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}
	llm.OnResponse(func(chunk string) {
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, p.LLMProvider),
			Payload: bus.ResponseChunkGenerated{Text: chunk},
		})
	})
	llm.OnTool(func(tc provider.ToolCall) {
		o.handleTool(id, p.LLMProvider, tc)
	})
	if err := llm.Initialize(ctx); err != nil {
		return fmt.Errorf("llm init: %w", err)
	}
	o.mu.Lock()
	o.llm[id] = llm
	o.mu.Unlock()

	ttsFactory, err := o.providers.TTS(p.TTSProvider)
	if err != nil {
		return err
	}
	tts, err := ttsFactory(ctx, provider.Config{
		CallID:   id,
		Provider: p.TTSProvider,
		Model:    p.TTSModel,
		Language: job.Language,
	})
	if err != nil {
		return fmt.Errorf("tts init: %w", err)
	}
	tts.OnAudio(func(chunk []byte) {
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, p.TTSProvider),
			Payload: bus.AudioChunkSynthesized{Chunk: chunk},
		})
	})
	if err := tts.Initialize(ctx); err != nil {
		return fmt.Errorf("tts init: %w", err)
	}
	o.mu.Lock()
	o.tts[id] = tts
	o.mu.Unlock()
	return nil
}

// handleTool translates a model tool call into its bus event.
func (o *Orchestrator) handleTool(id, providerName string, tc provider.ToolCall) {
	switch tc.Name {
	case "hangup":
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, providerName),
			Payload: bus.HangupRequested{Reason: tc.Reason},
		})
	case "transfer":
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, providerName),
			Payload: bus.TransferRequested{Reason: tc.Reason, TransferNumber: tc.TransferNumber},
		})
	case "dtmf":
		if err := o.dtmf.GenerateSequence(id, providerName, tc.Digits); err != nil {
			o.log.Warn().Err(err).Str("call_id", id).Str("digits", tc.Digits).Msg("dtmf generation failed")
		}
	default:
		o.log.Warn().Str("call_id", id).Str("tool", tc.Name).Msg("unknown tool call ignored")
	}
}

// run is the session's mailbox worker. It exits when a terminal event has
// been handled; the mailbox channel itself is never closed.
func (o *Orchestrator) run(id string, sess *callSession) {
	defer o.wg.Done()
	for evt := range sess.mailbox {
		if !o.handle(id, sess, evt) {
			return
		}
	}
}

// handle processes one event for a call. It returns false once the session
// has been torn down.
func (o *Orchestrator) handle(id string, sess *callSession, evt bus.Event) bool {
	ctx := context.Background()
	log := o.log.With().Str("call_id", id).Logger()

	switch p := evt.Payload.(type) {
	case bus.AudioChunkReceived:
		o.usage.AddSTTUsage(id, len(p.Chunk))
		o.recorder.AddChunk(id, p.Chunk, recording.SourceUser)
		o.metrics.RecordingBytes.Add(float64(len(p.Chunk)))
		stt := o.sttEngine(id)
		if stt == nil {
			log.Warn().Msg("no stt engine for call, audio dropped")
			return true
		}
		if err := stt.Pipe(ctx, p.Chunk); err != nil {
			o.metrics.PipelineErrors.WithLabelValues("stt").Inc()
			log.Error().Err(err).Msg("stt pipe failed")
		}

	case bus.TranscriptionChunkCreated:
		// The caller spoke over the assistant: abort in-flight playback once
		// per assistant turn.
		if !sess.cancelled {
			if tel := o.telephonyEngine(id); tel != nil {
				if err := tel.Cancel(ctx); err != nil {
					log.Warn().Err(err).Msg("playback cancel failed")
				}
			}
			sess.cancelled = true
		}
		o.usage.TouchActivity(id)
		if err := o.store.AddTranscript(ctx, call.Transcript{
			CallID: id, Role: call.RoleUser, Text: p.Text,
		}); err != nil {
			log.Error().Err(err).Msg("persist user transcript failed")
		}
		llm := o.llmEngine(id)
		if llm == nil {
			log.Warn().Msg("no llm engine for call, transcript dropped")
			return true
		}
		if err := llm.Pipe(ctx, p.Text); err != nil {
			o.metrics.PipelineErrors.WithLabelValues("llm").Inc()
			log.Error().Err(err).Msg("llm pipe failed")
		}

	case bus.ResponseChunkGenerated:
		if p.Text == "" {
			// Turn marker: persist the full assistant utterance and reset the
			// barge-in latch.
			if sess.assistantTurn != "" {
				if err := o.store.AddTranscript(ctx, call.Transcript{
					CallID: id, Role: call.RoleAssistant, Text: sess.assistantTurn,
				}); err != nil {
					log.Error().Err(err).Msg("persist assistant transcript failed")
				}
				sess.assistantTurn = ""
			}
			sess.cancelled = false
			return true
		}
		sess.assistantTurn += p.Text
		o.usage.AddTTSUsage(id, p.Text)
		tts := o.ttsEngine(id)
		if tts == nil {
			log.Warn().Msg("no tts engine for call, response dropped")
			return true
		}
		if err := tts.Pipe(ctx, p.Text); err != nil {
			o.metrics.PipelineErrors.WithLabelValues("tts").Inc()
			log.Error().Err(err).Msg("tts pipe failed")
		}

	case bus.AudioChunkSynthesized:
		o.playAudio(ctx, id, p.Chunk, log)

	case bus.DTMFToneGenerated:
		o.playAudio(ctx, id, p.Buffer, log)

	case bus.DTMFReceived:
		o.usage.TouchActivity(id)
		if err := o.store.AddTranscript(ctx, call.Transcript{
			CallID: id, Role: call.RoleTool, Text: "dtmf:" + p.Tone,
		}); err != nil {
			log.Error().Err(err).Msg("persist dtmf transcript failed")
		}

	case bus.HangupRequested:
		log.Info().Str("reason", p.Reason).Msg("hangup requested")
		o.speak(id, evt.Ctx.Provider, o.opts.GoodbyeText)
		o.armTimer(sess, o.opts.HangupGrace, func() {
			if tel := o.telephonyEngine(id); tel != nil {
				if err := tel.Hangup(context.Background()); err != nil {
					log.Warn().Err(err).Msg("hangup failed")
				}
			}
			o.events.Publish(bus.Event{
				Ctx:     bus.NewContext(id, evt.Ctx.Provider),
				Payload: bus.CallEnded{Reason: p.Reason},
			})
		})

	case bus.TransferRequested:
		log.Info().Str("reason", p.Reason).Str("number", p.TransferNumber).Msg("transfer requested")
		o.speak(id, evt.Ctx.Provider, o.opts.TransferAnnouncement)
		o.armTimer(sess, o.opts.TransferGrace, func() {
			if tel := o.telephonyEngine(id); tel != nil {
				if err := tel.Transfer(context.Background(), p.TransferNumber); err != nil {
					log.Warn().Err(err).Msg("transfer failed")
				}
			}
			if p.Reason != "" {
				if err := o.store.SetSummary(context.Background(), id, p.Reason); err != nil {
					log.Error().Err(err).Msg("persist transfer summary failed")
				}
			}
			o.events.Publish(bus.Event{
				Ctx:     bus.NewContext(id, evt.Ctx.Provider),
				Payload: bus.CallEnded{Reason: "transferred to " + p.TransferNumber},
			})
		})

	case bus.CallEnded:
		log.Info().Str("reason", p.Reason).Msg("call ended")
		o.metrics.CallEvents.WithLabelValues("ended").Inc()
		o.finalize(ctx, id, sess)
		if err := o.store.UpdateStatus(ctx, id, call.StatusCompleted); err != nil &&
			!errors.Is(err, call.ErrInvalidTransition) {
			log.Error().Err(err).Msg("status update to completed failed")
		}
		o.teardownEngines(ctx, id, true)
		o.removeSession(id)
		o.metrics.ActiveCalls.Dec()
		return false

	case bus.CallError:
		log.Error().Str("reason", p.Reason).Msg("call errored")
		o.metrics.CallEvents.WithLabelValues("errored").Inc()
		o.finalize(ctx, id, sess)
		if err := o.store.MarkFailed(ctx, id, p.Reason); err != nil &&
			!errors.Is(err, call.ErrInvalidTransition) {
			log.Error().Err(err).Msg("mark failed")
		}
		o.teardownEngines(ctx, id, true)
		o.removeSession(id)
		o.metrics.ActiveCalls.Dec()
		return false
	}
	return true
}

// playAudio sends synthesized audio to the transport and records it as the
// assistant side of the conversation.
func (o *Orchestrator) playAudio(ctx context.Context, id string, chunk []byte, log zerolog.Logger) {
	o.recorder.AddChunk(id, chunk, recording.SourceAssistant)
	o.metrics.RecordingBytes.Add(float64(len(chunk)))
	o.usage.TouchAudioActivity(id)
	tel := o.telephonyEngine(id)
	if tel == nil {
		log.Warn().Msg("no telephony engine for call, audio dropped")
		return
	}
	if err := tel.Send(ctx, chunk); err != nil {
		o.metrics.PipelineErrors.WithLabelValues("telephony").Inc()
		log.Error().Err(err).Msg("telephony send failed")
	}
}

// speak routes a line of text through the normal response pipeline so it is
// synthesized, played, and transcripted like any model output.
func (o *Orchestrator) speak(id, providerName, text string) {
	if text == "" {
		return
	}
	o.events.Publish(bus.Event{
		Ctx:     bus.NewContext(id, providerName),
		Payload: bus.ResponseChunkGenerated{Text: text},
	})
	o.events.Publish(bus.Event{
		Ctx:     bus.NewContext(id, providerName),
		Payload: bus.ResponseChunkGenerated{},
	})
}

// armTimer schedules fn after the grace period, replacing any timer already
// armed for the session.
func (o *Orchestrator) armTimer(sess *callSession, grace time.Duration, fn func()) {
	if sess.pending != nil {
		sess.pending.Stop()
	}
	sess.pending = time.AfterFunc(grace, fn)
}

// finalize stops any pending grace timer and closes out recording and usage.
func (o *Orchestrator) finalize(ctx context.Context, id string, sess *callSession) {
	if sess.pending != nil {
		sess.pending.Stop()
		sess.pending = nil
	}
	if sess.assistantTurn != "" {
		if err := o.store.AddTranscript(ctx, call.Transcript{
			CallID: id, Role: call.RoleAssistant, Text: sess.assistantTurn,
		}); err != nil {
			o.log.Error().Err(err).Str("call_id", id).Msg("persist assistant transcript failed")
		}
		sess.assistantTurn = ""
	}
	if _, err := o.recorder.Finish(ctx, id); err != nil && !errors.Is(err, recording.ErrNoRecording) {
		o.log.Error().Err(err).Str("call_id", id).Msg("recording finish failed")
	}
	o.usage.Flush(ctx, id)
}

// teardownEngines closes and deregisters whatever engines exist for the
// call. With hangup set the transport is hung up as a final safety net.
func (o *Orchestrator) teardownEngines(ctx context.Context, id string, hangup bool) {
	o.mu.Lock()
	tel := o.telephony[id]
	stt := o.stt[id]
	tts := o.tts[id]
	delete(o.telephony, id)
	delete(o.stt, id)
	delete(o.llm, id)
	delete(o.tts, id)
	o.mu.Unlock()

	if stt != nil {
		if err := stt.Close(); err != nil {
			o.log.Warn().Err(err).Str("call_id", id).Msg("stt close failed")
		}
	}
	if tts != nil {
		if err := tts.Close(); err != nil {
			o.log.Warn().Err(err).Str("call_id", id).Msg("tts close failed")
		}
	}
	if tel != nil && hangup {
		if err := tel.Hangup(ctx); err != nil {
			o.log.Debug().Err(err).Str("call_id", id).Msg("teardown hangup failed")
		}
	}
}

func (o *Orchestrator) removeSession(id string) {
	o.mu.Lock()
	delete(o.sessions, id)
	o.mu.Unlock()
}

// Shutdown ends every live session and waits for their workers to drain,
// bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		o.events.Publish(bus.Event{
			Ctx:     bus.NewContext(id, ""),
			Payload: bus.CallEnded{Reason: "server shutdown"},
		})
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasEngines reports whether all four engines are registered for the call.
func (o *Orchestrator) HasEngines(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, t := o.telephony[id]
	_, s := o.stt[id]
	_, l := o.llm[id]
	_, x := o.tts[id]
	return t && s && l && x
}

// ActiveSessions reports the number of live call sessions.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

func (o *Orchestrator) telephonyEngine(id string) provider.TelephonyEngine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.telephony[id]
}

func (o *Orchestrator) sttEngine(id string) provider.STTEngine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stt[id]
}

func (o *Orchestrator) llmEngine(id string) provider.LLMEngine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.llm[id]
}

func (o *Orchestrator) ttsEngine(id string) provider.TTSEngine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tts[id]
}
