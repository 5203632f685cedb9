// Package telephony provides the websocket transport engine: the default
// carrier leg for softphone clients and carrier media gateways that speak
// the JSON media protocol.
package telephony

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/calliope-voice/calliope/internal/bus"
	"github.com/calliope-voice/calliope/internal/provider"
)

// ProviderName is the key the websocket transport registers under.
const ProviderName = "websocket"

var ErrUnknownCall = errors.New("no websocket engine for call")

// Hub tracks one websocket engine per active call and binds incoming media
// connections to them. The engine exists from engine-build time; the
// connection attaches when the client dials the media endpoint.
type Hub struct {
	mu      sync.Mutex
	engines map[string]*WSEngine

	events *bus.Bus
	log    zerolog.Logger
}

func NewHub(events *bus.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		engines: make(map[string]*WSEngine),
		events:  events,
		log:     log,
	}
}

// Factory returns the constructor the provider registry calls for each call
// using the websocket transport.
func (h *Hub) Factory() provider.TelephonyFactory {
	return func(_ context.Context, cfg provider.Config) (provider.TelephonyEngine, error) {
		e := &WSEngine{
			callID: cfg.CallID,
			hub:    h,
			log:    h.log.With().Str("call_id", cfg.CallID).Logger(),
		}
		h.mu.Lock()
		h.engines[cfg.CallID] = e
		h.mu.Unlock()
		return e, nil
	}
}

// Attach binds an upgraded connection to the call's engine and starts the
// read loop. The caller owns the HTTP upgrade; the hub owns the connection
// from here on.
func (h *Hub) Attach(callID string, conn *websocket.Conn) error {
	h.mu.Lock()
	e, ok := h.engines[callID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	if err := e.attach(conn); err != nil {
		return err
	}
	go e.readLoop()
	return nil
}

// Attached reports whether the call has a live media connection.
func (h *Hub) Attached(callID string) bool {
	h.mu.Lock()
	e, ok := h.engines[callID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

func (h *Hub) remove(callID string) {
	h.mu.Lock()
	delete(h.engines, callID)
	h.mu.Unlock()
}

// WSEngine is the telephony engine for one call on the websocket transport.
type WSEngine struct {
	callID  string
	hub     *Hub
	log     zerolog.Logger
	inbound provider.InboundAudioFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var errAlreadyAttached = errors.New("media connection already attached")

func (e *WSEngine) attach(conn *websocket.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return errAlreadyAttached
	}
	e.conn = conn
	e.log.Info().Msg("media connection attached")
	if err := conn.WriteJSON(MediaMessage{Event: EventCallStarted, Timestamp: time.Now().UnixMilli()}); err != nil {
		e.log.Debug().Err(err).Msg("call.started frame not delivered")
	}
	return nil
}

// Send transmits synthesized audio as a base64 audio.out frame. Audio sent
// before the media connection attaches is dropped.
func (e *WSEngine) Send(_ context.Context, audio []byte) error {
	return e.write(MediaMessage{
		Event:     EventAudioOut,
		Data:      base64.StdEncoding.EncodeToString(audio),
		Timestamp: time.Now().UnixMilli(),
	})
}

// Cancel asks the client to flush queued playback.
func (e *WSEngine) Cancel(_ context.Context) error {
	return e.write(MediaMessage{Event: EventCancel})
}

// Hangup notifies the client, closes the connection, and removes the engine
// from the hub. Safe to call more than once.
func (e *WSEngine) Hangup(_ context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		if err := conn.WriteJSON(MediaMessage{Event: EventCallEnded}); err != nil {
			e.log.Debug().Err(err).Msg("call.ended frame not delivered")
		}
		conn.Close()
	}
	e.hub.remove(e.callID)
	return nil
}

// Transfer is not supported on the websocket leg. The call is hung up so
// the session can still finish cleanly.
func (e *WSEngine) Transfer(ctx context.Context, number string) error {
	e.log.Warn().Str("number", number).Msg("transfer unsupported on websocket transport, hanging up")
	return e.Hangup(ctx)
}

func (e *WSEngine) OnInboundAudio(fn provider.InboundAudioFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound = fn
}

func (e *WSEngine) write(msg MediaMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if e.conn == nil {
		e.log.Debug().Str("event", msg.Event).Msg("no media connection yet, frame dropped")
		return nil
	}
	return e.conn.WriteJSON(msg)
}

// readLoop pumps inbound frames until the connection drops, then reports
// the call as ended.
func (e *WSEngine) readLoop() {
	for {
		e.mu.Lock()
		conn := e.conn
		closed := e.closed
		e.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var msg MediaMessage
		if err := conn.ReadJSON(&msg); err != nil {
			e.mu.Lock()
			alreadyClosed := e.closed
			e.mu.Unlock()
			if !alreadyClosed {
				e.log.Info().Err(err).Msg("media connection closed")
				e.hub.events.Publish(bus.Event{
					Ctx:     bus.NewContext(e.callID, ProviderName),
					Payload: bus.CallEnded{Reason: "websocket connection closed"},
				})
			}
			return
		}

		switch msg.Event {
		case EventAudio:
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				e.log.Warn().Err(err).Msg("invalid base64 audio frame")
				continue
			}
			e.mu.Lock()
			fn := e.inbound
			e.mu.Unlock()
			if fn != nil {
				fn(data)
			}
		case EventText:
			e.hub.events.Publish(bus.Event{
				Ctx:     bus.NewContext(e.callID, ProviderName),
				Payload: bus.TranscriptionChunkCreated{Text: msg.Text},
			})
		case EventDTMF:
			e.hub.events.Publish(bus.Event{
				Ctx:     bus.NewContext(e.callID, ProviderName),
				Payload: bus.DTMFReceived{Tone: msg.Text},
			})
		default:
			e.log.Debug().Str("event", msg.Event).Msg("unknown media frame ignored")
		}
	}
}
