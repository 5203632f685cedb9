// Package httpapi exposes the call management REST surface and the media
// websocket endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/calliope-voice/calliope/internal/audio"
	"github.com/calliope-voice/calliope/internal/call"
	"github.com/calliope-voice/calliope/internal/config"
	"github.com/calliope-voice/calliope/internal/dtmf"
	"github.com/calliope-voice/calliope/internal/jobs"
	"github.com/calliope-voice/calliope/internal/observability"
	"github.com/calliope-voice/calliope/internal/telephony"
)

type Server struct {
	cfg      config.Config
	store    call.Store
	enqueuer *jobs.Enqueuer
	hub      *telephony.Hub
	dtmf     *dtmf.Service
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store call.Store, enqueuer *jobs.Enqueuer, hub *telephony.Hub, dtmfSvc *dtmf.Service, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		enqueuer: enqueuer,
		hub:      hub,
		dtmf:     dtmfSvc,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. Media gateways
				// and other non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls", s.handleCreateCall)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/calls/{id}/transcripts", s.handleGetTranscripts)
	r.Get("/v1/calls/{id}/recording", s.handleGetRecording)
	r.Post("/v1/calls/{id}/dial", s.handleDial)
	r.Get("/v1/calls/{id}/media", s.handleMediaWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type createCallRequest struct {
	CallID     string                 `json:"callId"`
	Prompt     string                 `json:"prompt"`
	Language   string                 `json:"language"`
	FromNumber string                 `json:"fromNumber"`
	ToNumber   string                 `json:"toNumber"`
	Providers  call.ProviderSelection `json:"providers"`
}

type createCallResponse struct {
	CallID   string `json:"callId"`
	Status   string `json:"status"`
	MediaURL string `json:"mediaUrl"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	if strings.TrimSpace(req.CallID) == "" {
		req.CallID = uuid.NewString()
	}
	if req.Providers.Telephony == "" {
		req.Providers.Telephony = telephony.ProviderName
	}
	if req.Providers.STTProvider == "" {
		req.Providers.STTProvider = s.cfg.DefaultSTTProvider
	}
	if req.Providers.LLMProvider == "" {
		req.Providers.LLMProvider = s.cfg.DefaultLLMProvider
	}
	if req.Providers.TTSProvider == "" {
		req.Providers.TTSProvider = s.cfg.DefaultTTSProvider
	}

	job := call.JobSpec{
		CallID:     req.CallID,
		Prompt:     req.Prompt,
		Language:   req.Language,
		FromNumber: req.FromNumber,
		ToNumber:   req.ToNumber,
		Providers:  req.Providers,
	}
	if err := job.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// The row exists before the job is dispatched so the call is queryable
	// while it waits in the queue. CreateCall is idempotent; the engine's own
	// create is a no-op.
	if err := s.store.CreateCall(r.Context(), call.Call{
		ID:         job.CallID,
		Status:     call.StatusInitiated,
		Prompt:     job.Prompt,
		Language:   job.Language,
		FromNumber: job.FromNumber,
		ToNumber:   job.ToNumber,
		Providers:  job.Providers,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if err := s.enqueuer.Enqueue(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, createCallResponse{
		CallID:   job.CallID,
		Status:   string(call.StatusInitiated),
		MediaURL: "/v1/calls/" + job.CallID + "/media",
	})
}

type callResponse struct {
	CallID            string                 `json:"callId"`
	Status            string                 `json:"status"`
	Prompt            string                 `json:"prompt,omitempty"`
	Language          string                 `json:"language,omitempty"`
	FromNumber        string                 `json:"fromNumber,omitempty"`
	ToNumber          string                 `json:"toNumber,omitempty"`
	Providers         call.ProviderSelection `json:"providers"`
	Summary           string                 `json:"summary,omitempty"`
	ErrorReason       string                 `json:"errorReason,omitempty"`
	RecordingURL      string                 `json:"recordingUrl,omitempty"`
	RecordingDuration int                    `json:"recordingDurationSec,omitempty"`
	RecordingFormat   string                 `json:"recordingFormat,omitempty"`
	TelephonyDuration int                    `json:"telephonyDurationSec,omitempty"`
	STTUsageSeconds   int                    `json:"sttUsageSeconds,omitempty"`
	TTSUsageChars     int                    `json:"ttsUsageChars,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, callResponse{
		CallID:            c.ID,
		Status:            string(c.Status),
		Prompt:            c.Prompt,
		Language:          c.Language,
		FromNumber:        c.FromNumber,
		ToNumber:          c.ToNumber,
		Providers:         c.Providers,
		Summary:           c.Summary,
		ErrorReason:       c.ErrorReason,
		RecordingURL:      c.RecordingURL,
		RecordingDuration: c.RecordingDuration,
		RecordingFormat:   c.RecordingFormat,
		TelephonyDuration: c.TelephonyDuration,
		STTUsageSeconds:   c.STTUsageSeconds,
		TTSUsageChars:     c.TTSUsageChars,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	})
}

type transcriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleGetTranscripts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	list, err := s.store.Transcripts(r.Context(), c.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]transcriptEntry, 0, len(list))
	for _, t := range list {
		out = append(out, transcriptEntry{Role: string(t.Role), Text: t.Text, CreatedAt: t.CreatedAt})
	}
	respondJSON(w, http.StatusOK, map[string]any{"callId": c.ID, "transcripts": out})
}

// handleGetRecording serves the WAV rendition of the call recording from
// local storage.
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	if c.RecordingURL == "" {
		respondError(w, http.StatusNotFound, "recording_not_found", "call has no recording")
		return
	}
	path := filepath.Join(s.cfg.RecordingDir, c.ID+".wav")
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "recording_not_found", "recording file unavailable")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

type dialRequest struct {
	Digits string `json:"digits"`
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCall(w, r)
	if !ok {
		return
	}
	if c.Status != call.StatusInProgress {
		respondError(w, http.StatusConflict, "call_not_active", "call is not in progress")
		return
	}
	var req dialRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.dtmf.GenerateSequence(c.ID, c.Providers.Telephony, req.Digits); err != nil {
		if errors.Is(err, audio.ErrEmptySequence) {
			respondError(w, http.StatusUnprocessableEntity, "invalid_digits", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "dtmf_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"callId": c.ID, "digits": req.Digits})
}

// handleMediaWS upgrades the connection and binds it to the call's websocket
// telephony engine.
func (s *Server) handleMediaWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return
	}
	if _, err := s.store.GetCall(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := s.hub.Attach(id, conn); err != nil {
		_ = conn.WriteJSON(telephony.MediaMessage{Event: telephony.EventCallEnded})
		conn.Close()
		return
	}
}

func (s *Server) lookupCall(w http.ResponseWriter, r *http.Request) (call.Call, bool) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return call.Call{}, false
	}
	c, err := s.store.GetCall(r.Context(), id)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return call.Call{}, false
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return call.Call{}, false
	}
	return c, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
