package provider

import (
	"context"
	"sync"
)

// MockName is the provider key the mock engines register under.
const MockName = "mock"

// RegisterMocks wires the mock engines into a registry. They back tests and
// deployments without vendor credentials.
func RegisterMocks(r *Registry) {
	r.RegisterTelephony(MockName, func(_ context.Context, cfg Config) (TelephonyEngine, error) {
		return NewMockTelephony(cfg.CallID), nil
	})
	r.RegisterSTT(MockName, func(_ context.Context, _ Config) (STTEngine, error) {
		return NewMockSTT(), nil
	})
	r.RegisterLLM(MockName, func(_ context.Context, cfg Config) (LLMEngine, error) {
		return NewMockLLM(cfg.History), nil
	})
	r.RegisterTTS(MockName, func(_ context.Context, _ Config) (TTSEngine, error) {
		return NewMockTTS(), nil
	})
}

// MockTelephony records the calls made against it.
type MockTelephony struct {
	mu        sync.Mutex
	id        string
	inbound   InboundAudioFunc
	sent      [][]byte
	cancels   int
	hangups   int
	transfers []string
}

func NewMockTelephony(id string) *MockTelephony {
	return &MockTelephony{id: id}
}

func (m *MockTelephony) Send(_ context.Context, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(audio))
	copy(buf, audio)
	m.sent = append(m.sent, buf)
	return nil
}

func (m *MockTelephony) Cancel(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return nil
}

func (m *MockTelephony) Hangup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hangups++
	return nil
}

func (m *MockTelephony) Transfer(_ context.Context, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, number)
	return nil
}

func (m *MockTelephony) OnInboundAudio(fn InboundAudioFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = fn
}

// EmitInbound simulates audio arriving from the remote party.
func (m *MockTelephony) EmitInbound(chunk []byte) {
	m.mu.Lock()
	fn := m.inbound
	m.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (m *MockTelephony) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

func (m *MockTelephony) Hangups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hangups
}

func (m *MockTelephony) Transfers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.transfers))
	copy(out, m.transfers)
	return out
}

func (m *MockTelephony) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// MockSTT echoes a canned transcript for every piped chunk.
type MockSTT struct {
	mu         sync.Mutex
	transcript func(text string)
	piped      int
	closed     bool
	// Transcript emitted per chunk; empty disables emission.
	Canned string
}

func NewMockSTT() *MockSTT {
	return &MockSTT{Canned: "simulated caller speech"}
}

func (m *MockSTT) Initialize(_ context.Context) error { return nil }

func (m *MockSTT) Pipe(_ context.Context, _ []byte) error {
	m.mu.Lock()
	m.piped++
	fn := m.transcript
	canned := m.Canned
	closed := m.closed
	m.mu.Unlock()
	if closed || fn == nil || canned == "" {
		return nil
	}
	fn(canned)
	return nil
}

func (m *MockSTT) OnTranscript(fn func(text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = fn
}

func (m *MockSTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSTT) Piped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.piped
}

// MockLLM appends piped text to its history and streams back a fixed
// response, chunked word by word, ending with the empty turn marker.
type MockLLM struct {
	mu       sync.Mutex
	history  []Message
	response func(chunk string)
	tool     func(tc ToolCall)
	// Chunks streamed per turn; a trailing "" is appended automatically.
	Reply []string
	// Tool invoked after the reply, if set.
	PendingTool *ToolCall
}

func NewMockLLM(history []Message) *MockLLM {
	return &MockLLM{
		history: NormalizeHistory(history),
		Reply:   []string{"How ", "can ", "I ", "help?"},
	}
}

func (m *MockLLM) Initialize(_ context.Context) error { return nil }

func (m *MockLLM) Pipe(_ context.Context, text string) error {
	m.mu.Lock()
	m.history = NormalizeHistory(append(m.history, Message{Role: RoleUser, Content: text}))
	respond := m.response
	tool := m.tool
	reply := m.Reply
	pending := m.PendingTool
	m.PendingTool = nil
	m.mu.Unlock()

	var full string
	if respond != nil {
		for _, chunk := range reply {
			respond(chunk)
			full += chunk
		}
		respond("")
	}

	m.mu.Lock()
	m.history = NormalizeHistory(append(m.history, Message{Role: RoleAssistant, Content: full}))
	m.mu.Unlock()

	if pending != nil && tool != nil {
		tool(*pending)
	}
	return nil
}

func (m *MockLLM) OnResponse(fn func(chunk string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = fn
}

func (m *MockLLM) OnTool(fn func(tc ToolCall)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tool = fn
}

func (m *MockLLM) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.history))
	copy(out, m.history)
	return out
}

// MockTTS synthesizes each piped chunk as its raw bytes.
type MockTTS struct {
	mu     sync.Mutex
	audio  func(chunk []byte)
	closed bool
	piped  []string
}

func NewMockTTS() *MockTTS { return &MockTTS{} }

func (m *MockTTS) Initialize(_ context.Context) error { return nil }

func (m *MockTTS) Pipe(_ context.Context, text string) error {
	m.mu.Lock()
	fn := m.audio
	closed := m.closed
	if text != "" {
		m.piped = append(m.piped, text)
	}
	m.mu.Unlock()
	if closed || fn == nil || text == "" {
		return nil
	}
	fn([]byte(text))
	return nil
}

func (m *MockTTS) OnAudio(fn func(chunk []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = fn
}

func (m *MockTTS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTTS) Piped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.piped))
	copy(out, m.piped)
	return out
}
