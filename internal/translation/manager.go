package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/internal/guardrail"
	"github.com/voicebridge/relay/internal/prompts"
	"github.com/voicebridge/relay/pkg/logger"
)

// CallStore persists call records at start and completion
type CallStore interface {
	RecordStart(call Call) error
	RecordEnd(call Call, usage cost.Snapshot) error
}

// StartCallRequest describes a call the local user wants placed
type StartCallRequest struct {
	PhoneNumber string   `json:"phone_number"`
	SourceLang  string   `json:"source_lang"`
	TargetLang  string   `json:"target_lang"`
	Mode        CallMode `json:"mode"`
	Context     string   `json:"context,omitempty"` // optional situational hint for the interpreter prompt
}

// Manager creates and tracks call orchestrators. It enforces the concurrency
// cap and is the lookup point for the API, client and telephony layers.
type Manager struct {
	provider ai.RealtimeProvider
	filter   *guardrail.Filter
	store    CallStore
	cfg      *config.Config
	logger   *logger.Logger

	mu    sync.Mutex
	calls map[string]*Orchestrator
	seq   int
}

// NewManager creates a call manager
func NewManager(provider ai.RealtimeProvider, filter *guardrail.Filter, store CallStore, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		provider: provider,
		filter:   filter,
		store:    store,
		cfg:      cfg,
		calls:    make(map[string]*Orchestrator),
		logger:   log.Named("manager"),
	}
}

// StartCall validates the request, builds both translation legs and registers
// a new orchestrator in the Dialing state. The telephony layer is expected to
// place the outbound call and report OnAnswered / OnSetupAbandoned.
func (m *Manager) StartCall(req StartCallRequest) (*Orchestrator, error) {
	if req.PhoneNumber == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if !prompts.Supported(req.SourceLang) {
		return nil, fmt.Errorf("unsupported source language: %q", req.SourceLang)
	}
	if !prompts.Supported(req.TargetLang) {
		return nil, fmt.Errorf("unsupported target language: %q", req.TargetLang)
	}
	if req.SourceLang == req.TargetLang {
		return nil, fmt.Errorf("source and target language must differ")
	}
	switch req.Mode {
	case ModeVoiceToVoice, ModeAgentPushToTalk:
	case "":
		req.Mode = ModeVoiceToVoice
	default:
		return nil, fmt.Errorf("unsupported call mode: %q", req.Mode)
	}

	instructionsA, err := prompts.Build(prompts.Params{
		SourceLanguage: req.SourceLang,
		TargetLanguage: req.TargetLang,
		Context:        req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build leg A instructions: %w", err)
	}
	instructionsB, err := prompts.Build(prompts.Params{
		SourceLanguage: req.TargetLang,
		TargetLanguage: req.SourceLang,
		Context:        req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build leg B instructions: %w", err)
	}

	m.mu.Lock()
	active := 0
	for _, o := range m.calls {
		if !o.Snapshot().State.Terminal() {
			active++
		}
	}
	if active >= m.cfg.Calls.MaxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("maximum concurrent calls reached (%d)", m.cfg.Calls.MaxConcurrent)
	}
	m.seq++
	callID := fmt.Sprintf("call_%d_%d", time.Now().Unix(), m.seq)
	m.mu.Unlock()

	call := Call{
		ID:          callID,
		PhoneNumber: req.PhoneNumber,
		SourceLang:  req.SourceLang,
		TargetLang:  req.TargetLang,
		Mode:        req.Mode,
		State:       StateDialing,
		StartedAt:   time.Now(),
	}

	costs := cost.NewTracker()
	reconnectWindow := time.Duration(m.cfg.Translation.ReconnectWindowMs) * time.Millisecond
	model := m.cfg.OpenAI.RealtimeModel
	tuning := LegTuning{
		Temperature:       m.cfg.Translation.Temperature,
		MaxResponseTokens: m.cfg.Translation.MaxResponseTokens,
		VADThreshold:      m.cfg.Translation.VADThreshold,
		PrefixPaddingMs:   m.cfg.Translation.PrefixPaddingMs,
		SilenceDurationMs: m.cfg.Translation.SilenceDurationMs,
	}

	legA := NewLeg(RoleA,
		BuildLegConfig(RoleA, call.Mode, call.SourceLang, call.TargetLang, instructionsA, tuning),
		model, m.provider, costs, reconnectWindow, m.logger)
	legB := NewLeg(RoleB,
		BuildLegConfig(RoleB, call.Mode, call.SourceLang, call.TargetLang, instructionsB, tuning),
		model, m.provider, costs, reconnectWindow, m.logger)

	policy := Policy{
		SetupTimeout:     time.Duration(m.cfg.Translation.SetupTimeoutSecs) * time.Second,
		MaxDuration:      time.Duration(m.cfg.Calls.MaxDurationSecs) * time.Second,
		WarningThreshold: time.Duration(m.cfg.Calls.WarningThresholdSecs) * time.Second,
		IdleTimeout:      time.Duration(m.cfg.Calls.IdleTimeoutSecs) * time.Second,
		LookbackWindowMs: m.cfg.Translation.LookbackWindowMs,
		ChunkMs:          m.cfg.Translation.ChunkMs,
	}

	orch := NewOrchestrator(call, legA, legB, m.filter, costs, m.store, policy, m.logger)

	m.mu.Lock()
	m.calls[callID] = orch
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.RecordStart(call); err != nil {
			m.logger.Error("Error persisting call start", logger.Error(err))
		}
	}

	// Drop terminal calls from the registry once their record is persisted
	go func() {
		<-orch.Done()
		m.mu.Lock()
		delete(m.calls, callID)
		m.mu.Unlock()
	}()

	m.logger.Info("Call registered",
		logger.String("call_id", callID),
		logger.String("phone_number", call.PhoneNumber),
		logger.String("languages", call.SourceLang+"->"+call.TargetLang),
		logger.String("mode", string(call.Mode)))

	return orch, nil
}

// Get returns the orchestrator for an in-progress call
func (m *Manager) Get(callID string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orch, ok := m.calls[callID]
	return orch, ok
}

// List returns snapshots of all in-progress calls
func (m *Manager) List() []Call {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.calls))
	for _, o := range m.calls {
		orchs = append(orchs, o)
	}
	m.mu.Unlock()

	calls := make([]Call, 0, len(orchs))
	for _, o := range orchs {
		calls = append(calls, o.Snapshot())
	}
	return calls
}

// End hangs up a call at the local user's request
func (m *Manager) End(callID string) error {
	orch, ok := m.Get(callID)
	if !ok {
		return fmt.Errorf("call %s not found", callID)
	}
	orch.Hangup()
	return nil
}

// Shutdown hangs up every in-progress call and waits for teardown,
// bounded by ctx
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.calls))
	for _, o := range m.calls {
		orchs = append(orchs, o)
	}
	m.mu.Unlock()

	for _, o := range orchs {
		o.Hangup()
	}
	for _, o := range orchs {
		select {
		case <-o.Done():
		case <-ctx.Done():
			return
		}
	}
}
