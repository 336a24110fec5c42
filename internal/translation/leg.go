package translation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/pkg/logger"
)

// Leg is one directional translation session. Two instances exist per call,
// differing only by role and configuration; the orchestrator owns both and is
// the sole router between them.
type Leg struct {
	role     Role
	config   LegConfig
	model    string
	provider ai.RealtimeProvider
	costs    *cost.Tracker
	logger   *logger.Logger

	events chan LegEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        ai.Connection
	session     *ai.RealtimeSession
	lastFailure time.Time

	// reconnectWindow bounds how close together two connection failures may
	// be before the second one is fatal
	reconnectWindow time.Duration
}

// NewLeg creates a leg. Start must be called before any audio is sent.
func NewLeg(role Role, config LegConfig, model string, provider ai.RealtimeProvider, costs *cost.Tracker, reconnectWindow time.Duration, log *logger.Logger) *Leg {
	return &Leg{
		role:            role,
		config:          config,
		model:           model,
		provider:        provider,
		costs:           costs,
		reconnectWindow: reconnectWindow,
		logger:          log.Named("leg").With(logger.String("role", string(role))),
		events:          make(chan LegEvent, 64),
	}
}

// Role returns the leg's role
func (l *Leg) Role() Role {
	return l.role
}

// Config returns the leg's configuration
func (l *Leg) Config() LegConfig {
	return l.config
}

// Events returns the leg's event stream. The channel is closed when the read
// loop exits for good.
func (l *Leg) Events() <-chan LegEvent {
	return l.events
}

// Start establishes the translation session and begins the read loop. The
// initial session create and dial are bounded by setupCtx; the leg itself
// lives until ctx is cancelled or Close is called, so setupCtx expiring
// after a successful connect has no effect on the running leg.
func (l *Leg) Start(ctx, setupCtx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	if err := l.connect(setupCtx); err != nil {
		return fmt.Errorf("leg %s: %w", l.role, err)
	}

	go l.readLoop()
	return nil
}

// connect creates a fresh session with the leg's original configuration and
// dials its streaming connection
func (l *Leg) connect(ctx context.Context) error {
	session, err := l.provider.CreateRealtimeSession(ctx, l.config.sessionConfig(l.model), l.config.Instructions)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	conn, err := l.provider.ConnectSession(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to connect session: %w", err)
	}

	l.mu.Lock()
	l.session = session
	l.conn = conn
	l.mu.Unlock()

	l.logger.Info("Leg connected",
		logger.String("session_id", session.ID),
		logger.String("provider_session_id", session.ProviderID),
		logger.String("voice", l.config.Voice),
		logger.String("turn_detection", l.config.TurnDetection.Type))

	return nil
}

// SendAudio appends one encoded audio chunk to the leg's input stream
func (l *Leg) SendAudio(data []byte) error {
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(data),
	}
	return l.send(msg)
}

// CommitTurn ends the current manual speech turn and requests a translation
// response. Only meaningful when turn detection is "none".
func (l *Leg) CommitTurn() error {
	if err := l.send(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return l.send(map[string]any{"type": "response.create"})
}

// Speak requests synthesis driven by explicit instructions rather than by
// inbound audio. Used for guardrail-corrected rewrites and lifecycle notices.
func (l *Leg) Speak(instructions string) error {
	return l.send(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"modalities":   []string{"text", "audio"},
			"instructions": instructions,
		},
	})
}

// CancelResponse asks the engine to abandon the in-progress response
func (l *Leg) CancelResponse() error {
	return l.send(map[string]any{"type": "response.cancel"})
}

func (l *Leg) send(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("leg %s is not connected", l.role)
	}
	return conn.Send(data)
}

// Close tears the leg down. Safe to call more than once.
func (l *Leg) Close() error {
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop reads engine events until the context is cancelled or the
// connection fails irrecoverably. A dropped connection gets exactly one
// reconnect with the original configuration; a second failure inside the
// reconnect window is fatal to the call.
func (l *Leg) readLoop() {
	defer close(l.events)

	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.Read()
		if err != nil {
			select {
			case <-l.ctx.Done():
				// Expected during shutdown
				return
			default:
			}

			if !l.tryReconnect(err) {
				l.emit(LegEvent{Type: LegEventFatal, Role: l.role, Err: err})
				return
			}
			l.emit(LegEvent{Type: LegEventReconnected, Role: l.role})
			continue
		}

		l.handleMessage(data)
	}
}

// tryReconnect attempts the single permitted reconnection. Returns false when
// the failure is fatal.
func (l *Leg) tryReconnect(cause error) bool {
	now := time.Now()

	l.mu.Lock()
	last := l.lastFailure
	l.lastFailure = now
	l.mu.Unlock()

	if !last.IsZero() && now.Sub(last) < l.reconnectWindow {
		l.logger.Error("Second leg failure inside reconnect window, giving up",
			logger.Duration("since_last", now.Sub(last)),
			logger.Error(cause))
		return false
	}

	l.logger.Warn("Leg connection dropped, attempting reconnect", logger.Error(cause))

	if err := l.connect(l.ctx); err != nil {
		l.logger.Error("Leg reconnect failed", logger.Error(err))
		return false
	}

	l.logger.Info("Leg reconnected")
	return true
}

// handleMessage normalizes one raw engine event into a LegEvent
func (l *Leg) handleMessage(data []byte) {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		l.logger.Error("Error parsing engine event", logger.Error(err))
		return
	}

	eventType, ok := event["type"].(string)
	if !ok {
		l.logger.Error("Engine event missing type field")
		return
	}

	switch eventType {
	case "conversation.item.input_audio_transcription.completed":
		transcript, _ := event["transcript"].(string)
		if transcript != "" {
			l.emit(LegEvent{Type: LegEventInputTranscript, Role: l.role, Text: transcript})
		}

	case "response.audio_transcript.done":
		transcript, _ := event["transcript"].(string)
		responseID, _ := event["response_id"].(string)
		l.emit(LegEvent{
			Type:       LegEventResponseText,
			Role:       l.role,
			ResponseID: responseID,
			Text:       transcript,
		})

	case "response.audio.delta":
		encoded, _ := event["delta"].(string)
		responseID, _ := event["response_id"].(string)
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			l.logger.Error("Error decoding audio delta", logger.Error(err))
			return
		}
		l.emit(LegEvent{
			Type:       LegEventAudioDelta,
			Role:       l.role,
			ResponseID: responseID,
			Audio:      audio,
		})

	case "response.done":
		responseID := l.recordUsage(event)
		l.emit(LegEvent{Type: LegEventResponseDone, Role: l.role, ResponseID: responseID})

	case "error":
		errorObj, _ := event["error"].(map[string]any)
		message, _ := errorObj["message"].(string)
		l.logger.Error("Engine reported error", logger.String("message", message))

	default:
		// Session bookkeeping events are not interesting to the relay
	}
}

// recordUsage extracts per-response token usage and adds it to the call's
// cost tracker. Returns the response ID.
func (l *Leg) recordUsage(event map[string]any) string {
	response, _ := event["response"].(map[string]any)
	if response == nil {
		return ""
	}
	responseID, _ := response["id"].(string)

	usage, _ := response["usage"].(map[string]any)
	if usage == nil {
		return responseID
	}

	inputTokens, _ := usage["input_tokens"].(float64)
	outputTokens, _ := usage["output_tokens"].(float64)

	switch l.role {
	case RoleA:
		l.costs.AddLegAInput(int64(inputTokens))
		l.costs.AddLegAOutput(int64(outputTokens))
	case RoleB:
		l.costs.AddLegBInput(int64(inputTokens))
		l.costs.AddLegBOutput(int64(outputTokens))
	}

	l.logger.Debug("Recorded response usage",
		logger.String("response_id", responseID),
		logger.Int64("input_tokens", int64(inputTokens)),
		logger.Int64("output_tokens", int64(outputTokens)))

	return responseID
}

// emit delivers an event to the orchestrator. Blocks on a saturated consumer
// but never past shutdown.
func (l *Leg) emit(event LegEvent) {
	select {
	case l.events <- event:
	case <-l.ctx.Done():
	}
}
