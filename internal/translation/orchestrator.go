package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge/relay/internal/audio"
	"github.com/voicebridge/relay/internal/cost"
	"github.com/voicebridge/relay/internal/guardrail"
	"github.com/voicebridge/relay/pkg/logger"
)

// TelephonySink receives synthesized audio bound for the remote party
type TelephonySink interface {
	WriteAudio(data []byte) error
}

// ClientSink receives audio, transcripts and status updates bound for the
// local user's device
type ClientSink interface {
	WriteAudio(data []byte) error
	WriteTranscript(role Role, original, translated string) error
	WriteStatus(state CallState, reason EndReason) error
}

// Recorder persists the terminal outcome of a call
type Recorder interface {
	RecordEnd(call Call, usage cost.Snapshot) error
}

// Policy is the lifecycle policy one orchestrator enforces
type Policy struct {
	SetupTimeout     time.Duration
	MaxDuration      time.Duration
	WarningThreshold time.Duration
	IdleTimeout      time.Duration
	LookbackWindowMs int
	ChunkMs          int
}

// Orchestrator supervises one call: it owns both translation legs, routes
// audio between the telephony gateway and the client device, drives the
// lifecycle state machine, and withholds synthesized audio until the
// guardrail has ruled on its transcript.
type Orchestrator struct {
	legA   *Leg
	legB   *Leg
	filter *guardrail.Filter
	costs  *cost.Tracker
	policy Policy
	logger *logger.Logger

	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	call      Call
	telephony TelephonySink
	client    ClientSink
	capturing bool
	lookback  *audio.RingBuffer

	// skipFilter counts responses per leg whose text was authored by the
	// relay itself (corrected rewrites, lifecycle notices) and therefore
	// bypasses the guardrail. The engine serializes responses within a
	// session, so the next completed transcript on the leg after a Speak
	// is the relay-authored one; the credit is not tied to a response ID
	// because response.create does not return one synchronously.
	skipFilter map[Role]int

	warnTimer *time.Timer
	durTimer  *time.Timer
	idleA     *time.Timer
	idleB     *time.Timer

	endOnce    sync.Once
	finishOnce sync.Once

	pumps sync.WaitGroup
}

// NewOrchestrator creates the supervisor for a dialing call. OnAnswered must
// be called once the telephony gateway reports the remote party picked up.
func NewOrchestrator(call Call, legA, legB *Leg, filter *guardrail.Filter, costs *cost.Tracker, recorder Recorder, policy Policy, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		legA:       legA,
		legB:       legB,
		filter:     filter,
		costs:      costs,
		recorder:   recorder,
		policy:     policy,
		call:       call,
		lookback:   audio.NewRingBufferForWindow(policy.LookbackWindowMs, policy.ChunkMs),
		skipFilter: make(map[Role]int),
		done:       make(chan struct{}),
		logger:     log.Named("call").With(logger.String("call_id", call.ID)),
	}
}

// Snapshot returns a copy of the call record
func (o *Orchestrator) Snapshot() Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.call
}

// Costs returns the call's running token usage
func (o *Orchestrator) Costs() cost.Snapshot {
	return o.costs.Snapshot()
}

// Done is closed once the call reaches a terminal state and its record has
// been persisted
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// AttachTelephony binds the sink for remote-bound audio
func (o *Orchestrator) AttachTelephony(sink TelephonySink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.telephony = sink
}

// AttachClient binds the sink for the local user's device
func (o *Orchestrator) AttachClient(sink ClientSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.client = sink
}

// OnAnswered drives Dialing -> Connecting -> Active. Both legs are
// established concurrently under the setup timeout; any failure fails the
// call and releases whichever leg did come up.
func (o *Orchestrator) OnAnswered(ctx context.Context) error {
	answered := time.Now()
	o.mu.Lock()
	if o.call.State != StateDialing {
		state := o.call.State
		o.mu.Unlock()
		return fmt.Errorf("call %s answered in state %s", o.call.ID, state)
	}
	o.call.State = StateConnecting
	o.call.AnsweredAt = answered
	o.mu.Unlock()

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.logger.Info("Call answered, establishing translation legs")

	// The setup timeout bounds only session establishment; the legs
	// themselves live on the call context
	setupCtx, cancelSetup := context.WithTimeout(o.ctx, o.policy.SetupTimeout)
	defer cancelSetup()

	errs := make(chan error, 2)
	for _, leg := range []*Leg{o.legA, o.legB} {
		go func(l *Leg) {
			errs <- l.Start(o.ctx, setupCtx)
		}(leg)
	}

	var setupErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && setupErr == nil {
			setupErr = err
		}
	}

	if setupErr != nil {
		o.logger.Error("Leg setup failed", logger.Error(setupErr))
		o.legA.Close()
		o.legB.Close()
		o.cancel()
		o.finish(ReasonSetupFailure)
		return setupErr
	}

	o.mu.Lock()
	o.call.State = StateActive
	o.mu.Unlock()
	o.notifyState()

	o.startTimers()

	o.pumps.Add(2)
	go o.pump(o.legA)
	go o.pump(o.legB)

	o.logger.Info("Call active", logger.Duration("setup", time.Since(answered)))
	return nil
}

// startTimers arms the duration warning, the hard duration limit, and the
// per-leg idle watchdogs
func (o *Orchestrator) startTimers() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.warnTimer = time.AfterFunc(o.policy.WarningThreshold, o.onWarningThreshold)
	o.durTimer = time.AfterFunc(o.policy.MaxDuration, func() {
		o.logger.Info("Maximum call duration reached")
		o.beginEnding(ReasonDurationExceeded)
	})
	o.idleA = time.AfterFunc(o.policy.IdleTimeout, func() {
		o.logger.Info("Local side idle timeout")
		o.beginEnding(ReasonIdleTimeout)
	})
	o.idleB = time.AfterFunc(o.policy.IdleTimeout, func() {
		o.logger.Info("Remote side idle timeout")
		o.beginEnding(ReasonIdleTimeout)
	})
}

// onWarningThreshold fires once per call: the state moves to Warning and the
// local user hears a spoken time-remaining notice in their own language
func (o *Orchestrator) onWarningThreshold() {
	o.mu.Lock()
	if o.call.State != StateActive {
		o.mu.Unlock()
		return
	}
	o.call.State = StateWarning
	remaining := o.policy.MaxDuration - o.policy.WarningThreshold
	lang := o.call.SourceLang
	o.skipFilter[RoleB]++
	o.mu.Unlock()

	o.logger.Info("Duration warning threshold reached",
		logger.Duration("remaining", remaining))
	o.notifyState()

	notice := fmt.Sprintf(
		"Say exactly the following notice in language %q, briefly and politely: this call will end in %d seconds.",
		lang, int(remaining.Seconds()))
	if err := o.legB.Speak(notice); err != nil {
		o.logger.Error("Error speaking duration warning", logger.Error(err))
		o.mu.Lock()
		o.skipFilter[RoleB]--
		o.mu.Unlock()
	}
}

// OnClientFrame routes one audio chunk from the local user's device. In
// push-to-talk mode, chunks outside an active speech turn land in the
// lookback buffer instead of the leg.
func (o *Orchestrator) OnClientFrame(data []byte) {
	o.mu.Lock()
	if !o.call.State.routable() {
		o.mu.Unlock()
		return
	}
	manual := o.call.Mode == ModeAgentPushToTalk
	live := !manual || o.capturing
	if o.idleA != nil {
		o.idleA.Reset(o.policy.IdleTimeout)
	}
	if !live {
		o.lookback.Push(data)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := o.legA.SendAudio(data); err != nil {
		o.logger.Error("Error forwarding client audio", logger.Error(err))
	}
}

// OnTelephonyFrame routes one audio frame from the remote party
func (o *Orchestrator) OnTelephonyFrame(data []byte) {
	o.mu.Lock()
	if !o.call.State.routable() {
		o.mu.Unlock()
		return
	}
	if o.idleB != nil {
		o.idleB.Reset(o.policy.IdleTimeout)
	}
	o.mu.Unlock()

	if err := o.legB.SendAudio(data); err != nil {
		o.logger.Error("Error forwarding telephony audio", logger.Error(err))
	}
}

// OnSpeechStart opens a push-to-talk speech turn. The lookback buffer is
// flushed into the leg first so the opening syllables spoken just before the
// trigger are not lost.
func (o *Orchestrator) OnSpeechStart() {
	o.mu.Lock()
	if !o.call.State.routable() || o.call.Mode != ModeAgentPushToTalk || o.capturing {
		o.mu.Unlock()
		return
	}
	o.capturing = true
	buffered := o.lookback.Drain()
	o.mu.Unlock()

	for _, chunk := range buffered {
		if err := o.legA.SendAudio(chunk); err != nil {
			o.logger.Error("Error flushing lookback audio", logger.Error(err))
			return
		}
	}
}

// OnSpeechEnd closes a push-to-talk speech turn and requests the translation
func (o *Orchestrator) OnSpeechEnd() {
	o.mu.Lock()
	if !o.capturing {
		o.mu.Unlock()
		return
	}
	o.capturing = false
	o.mu.Unlock()

	if err := o.legA.CommitTurn(); err != nil {
		o.logger.Error("Error committing speech turn", logger.Error(err))
	}
}

// Hangup ends the call at the local user's request
func (o *Orchestrator) Hangup() {
	o.beginEnding(ReasonUserRequested)
}

// OnTelephonyDisconnect ends the call after the remote side dropped
func (o *Orchestrator) OnTelephonyDisconnect() {
	o.beginEnding(ReasonTelephonyDisconnect)
}

// OnSetupAbandoned fails a call that never reached Connecting (for example
// when the remote party did not answer)
func (o *Orchestrator) OnSetupAbandoned() {
	o.mu.Lock()
	dialing := o.call.State == StateDialing
	o.mu.Unlock()
	if dialing {
		o.finish(ReasonSetupFailure)
	}
}

// responseState tracks one in-flight synthesized response on a leg
type responseState struct {
	released bool
	dropped  bool
	chunks   [][]byte
}

// pump consumes one leg's event stream. Synthesized audio for a response is
// buffered until its transcript clears the guardrail; only then is it
// released toward the output side.
func (o *Orchestrator) pump(leg *Leg) {
	defer o.pumps.Done()

	responses := make(map[string]*responseState)

	for event := range leg.Events() {
		switch event.Type {
		case LegEventInputTranscript:
			o.deliverTranscript(event.Role, event.Text, "")

		case LegEventAudioDelta:
			state := responses[event.ResponseID]
			if state == nil {
				state = &responseState{}
				responses[event.ResponseID] = state
			}
			switch {
			case state.dropped:
			case state.released:
				o.forwardAudio(leg.Role(), event.Audio)
			default:
				state.chunks = append(state.chunks, event.Audio)
			}

		case LegEventResponseText:
			state := responses[event.ResponseID]
			if state == nil {
				state = &responseState{}
				responses[event.ResponseID] = state
			}
			o.judgeResponse(leg, event, state)

		case LegEventResponseDone:
			delete(responses, event.ResponseID)

		case LegEventReconnected:
			// Any response that was mid-flight died with the old
			// connection; its buffered audio must not leak
			responses = make(map[string]*responseState)
			o.logger.Warn("Leg reconnected, discarded in-flight responses",
				logger.String("role", string(leg.Role())))

		case LegEventFatal:
			o.logger.Error("Leg failed irrecoverably",
				logger.String("role", string(leg.Role())),
				logger.Error(event.Err))
			// Teardown waits on the pumps, so it must not run on this
			// goroutine
			go o.beginEnding(ReasonLegFailure)
			return
		}
	}
}

// judgeResponse applies the guardrail verdict to a completed transcript and
// releases, rewrites, or drops the response's audio accordingly
func (o *Orchestrator) judgeResponse(leg *Leg, event LegEvent, state *responseState) {
	role := leg.Role()

	o.mu.Lock()
	trusted := o.skipFilter[role] > 0
	if trusted {
		o.skipFilter[role]--
	}
	o.mu.Unlock()

	if trusted || !o.filter.Enabled() {
		o.release(role, event.Text, state)
		return
	}

	verdict := o.filter.Check(o.ctx, event.Text, leg.Config().TargetLanguage, o.costs)

	switch {
	case !verdict.Passed:
		state.dropped = true
		state.chunks = nil
		o.logger.Warn("Guardrail dropped response",
			logger.String("role", string(role)),
			logger.String("response_id", event.ResponseID),
			logger.Any("issues", verdict.Issues))

	case verdict.Corrected != "":
		// The audio already synthesized carries the uncorrected wording,
		// so it is discarded and the corrected text is re-spoken
		state.dropped = true
		state.chunks = nil
		o.logger.Info("Guardrail corrected response",
			logger.String("role", string(role)),
			logger.String("response_id", event.ResponseID))

		o.mu.Lock()
		o.skipFilter[role]++
		o.mu.Unlock()

		instructions := fmt.Sprintf("Say exactly the following, with no additions: %s", verdict.Corrected)
		if err := leg.Speak(instructions); err != nil {
			o.logger.Error("Error re-speaking corrected text", logger.Error(err))
			o.mu.Lock()
			o.skipFilter[role]--
			o.mu.Unlock()
		}
		o.deliverTranscript(role, "", verdict.Corrected)

	default:
		o.release(role, event.Text, state)
	}
}

// release forwards a cleared response's buffered audio and marks the
// response so later deltas stream straight through
func (o *Orchestrator) release(role Role, text string, state *responseState) {
	state.released = true
	for _, chunk := range state.chunks {
		o.forwardAudio(role, chunk)
	}
	state.chunks = nil
	if text != "" {
		o.deliverTranscript(role, "", text)
	}
}

// forwardAudio sends one cleared audio chunk to the leg's output side:
// leg A speaks toward the telephony gateway, leg B toward the client device
func (o *Orchestrator) forwardAudio(role Role, data []byte) {
	o.mu.Lock()
	telephony := o.telephony
	client := o.client
	o.mu.Unlock()

	var err error
	switch role {
	case RoleA:
		if telephony != nil {
			err = telephony.WriteAudio(data)
		}
	case RoleB:
		if client != nil {
			err = client.WriteAudio(data)
		}
	}
	if err != nil {
		o.logger.Error("Error forwarding synthesized audio",
			logger.String("role", string(role)), logger.Error(err))
	}
}

// deliverTranscript pushes transcript text to the client device
func (o *Orchestrator) deliverTranscript(role Role, original, translated string) {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.WriteTranscript(role, original, translated); err != nil {
		o.logger.Error("Error delivering transcript", logger.Error(err))
	}
}

// notifyState pushes the current state to the client device
func (o *Orchestrator) notifyState() {
	o.mu.Lock()
	client := o.client
	state := o.call.State
	reason := o.call.Reason
	o.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.WriteStatus(state, reason); err != nil {
		o.logger.Error("Error delivering status", logger.Error(err))
	}
}

// beginEnding starts the teardown sequence exactly once. In-flight guardrail
// checks are abandoned via context cancellation, both legs are closed, and
// the final record is persisted.
func (o *Orchestrator) beginEnding(reason EndReason) {
	o.endOnce.Do(func() {
		o.mu.Lock()
		if o.call.State.Terminal() {
			o.mu.Unlock()
			return
		}
		o.call.State = StateEnding
		o.call.Reason = reason
		o.stopTimersLocked()
		o.mu.Unlock()

		o.logger.Info("Call ending", logger.String("reason", string(reason)))
		o.notifyState()

		if o.cancel != nil {
			o.cancel()
		}
		o.legA.Close()
		o.legB.Close()
		o.pumps.Wait()

		o.finish(reason)
	})
}

// finish records the terminal outcome. Setup and leg failures terminate in
// Failed, everything else in Ended.
func (o *Orchestrator) finish(reason EndReason) {
	o.finishOnce.Do(func() { o.doFinish(reason) })
}

func (o *Orchestrator) doFinish(reason EndReason) {
	final := StateEnded
	if reason == ReasonSetupFailure || reason == ReasonLegFailure {
		final = StateFailed
	}

	o.mu.Lock()
	o.call.State = final
	o.call.Reason = reason
	o.call.EndedAt = time.Now()
	o.stopTimersLocked()
	call := o.call
	o.mu.Unlock()

	usage := o.costs.Snapshot()
	if o.recorder != nil {
		if err := o.recorder.RecordEnd(call, usage); err != nil {
			o.logger.Error("Error persisting call record", logger.Error(err))
		}
	}

	o.notifyState()
	o.logger.Info("Call finished",
		logger.String("state", string(final)),
		logger.String("reason", string(reason)),
		logger.Int64("total_tokens", usage.Total()))

	close(o.done)
}

func (o *Orchestrator) stopTimersLocked() {
	for _, t := range []*time.Timer{o.warnTimer, o.durTimer, o.idleA, o.idleB} {
		if t != nil {
			t.Stop()
		}
	}
}
