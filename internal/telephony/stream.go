package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/pkg/logger"
)

// Media-stream envelope events. The gateway speaks a small JSON protocol
// over one WebSocket per call: "start" when the remote party answers,
// "media" for each audio frame in either direction, "stop" when the remote
// side hangs up or the carrier drops the call.
const (
	EventRinging = "ringing"
	EventStart   = "start"
	EventMedia   = "media"
	EventStop    = "stop"
)

// Envelope is one media-stream message
type Envelope struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"stream_sid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
}

// StartFrame announces an answered call and its stream identity
type StartFrame struct {
	StreamSID  string `json:"stream_sid"`
	CallSID    string `json:"call_sid"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// MediaFrame carries one base64-encoded audio frame
type MediaFrame struct {
	Payload string `json:"payload"`
}

// Server accepts gateway media-stream connections and binds each one to its
// call orchestrator
type Server struct {
	manager  *translation.Manager
	cfg      config.TelephonyConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewServer creates the telephony media-stream server
func NewServer(manager *translation.Manager, cfg config.TelephonyConfig, log *logger.Logger) *Server {
	return &Server{
		manager: manager,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // The gateway authenticates at the network layer
			},
		},
		logger: log.Named("telephony"),
	}
}

// HandleStreamConnection upgrades one gateway connection and runs its media
// loop until the call ends
func (s *Server) HandleStreamConnection(w http.ResponseWriter, r *http.Request, callID string) {
	orch, ok := s.manager.Get(callID)
	if !ok {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade gateway connection",
			logger.Error(err),
			logger.String("call_id", callID))
		return
	}

	stream := &Stream{
		conn:   conn,
		orch:   orch,
		send:   make(chan []byte, 256),
		logger: s.logger.With(logger.String("call_id", callID)),
	}
	orch.AttachTelephony(stream)

	stream.run(time.Duration(s.cfg.AnswerTimeoutSecs) * time.Second)
}

// Stream is one live gateway connection. It implements
// translation.TelephonySink for the outbound direction.
type Stream struct {
	conn   *websocket.Conn
	orch   *translation.Orchestrator
	send   chan []byte // marshaled envelopes bound for the gateway
	logger *logger.Logger

	mu        sync.Mutex
	streamSID string
}

// writeWait bounds a single write toward the gateway
const writeWait = 5 * time.Second

// WriteAudio wraps one synthesized audio chunk in a media envelope and
// queues it for the gateway. A gateway that cannot drain its queue loses
// audio rather than stalling the leg pump behind it.
func (t *Stream) WriteAudio(data []byte) error {
	t.mu.Lock()
	streamSID := t.streamSID
	t.mu.Unlock()

	envelope := Envelope{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaFrame{Payload: base64.StdEncoding.EncodeToString(data)},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	select {
	case t.send <- payload:
	default:
		// Queue full, drop the frame
	}
	return nil
}

// writePump pushes queued envelopes to the gateway until the connection or
// the call goes away
func (t *Stream) writePump() {
	for {
		select {
		case payload := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-t.orch.Done():
			return
		}
	}
}

// run consumes gateway envelopes until the connection drops or the call
// ends. A gateway that never reports "start" inside the answer timeout
// abandons the call.
func (t *Stream) run(answerTimeout time.Duration) {
	defer t.conn.Close()

	answered := false
	answerTimer := time.AfterFunc(answerTimeout, func() {
		t.logger.Info("Remote party did not answer in time")
		t.orch.OnSetupAbandoned()
		t.conn.Close()
	})
	defer answerTimer.Stop()

	go t.writePump()

	// Terminate the gateway side once the call reaches a terminal state,
	// whatever ended it
	go func() {
		<-t.orch.Done()
		t.conn.Close()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				t.logger.Error("Gateway read error", logger.Error(err))
			}
			if answered {
				t.orch.OnTelephonyDisconnect()
			} else {
				t.orch.OnSetupAbandoned()
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.logger.Error("Failed to parse gateway envelope", logger.Error(err))
			continue
		}

		switch envelope.Event {
		case EventRinging:
			t.logger.Debug("Remote party is ringing")

		case EventStart:
			if answered {
				continue
			}
			answered = true
			answerTimer.Stop()
			if envelope.Start != nil {
				t.mu.Lock()
				t.streamSID = envelope.Start.StreamSID
				t.mu.Unlock()
			}
			t.logger.Info("Remote party answered",
				logger.String("stream_sid", t.streamSID))
			if err := t.orch.OnAnswered(context.Background()); err != nil {
				t.logger.Error("Failed to activate call", logger.Error(err))
				return
			}

		case EventMedia:
			if envelope.Media == nil {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(envelope.Media.Payload)
			if err != nil {
				t.logger.Error("Failed to decode media payload", logger.Error(err))
				continue
			}
			t.orch.OnTelephonyFrame(frame)

		case EventStop:
			t.logger.Info("Gateway reported call stop")
			t.orch.OnTelephonyDisconnect()
			return

		default:
			t.logger.Debug("Ignoring unknown gateway event",
				logger.String("event", envelope.Event))
		}
	}
}
