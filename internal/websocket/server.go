package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/pkg/logger"
)

// Control message types exchanged with the client device. Audio itself
// travels as binary frames in both directions; JSON text frames carry
// everything else.
const (
	MessageTypeSpeechStart = "speech_start" // client begins a push-to-talk turn
	MessageTypeSpeechEnd   = "speech_end"   // client ends a push-to-talk turn
	MessageTypeHangup      = "hangup"       // client requests call teardown
	MessageTypeTranscript  = "transcript"   // server pushes transcript text
	MessageTypeStatus      = "status"       // server pushes a call state change
)

// Message represents a WebSocket control message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// outbound is one queued frame bound for the device: either a control
// message or a chunk of synthesized audio
type outbound struct {
	message *Message
	audio   []byte
}

// Server upgrades client-device connections and binds each one to its call
type Server struct {
	manager  *translation.Manager
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewServer creates the client-device WebSocket server
func NewServer(manager *translation.Manager, log *logger.Logger) *Server {
	return &Server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("client-ws"),
	}
}

// HandleCallConnection upgrades the device connection for one call and
// attaches it as the call's client sink
func (s *Server) HandleCallConnection(w http.ResponseWriter, r *http.Request, callID string) {
	orch, ok := s.manager.Get(callID)
	if !ok {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Info("Client device connected",
		logger.String("call_id", callID),
		logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:      conn,
		orch:      orch,
		send:      make(chan outbound, 256),
		closeChan: make(chan struct{}),
		logger:    s.logger.With(logger.String("call_id", callID)),
	}

	orch.AttachClient(client)

	go client.readPump()
	go client.writePump()
}

// Client is one connected device. It implements translation.ClientSink so
// the orchestrator can push audio, transcripts and status straight to it.
type Client struct {
	conn      *websocket.Conn
	orch      *translation.Orchestrator
	send      chan outbound
	logger    *logger.Logger
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	closeOnce sync.Once
}

// WriteAudio queues one chunk of synthesized audio for the device.
// A device that cannot drain its queue loses audio rather than stalling
// the call.
func (c *Client) WriteAudio(data []byte) error {
	return c.enqueue(outbound{audio: data})
}

// WriteTranscript queues transcript text for display on the device
func (c *Client) WriteTranscript(role translation.Role, original, translated string) error {
	data := map[string]any{"role": string(role)}
	if original != "" {
		data["original"] = original
	}
	if translated != "" {
		data["translated"] = translated
	}
	return c.enqueue(outbound{message: &Message{Type: MessageTypeTranscript, Data: data}})
}

// WriteStatus queues a call state change for the device
func (c *Client) WriteStatus(state translation.CallState, reason translation.EndReason) error {
	data := map[string]any{"state": string(state)}
	if reason != "" {
		data["reason"] = string(reason)
	}
	return c.enqueue(outbound{message: &Message{Type: MessageTypeStatus, Data: data}})
}

func (c *Client) enqueue(out outbound) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	select {
	case c.send <- out:
	default:
		// Queue full, drop the frame
	}
	return nil
}

// readPump consumes device frames: binary frames are microphone audio,
// text frames are control messages
func (c *Client) readPump() {
	defer func() {
		c.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.orch.OnClientFrame(data)

		case websocket.TextMessage:
			var message Message
			if err := json.Unmarshal(data, &message); err != nil {
				c.logger.Error("Failed to parse control message", logger.Error(err))
				continue
			}
			c.handleControl(message)
		}
	}
}

// handleControl dispatches one control message from the device
func (c *Client) handleControl(message Message) {
	switch message.Type {
	case MessageTypeSpeechStart:
		c.orch.OnSpeechStart()
	case MessageTypeSpeechEnd:
		c.orch.OnSpeechEnd()
	case MessageTypeHangup:
		c.logger.Info("Device requested hangup")
		c.orch.Hangup()
	default:
		c.logger.Debug("Ignoring unknown control message",
			logger.String("type", message.Type))
	}
}

// writePump pushes queued frames to the device until the connection or the
// call goes away
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case out := <-c.send:
			if out.audio != nil {
				if err := c.conn.WriteMessage(websocket.BinaryMessage, out.audio); err != nil {
					return
				}
				continue
			}

			data, err := json.Marshal(out.message)
			if err != nil {
				c.logger.Error("Failed to marshal message", logger.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.orch.Done():
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the device connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closeChan)
		c.conn.Close()
	})
}
