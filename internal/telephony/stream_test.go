package telephony

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/voicebridge/relay/pkg/logger"
)

func newTestStream(queue int) *Stream {
	return &Stream{
		send:   make(chan []byte, queue),
		logger: logger.NewNop(),
	}
}

func TestStreamWriteAudio(t *testing.T) {
	t.Run("queues a media envelope", func(t *testing.T) {
		s := newTestStream(4)
		s.streamSID = "MZ123"

		if err := s.WriteAudio([]byte("mulaw-frame")); err != nil {
			t.Fatalf("WriteAudio: %v", err)
		}

		var envelope Envelope
		select {
		case payload := <-s.send:
			if err := json.Unmarshal(payload, &envelope); err != nil {
				t.Fatalf("unmarshal queued envelope: %v", err)
			}
		default:
			t.Fatal("no envelope queued")
		}

		if envelope.Event != EventMedia {
			t.Errorf("event = %q, want %q", envelope.Event, EventMedia)
		}
		if envelope.StreamSID != "MZ123" {
			t.Errorf("stream_sid = %q, want MZ123", envelope.StreamSID)
		}
		if envelope.Media == nil {
			t.Fatal("envelope has no media frame")
		}
		decoded, err := base64.StdEncoding.DecodeString(envelope.Media.Payload)
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if string(decoded) != "mulaw-frame" {
			t.Errorf("payload = %q, want mulaw-frame", decoded)
		}
	})

	t.Run("never blocks on a stalled gateway", func(t *testing.T) {
		// Nothing drains the queue here, standing in for a gateway that
		// stopped reading
		s := newTestStream(2)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 50; i++ {
				if err := s.WriteAudio([]byte("frame")); err != nil {
					t.Errorf("WriteAudio: %v", err)
					return
				}
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("WriteAudio blocked on a full queue")
		}
		if len(s.send) != 2 {
			t.Errorf("queued frames = %d, want queue capacity 2", len(s.send))
		}
	})
}
