package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/services"
)

const (
	wsReadWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
	wsPingEvery = 25 * time.Second
)

type WSHandler struct {
	audio    services.AudioInput
	events   events.Subscriber
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(audio services.AudioInput, sub events.Subscriber, logger *logrus.Logger) *WSHandler {
	return &WSHandler{
		audio:  audio,
		events: sub,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin once the UI host is fixed
		},
	}
}

type wsClientMsg struct {
	Type        string `json:"type"`
	Format      string `json:"format"`
	AudioBase64 string `json:"audio_base64"`
	Reason      string `json:"reason"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) write(kind int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(kind, b)
}

func (w *wsConn) writeError(code, msg string) {
	b, _ := json.Marshal(events.Event{Type: events.TypeError, At: time.Now().UTC(), Code: code, Message: msg})
	_ = w.write(websocket.TextMessage, b)
}

// SessionWS carries microphone audio in and observer events out. A client
// announces its recording format with audio_format before starting a session;
// binary frames are raw encoded audio.
func (h *WSHandler) SessionWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, unsubscribe, err := h.events.Subscribe(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("ws: subscribe failed")
		wc.writeError("UNAVAILABLE", "event stream unavailable")
		return
	}
	defer unsubscribe()

	var attached atomic.Bool
	defer func() {
		if attached.Load() {
			h.audio.Detach()
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadWait))
		})

		for {
			kind, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			if kind == websocket.BinaryMessage {
				if err := h.audio.Push(data); err != nil {
					h.logger.WithError(err).Debug("ws: audio frame dropped")
				}
				continue
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				wc.writeError("INVALID_ARGUMENT", "invalid json")
				continue
			}

			switch msg.Type {
			case "audio_format":
				h.audio.Attach(msg.Format)
				attached.Store(true)

			case "audio_chunk":
				frame, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
				if err != nil || len(frame) == 0 {
					wc.writeError("INVALID_ARGUMENT", "audio_base64 must be non-empty base64")
					continue
				}
				if err := h.audio.Push(frame); err != nil {
					h.logger.WithError(err).Debug("ws: audio chunk dropped")
				}

			case "mic_denied":
				h.logger.WithField("reason", msg.Reason).Info("ws: microphone denied")
				h.audio.Deny()
				attached.Store(false)

			default:
				wc.writeError("INVALID_ARGUMENT", "unknown message type")
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := wc.write(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
