package biosignal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport pairs through a local bridge process that owns the bluetooth
// radio and relays headband notifications over a websocket.
//
// Bridge protocol: the client sends {"type":"pair"}; the bridge answers with
// one control message ({"type":"device","name":...}, {"type":"pairing_cancelled"},
// {"type":"not_found"} or {"type":"error","name":...,"message":...}) and then
// streams sample packets as binary or text frames.
type WSTransport struct {
	URL          string
	PairTimeout  time.Duration
	PacketBuffer int
	Dialer       *websocket.Dialer
}

func NewWSTransport(url string) *WSTransport {
	return &WSTransport{URL: url, PairTimeout: 60 * time.Second, PacketBuffer: 256}
}

type bridgeMsg struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

func (t *WSTransport) Pair(ctx context.Context) (Link, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := t.PairTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: bridge unreachable: %v", ErrDeviceNotFound, err)
	}

	if err := conn.WriteJSON(bridgeMsg{Type: "pair"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrLinkDropped, err)
	}

	// the chooser is interactive; unblock the read if ctx ends first
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var msg bridgeMsg
	err = conn.ReadJSON(&msg)
	stop()
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrLinkDropped, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch msg.Type {
	case "device":
	case "pairing_cancelled":
		_ = conn.Close()
		return nil, ErrPairingCancelled
	case "not_found":
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, msg.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("bridge %s: %s: %s", msg.Type, msg.Name, msg.Message)
	}

	buf := t.PacketBuffer
	if buf <= 0 {
		buf = 256
	}
	l := &wsLink{
		conn:    conn,
		name:    msg.Name,
		packets: make(chan []byte, buf),
	}
	go l.read()
	return l, nil
}

type wsLink struct {
	conn    *websocket.Conn
	name    string
	packets chan []byte

	mu     sync.Mutex
	err    error
	closed bool
}

func (l *wsLink) DeviceName() string     { return l.name }
func (l *wsLink) Packets() <-chan []byte { return l.packets }

func (l *wsLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *wsLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return l.conn.Close()
}

func (l *wsLink) read() {
	defer close(l.packets)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			if !l.closed {
				l.err = fmt.Errorf("%w: %v", ErrLinkDropped, err)
			}
			l.mu.Unlock()
			return
		}
		l.packets <- data
	}
}
