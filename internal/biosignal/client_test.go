package biosignal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/utils"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeLink struct {
	name    string
	packets chan []byte
	once    sync.Once
	err     error
}

func newFakeLink(name string) *fakeLink {
	return &fakeLink{name: name, packets: make(chan []byte, 64)}
}

func (l *fakeLink) DeviceName() string     { return l.name }
func (l *fakeLink) Packets() <-chan []byte { return l.packets }
func (l *fakeLink) Err() error             { return l.err }
func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.packets) })
	return nil
}

// drop simulates the radio going away.
func (l *fakeLink) drop() {
	l.err = ErrLinkDropped
	l.once.Do(func() { close(l.packets) })
}

type fakeTransport struct {
	link *fakeLink
	err  error
}

func (t *fakeTransport) Pair(ctx context.Context) (Link, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.link, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClientLifecycle(t *testing.T) {
	link := newFakeLink("Muse-4F2A")
	c := NewClient(&fakeTransport{link: link}, Options{Logger: quietLogger()})

	if c.State() != StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
	if err := c.StartStreaming(nil); !utils.IsCode(err, utils.CodeConnectionLost) {
		t.Fatalf("stream before connect: err=%v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateConnected || c.DeviceName() != "Muse-4F2A" {
		t.Fatalf("state=%s name=%q", c.State(), c.DeviceName())
	}
	if err := c.Connect(context.Background()); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("double connect: err=%v", err)
	}

	var mu sync.Mutex
	var got []Batch
	err := c.StartStreaming(func(b Batch) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("start streaming: %v", err)
	}
	if c.State() != StateStreaming {
		t.Fatalf("state=%s", c.State())
	}

	link.packets <- []byte(`{"channel":"TP9","samples":[1,2,3]}`)
	link.packets <- []byte(`garbage`)
	link.packets <- []byte(`{"channels":{"TP9":[4],"TP10":[5,6]}}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	if s := c.Samples("TP9"); len(s) != 4 || s[0] != 1 || s[3] != 4 {
		t.Errorf("TP9=%v", s)
	}
	if _, err := c.Epoch("TP10", 256); !utils.IsCode(err, utils.CodeInsufficientSamples) {
		t.Errorf("epoch err=%v", err)
	}
	if e, err := c.Epoch("TP10", 2); err != nil || e[1] != 6 {
		t.Errorf("epoch=%v err=%v", e, err)
	}
	if d := c.Dump(); len(d) != 2 {
		t.Errorf("dump=%v", d)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if c.State() != StateDisconnected || c.DeviceName() != "" || len(c.Samples("TP9")) != 0 {
		t.Errorf("state=%s name=%q samples=%d", c.State(), c.DeviceName(), len(c.Samples("TP9")))
	}
}

func TestClientDisconnectFromIdle(t *testing.T) {
	c := NewClient(&fakeTransport{}, Options{Logger: quietLogger()})
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestClientLinkDrop(t *testing.T) {
	link := newFakeLink("Muse")
	dropped := make(chan error, 1)
	c := NewClient(&fakeTransport{link: link}, Options{
		Logger: quietLogger(),
		OnDrop: func(err error) { dropped <- err },
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.StartStreaming(func(Batch) {}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	link.drop()

	select {
	case err := <-dropped:
		if !utils.IsCode(err, utils.CodeConnectionLost) {
			t.Errorf("drop err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no drop callback")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state=%s", c.State())
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("disconnect after drop: %v", err)
	}
}

func TestConnectErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      utils.Code
		cancelled bool
	}{
		{"explicit cancel", ErrPairingCancelled, utils.CodeDeviceNotFound, true},
		{"context cancel", context.Canceled, utils.CodeDeviceNotFound, true},
		{"heuristic cancel", errors.New("NotFoundError: User cancelled the requestDevice() chooser."), utils.CodeDeviceNotFound, true},
		{"absent", ErrDeviceNotFound, utils.CodeDeviceNotFound, false},
		{"other NotFoundError", errors.New("NotFoundError: no devices in range"), utils.CodeDeviceNotFound, false},
		{"dropped", ErrLinkDropped, utils.CodeConnectionLost, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(&fakeTransport{err: tc.err}, Options{Logger: quietLogger()})
			err := c.Connect(context.Background())
			if !utils.IsCode(err, tc.code) {
				t.Fatalf("err=%v", err)
			}
			if IsUserCancelled(err) != tc.cancelled {
				t.Errorf("cancelled=%v want %v", IsUserCancelled(err), tc.cancelled)
			}
			if c.State() != StateDisconnected {
				t.Errorf("state=%s", c.State())
			}
		})
	}
}

func bridge(t *testing.T, reply string, packets ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req bridgeMsg
		if err := conn.ReadJSON(&req); err != nil || req.Type != "pair" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		for _, p := range packets {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(p))
		}
		// hold the link open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransportPairing(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		srv := bridge(t, `{"type":"pairing_cancelled"}`)
		c := NewClient(NewWSTransport(wsURL(srv)), Options{Logger: quietLogger()})
		err := c.Connect(context.Background())
		if !utils.IsCode(err, utils.CodeDeviceNotFound) || !IsUserCancelled(err) {
			t.Fatalf("err=%v", err)
		}
		if c.State() != StateDisconnected {
			t.Errorf("state=%s", c.State())
		}
	})

	t.Run("chooser error", func(t *testing.T) {
		srv := bridge(t, `{"type":"error","name":"NotFoundError","message":"User cancelled the requestDevice() chooser."}`)
		err := NewClient(NewWSTransport(wsURL(srv)), Options{Logger: quietLogger()}).Connect(context.Background())
		if !IsUserCancelled(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		srv := bridge(t, `{"type":"not_found","message":"no headband in range"}`)
		err := NewClient(NewWSTransport(wsURL(srv)), Options{Logger: quietLogger()}).Connect(context.Background())
		if !utils.IsCode(err, utils.CodeDeviceNotFound) || IsUserCancelled(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("bridge down", func(t *testing.T) {
		err := NewClient(NewWSTransport("ws://127.0.0.1:1/eeg"), Options{Logger: quietLogger()}).Connect(context.Background())
		if !utils.IsCode(err, utils.CodeDeviceNotFound) || IsUserCancelled(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("streams", func(t *testing.T) {
		srv := bridge(t, `{"type":"device","name":"Muse-S 7C1D"}`)
		c := NewClient(NewWSTransport(wsURL(srv)), Options{Logger: quietLogger()})
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if c.DeviceName() != "Muse-S 7C1D" {
			t.Errorf("name=%q", c.DeviceName())
		}
		if err := c.Disconnect(); err != nil {
			t.Errorf("disconnect: %v", err)
		}
		if c.State() != StateDisconnected {
			t.Errorf("state=%s", c.State())
		}
	})
}

func TestDisconnectFromCallback(t *testing.T) {
	link := newFakeLink("Muse-4F2A")
	c := NewClient(&fakeTransport{link: link}, Options{Logger: quietLogger()})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	returned := make(chan error, 1)
	err := c.StartStreaming(func(Batch) {
		returned <- c.Disconnect()
	})
	if err != nil {
		t.Fatalf("start streaming: %v", err)
	}
	link.packets <- []byte(`{"channel":"TP9","samples":[1,2,3]}`)

	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("disconnect: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect from the callback never returned")
	}
	if c.State() != StateDisconnected || len(c.Samples("TP9")) != 0 {
		t.Errorf("state=%s samples=%v", c.State(), c.Samples("TP9"))
	}

	// the client is reusable once the old pump has gone
	link2 := newFakeLink("Muse-4F2A")
	c.transport = &fakeTransport{link: link2}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second disconnect: %v", err)
	}
}
