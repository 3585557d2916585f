package capture

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yoockh/thinkprobe/internal/utils"
)

// DefaultFormat is what browsers' MediaRecorder emits for microphone capture.
const DefaultFormat = "audio/webm;codecs=opus"

var (
	ErrSourceClosed = errors.New("capture: source closed")
	ErrFrameDropped = errors.New("capture: frame buffer full")
)

// Stream is an open input device. Frames is closed by the producer when the
// device goes away.
type Stream interface {
	Frames() <-chan []byte
	Format() string
	Close() error
}

// Source opens an input device. Open must return a DEVICE_UNAVAILABLE
// AppError when no device is present or permission was refused.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// WSSource is a microphone living on the other end of the session websocket.
// The client announces the device (Attach) or a refused permission (Deny) and
// then pushes encoded frames.
type WSSource struct {
	mu       sync.Mutex
	format   string
	attached bool
	denied   bool
	stream   *frameStream
	buffer   int
}

func NewWSSource(buffer int) *WSSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &WSSource{buffer: buffer}
}

// Attach marks the client microphone as available with the given container tag.
func (s *WSSource) Attach(format string) {
	format = strings.TrimSpace(format)
	if format == "" {
		format = DefaultFormat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.attached = true
	s.denied = false
}

// Deny records that the user refused microphone access.
func (s *WSSource) Deny() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = true
	s.attached = false
}

// Detach ends the current stream, if any; the recorder sees its frames close.
func (s *WSSource) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	if s.stream != nil {
		s.stream.shut()
		s.stream = nil
	}
}

func (s *WSSource) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *WSSource) Open(ctx context.Context) (Stream, error) {
	const op = "WSSource.Open"

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.denied:
		return nil, utils.E(utils.CodeDeviceUnavailable, op, "microphone permission denied", nil)
	case !s.attached:
		return nil, utils.E(utils.CodeDeviceUnavailable, op, "no microphone attached", nil)
	case s.stream != nil:
		return nil, utils.E(utils.CodeConflict, op, "microphone already in use", nil)
	}
	s.stream = newFrameStream(s.format, s.buffer, s.release)
	return s.stream, nil
}

// Push hands one encoded frame to the open stream.
func (s *WSSource) Push(frame []byte) error {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return ErrSourceClosed
	}
	return st.push(frame)
}

func (s *WSSource) release(st *frameStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == st {
		s.stream = nil
	}
}

type frameStream struct {
	format    string
	frames    chan []byte
	onRelease func(*frameStream)

	mu     sync.Mutex
	closed bool
}

func newFrameStream(format string, buffer int, onRelease func(*frameStream)) *frameStream {
	return &frameStream{
		format:    format,
		frames:    make(chan []byte, buffer),
		onRelease: onRelease,
	}
}

func (f *frameStream) Frames() <-chan []byte { return f.frames }
func (f *frameStream) Format() string         { return f.format }

func (f *frameStream) push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSourceClosed
	}
	select {
	case f.frames <- frame:
		return nil
	default:
		return ErrFrameDropped
	}
}

func (f *frameStream) Close() error {
	f.shut()
	if f.onRelease != nil {
		f.onRelease(f)
	}
	return nil
}

// shut closes the frame channel once.
func (f *frameStream) shut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.frames)
}
