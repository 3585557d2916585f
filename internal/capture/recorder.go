// Package capture records the session microphone into fixed-duration chunks,
// keeping a bounded pool of recent chunks for repeated analysis and an
// append-only archive of the whole session.
package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/utils"
)

const (
	DefaultChunkDuration = 5 * time.Second
	DefaultHorizon       = 15 * time.Second

	// MinWindowBytes is the smallest window worth analysing; anything below is
	// silence or a broken encoder flush.
	MinWindowBytes = 1024
)

// ErrInsufficientAudio means fewer than the requested duration has been
// captured yet. It is an expected transient state.
var ErrInsufficientAudio = errors.New("capture: insufficient audio")

// Chunk is one flushed piece of encoded audio.
type Chunk struct {
	Index     int
	StartedAt time.Time
	Duration  time.Duration
	Data      []byte
}

// Window is a contiguous payload built from the newest chunks.
type Window struct {
	Data     []byte
	Format   string
	Duration time.Duration
	Chunks   int
	EndedAt  time.Time
}

type Options struct {
	ChunkDuration time.Duration
	// Horizon is how much trailing audio the recent pool retains.
	Horizon time.Duration
	Now     func() time.Time
	Logger  *logrus.Logger
}

type state int

const (
	stateIdle state = iota
	stateRecording
	stateStopped
)

type Recorder struct {
	src  Source
	opts Options

	mu        sync.Mutex
	state     state
	stream    Stream
	format    string
	startedAt time.Time
	recent    []Chunk
	recentDur time.Duration
	archive   *Archive
	next      int

	pending      bytes.Buffer
	pendingStart time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecorder(src Source, opts Options) *Recorder {
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = DefaultChunkDuration
	}
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultHorizon
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Recorder{src: src, opts: opts, archive: &Archive{}}
}

// Start opens the input device and begins chunking in the background.
func (r *Recorder) Start(ctx context.Context) error {
	const op = "Recorder.Start"

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateIdle {
		return utils.E(utils.CodeConflict, op, "recorder already started", nil)
	}

	stream, err := r.src.Open(ctx)
	if err != nil {
		if utils.IsCode(err, utils.CodeDeviceUnavailable) {
			return err
		}
		return utils.E(utils.CodeDeviceUnavailable, op, "failed to open audio input", err)
	}

	now := r.opts.Now()
	r.stream = stream
	r.format = stream.Format()
	r.archive.setFormat(r.format)
	r.startedAt = now
	r.pendingStart = now
	r.state = stateRecording

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, stream.Frames())

	r.opts.Logger.WithFields(logrus.Fields{
		"format":   r.format,
		"chunk_ms": r.opts.ChunkDuration.Milliseconds(),
	}).Info("audio capture started")
	return nil
}

func (r *Recorder) loop(ctx context.Context, frames <-chan []byte) {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.ChunkDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				r.mu.Lock()
				r.flushLocked(r.opts.Now())
				r.mu.Unlock()
				r.opts.Logger.Warn("audio input closed")
				return
			}
			r.mu.Lock()
			r.pending.Write(frame)
			r.mu.Unlock()
		case <-ticker.C:
			r.mu.Lock()
			r.flushLocked(r.opts.Now())
			r.mu.Unlock()
		}
	}
}

// flushLocked turns pending bytes into a chunk ending at now.
func (r *Recorder) flushLocked(now time.Time) {
	if r.pending.Len() == 0 {
		r.pendingStart = now
		return
	}
	data := make([]byte, r.pending.Len())
	copy(data, r.pending.Bytes())
	r.pending.Reset()

	r.appendLocked(Chunk{
		StartedAt: r.pendingStart,
		Duration:  now.Sub(r.pendingStart),
		Data:      data,
	})
	r.pendingStart = now
}

func (r *Recorder) appendLocked(c Chunk) {
	c.Index = r.next
	r.next++
	r.archive.append(c)

	r.recent = append(r.recent, c)
	r.recentDur += c.Duration
	// drop from the recent pool only while the rest still covers the horizon
	for len(r.recent) > 1 && r.recentDur-r.recent[0].Duration >= r.opts.Horizon {
		r.recentDur -= r.recent[0].Duration
		r.recent[0] = Chunk{}
		r.recent = r.recent[1:]
	}
}

// RecentWindow concatenates the newest chunks until they cover d. The result
// never exceeds d by more than one chunk.
func (r *Recorder) RecentWindow(d time.Duration) (*Window, error) {
	const op = "Recorder.RecentWindow"

	if d <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "duration must be > 0", nil)
	}
	if d > r.opts.Horizon {
		return nil, utils.E(utils.CodeInvalidArgument, op, "duration exceeds retention horizon", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var covered time.Duration
	first := -1
	for i := len(r.recent) - 1; i >= 0; i-- {
		covered += r.recent[i].Duration
		if covered >= d {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, ErrInsufficientAudio
	}

	picked := r.recent[first:]
	var buf bytes.Buffer
	for _, c := range picked {
		buf.Write(c.Data)
	}
	last := picked[len(picked)-1]
	return &Window{
		Data:     buf.Bytes(),
		Format:   r.format,
		Duration: covered,
		Chunks:   len(picked),
		EndedAt:  last.StartedAt.Add(last.Duration),
	}, nil
}

// FullAudio returns the session archive. Mid-session it holds what has been
// captured so far; after Stop it is frozen.
func (r *Recorder) FullAudio() *Archive { return r.archive }

// Format reports the container/codec tag of captured audio.
func (r *Recorder) Format() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// StartedAt is zero until Start succeeds.
func (r *Recorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRecording
}

// Stop halts capture, releases the input device and freezes the archive.
// Safe to call repeatedly.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != stateRecording {
		r.state = stateStopped
		r.archive.freeze()
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopped
	cancel, done, stream := r.cancel, r.done, r.stream
	r.mu.Unlock()

	cancel()
	<-done

	// drain frames already delivered before the device closes
drain:
	for {
		select {
		case frame, ok := <-stream.Frames():
			if !ok {
				break drain
			}
			r.mu.Lock()
			r.pending.Write(frame)
			r.mu.Unlock()
		default:
			break drain
		}
	}
	err := stream.Close()

	r.mu.Lock()
	r.flushLocked(r.opts.Now())
	r.archive.freeze()
	r.stream = nil
	chunks := r.archive.Len()
	r.mu.Unlock()

	r.opts.Logger.WithField("chunks", chunks).Info("audio capture stopped")
	return err
}
