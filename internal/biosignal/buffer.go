package biosignal

import (
	"sync"
)

// DefaultCapacity holds about two seconds at 256 Hz.
const DefaultCapacity = 512

// ChannelBuffer keeps the most recent samples of one channel. Once full, each
// new sample drops the oldest from the head.
type ChannelBuffer struct {
	mu         sync.Mutex
	buf        []float64
	head, tail int64
}

func NewChannelBuffer(capacity int) *ChannelBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ChannelBuffer{buf: make([]float64, capacity)}
}

func (b *ChannelBuffer) Cap() int { return len(b.buf) }

// Push appends samples in order.
func (b *ChannelBuffer) Push(samples ...float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := int64(len(b.buf))
	for _, s := range samples {
		b.buf[b.tail%size] = s
		b.tail++
		if b.tail-b.head > size {
			b.head++
		}
	}
}

func (b *ChannelBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tail - b.head)
}

// Last copies out the newest n samples, oldest first. It returns fewer when
// the buffer holds fewer.
func (b *ChannelBuffer) Last(n int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	avail := int(b.tail - b.head)
	if n > avail || n < 0 {
		n = avail
	}
	out := make([]float64, n)
	size := int64(len(b.buf))
	start := b.tail - int64(n)
	for i := range out {
		out[i] = b.buf[(start+int64(i))%size]
	}
	return out
}

// Samples copies out everything buffered, oldest first.
func (b *ChannelBuffer) Samples() []float64 { return b.Last(-1) }

func (b *ChannelBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.tail = 0
}
