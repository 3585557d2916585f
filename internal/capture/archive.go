package capture

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Archive is the append-only record of every chunk in a session, in capture
// order.
type Archive struct {
	mu     sync.RWMutex
	chunks []Chunk
	format string
	frozen bool
}

func (a *Archive) append(c Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return
	}
	a.chunks = append(a.chunks, c)
}

func (a *Archive) setFormat(f string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.format = f
}

func (a *Archive) freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
}

func (a *Archive) Frozen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozen
}

func (a *Archive) Format() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.format
}

func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks)
}

// Chunks returns the archived chunks. The slice shares storage with the
// archive and must not be modified.
func (a *Archive) Chunks() []Chunk {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chunks[:len(a.chunks):len(a.chunks)]
}

func (a *Archive) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var d time.Duration
	for _, c := range a.chunks {
		d += c.Duration
	}
	return d
}

func (a *Archive) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var n int64
	for _, c := range a.chunks {
		n += int64(len(c.Data))
	}
	return n
}

// WriteTo streams every chunk's payload in order.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	var wn int64
	for _, c := range a.Chunks() {
		n, err := w.Write(c.Data)
		wn += int64(n)
		if err != nil {
			return wn, err
		}
	}
	return wn, nil
}

// Bytes concatenates the whole session into one payload.
func (a *Archive) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(a.Size()))
	_, _ = a.WriteTo(&buf)
	return buf.Bytes()
}
