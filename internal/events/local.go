package events

import (
	"context"
	"encoding/json"
	"sync"
)

// LocalBus fans events out in-process. A slow subscriber loses events rather
// than stalling the publisher.
type LocalBus struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[chan []byte]struct{}{}}
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	context.AfterFunc(ctx, stop)
	return ch, stop, nil
}
