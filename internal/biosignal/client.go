// Package biosignal streams EEG samples from a wireless headband into bounded
// per-channel buffers and reduces them to band power.
package biosignal

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/thinkprobe/internal/utils"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateStreaming    State = "streaming"
)

type Options struct {
	Capacity int
	Decoder  Decoder
	Logger   *logrus.Logger
	// OnDrop is called once when the link fails after being established.
	OnDrop func(err error)
}

// Client owns the headband link between Connect and Disconnect.
type Client struct {
	transport Transport
	opts      Options

	mu         sync.Mutex
	state      State
	link       Link
	deviceName string
	buffers    map[string]*ChannelBuffer
	onBatch    func(Batch)
	pumpDone   chan struct{}
	// inCallback is the link whose pump is running onBatch; a Disconnect
	// from there must not wait for that pump to exit.
	inCallback Link
}

func NewClient(t Transport, opts Options) *Client {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Decoder == nil {
		opts.Decoder = JSONDecoder{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		transport: t,
		opts:      opts,
		state:     StateDisconnected,
		buffers:   map[string]*ChannelBuffer{},
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DeviceName is the paired headband's display name, empty when not connected.
func (c *Client) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

// Connect discovers and pairs with a headband. A dismissed pairing prompt
// yields DEVICE_NOT_FOUND for which IsUserCancelled is true.
func (c *Client) Connect(ctx context.Context) error {
	const op = "Client.Connect"

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "already "+string(c.state), nil)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	link, err := c.transport.Pair(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		cerr := classifyPairError(op, err)
		if IsUserCancelled(cerr) {
			c.opts.Logger.Info("headband pairing cancelled by user")
		} else {
			c.opts.Logger.WithError(err).Warn("headband pairing failed")
		}
		return cerr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the pairing prompt
		c.mu.Unlock()
		_ = link.Close()
		return utils.E(utils.CodeConnectionLost, op, "disconnected while pairing", ErrLinkDropped)
	}
	c.state = StateConnected
	c.link = link
	c.deviceName = link.DeviceName()
	done := make(chan struct{})
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(link, done)

	c.opts.Logger.WithField("device", link.DeviceName()).Info("headband connected")
	return nil
}

// StartStreaming moves connected → streaming; fn receives every decoded
// batch from the link goroutine.
func (c *Client) StartStreaming(fn func(Batch)) error {
	const op = "Client.StartStreaming"

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnected:
	case StateStreaming:
		return utils.E(utils.CodeConflict, op, "already streaming", nil)
	default:
		return utils.E(utils.CodeConnectionLost, op, "headband not connected", nil)
	}
	c.onBatch = fn
	c.state = StateStreaming
	return nil
}

// Disconnect releases the link and clears buffers. Safe from any state,
// including the streaming callback.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	link, done := c.link, c.pumpDone
	if link != nil && c.inCallback == link {
		done = nil
	}
	c.link = nil
	c.pumpDone = nil
	c.state = StateDisconnected
	c.deviceName = ""
	c.onBatch = nil
	c.buffers = map[string]*ChannelBuffer{}
	c.mu.Unlock()

	if link == nil {
		return nil
	}
	err := link.Close()
	if done != nil {
		<-done
	}
	c.opts.Logger.Info("headband disconnected")
	return err
}

// pump drains the link until it closes. Packets arriving before streaming
// starts are discarded.
func (c *Client) pump(link Link, done chan struct{}) {
	defer close(done)

	for pkt := range link.Packets() {
		c.mu.Lock()
		streaming := c.state == StateStreaming && c.link == link
		fn := c.onBatch
		c.mu.Unlock()
		if !streaming {
			continue
		}

		batch, err := c.opts.Decoder.Decode(pkt)
		if err != nil {
			c.opts.Logger.WithError(err).Debug("dropping undecodable packet")
			continue
		}
		c.store(batch)
		if fn != nil {
			c.mu.Lock()
			c.inCallback = link
			c.mu.Unlock()
			fn(batch)
			c.mu.Lock()
			if c.inCallback == link {
				c.inCallback = nil
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	lost := c.link == link
	if lost {
		c.link = nil
		c.pumpDone = nil
		c.state = StateDisconnected
		c.deviceName = ""
		c.onBatch = nil
		c.buffers = map[string]*ChannelBuffer{}
	}
	c.mu.Unlock()

	if lost {
		err := link.Err()
		if err == nil {
			err = ErrLinkDropped
		}
		_ = link.Close()
		c.opts.Logger.WithError(err).Warn("headband link lost")
		if c.opts.OnDrop != nil {
			c.opts.OnDrop(utils.E(utils.CodeConnectionLost, "Client.pump", "headband link lost", err))
		}
	}
}

func (c *Client) store(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, samples := range b {
		buf, ok := c.buffers[name]
		if !ok {
			buf = NewChannelBuffer(c.opts.Capacity)
			c.buffers[name] = buf
		}
		buf.Push(samples...)
	}
}

func (c *Client) buffer(channel string) *ChannelBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers[channel]
}

// Samples copies out the buffered samples of one channel.
func (c *Client) Samples(channel string) []float64 {
	if b := c.buffer(channel); b != nil {
		return b.Samples()
	}
	return nil
}

// Dump copies out every channel's buffered samples.
func (c *Client) Dump() map[string][]float64 {
	c.mu.Lock()
	bufs := make(map[string]*ChannelBuffer, len(c.buffers))
	for k, v := range c.buffers {
		bufs[k] = v
	}
	c.mu.Unlock()

	out := make(map[string][]float64, len(bufs))
	for k, v := range bufs {
		out[k] = v.Samples()
	}
	return out
}

// Epoch returns the newest n samples of channel, or INSUFFICIENT_SAMPLES when
// fewer are buffered.
func (c *Client) Epoch(channel string, n int) ([]float64, error) {
	const op = "Client.Epoch"

	b := c.buffer(channel)
	if b == nil || b.Len() < n {
		return nil, utils.E(utils.CodeInsufficientSamples, op, "not enough samples on "+channel, nil)
	}
	return b.Last(n), nil
}
