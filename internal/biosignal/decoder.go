package biosignal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Batch maps channel name to µV samples in arrival order.
type Batch map[string][]float64

// Decoder turns one transport packet into samples. Vendor framing lives
// behind this interface.
type Decoder interface {
	Decode(packet []byte) (Batch, error)
}

// packet is the bridge's sample frame. A frame either carries a single
// electrode (Channel+Samples) or several at once (Channels).
type packet struct {
	Channel  string               `json:"channel,omitempty" msgpack:"channel,omitempty"`
	Samples  []float64            `json:"samples,omitempty" msgpack:"samples,omitempty"`
	Channels map[string][]float64 `json:"channels,omitempty" msgpack:"channels,omitempty"`
}

func (p packet) batch() (Batch, error) {
	out := Batch{}
	for name, s := range p.Channels {
		if len(s) > 0 {
			out[name] = s
		}
	}
	if p.Channel != "" && len(p.Samples) > 0 {
		out[p.Channel] = append(out[p.Channel], p.Samples...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("biosignal: packet has no samples")
	}
	return out, nil
}

type JSONDecoder struct{}

func (JSONDecoder) Decode(b []byte) (Batch, error) {
	var p packet
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("biosignal: decode json packet: %w", err)
	}
	return p.batch()
}

type MsgpackDecoder struct{}

func (MsgpackDecoder) Decode(b []byte) (Batch, error) {
	var p packet
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("biosignal: decode msgpack packet: %w", err)
	}
	return p.batch()
}

// DecoderByName resolves the EEG_DECODER setting.
func DecoderByName(name string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONDecoder{}, nil
	case "msgpack":
		return MsgpackDecoder{}, nil
	}
	return nil, fmt.Errorf("biosignal: unknown decoder %q", name)
}
