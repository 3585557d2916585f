// Package events fans session events out to whoever is watching the session:
// the browser over the websocket, and other processes over Redis.
package events

import (
	"context"
	"time"

	"github.com/yoockh/thinkprobe/internal/models"
)

type Type string

const (
	TypeStatus        Type = "status"
	TypeProbe         Type = "probe"
	TypeEndSuggestion Type = "end_suggestion"
	TypeBandPower     Type = "band_power"
	TypeConfig        Type = "config"
	TypeDevice        Type = "device"
	TypeError         Type = "error"
)

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	Status        string                    `json:"status,omitempty"`
	Probe         *models.Probe             `json:"probe,omitempty"`
	EndSuggestion *models.EndSuggestion     `json:"end_suggestion,omitempty"`
	BandPower     *models.BandPowerSnapshot `json:"band_power,omitempty"`
	Config        *models.ObserverConfig    `json:"config,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber delivers the raw JSON payload of every event until ctx ends or
// the returned stop func is called.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// Bus is both ends.
type Bus interface {
	Publisher
	Subscriber
}

// Channel is the pub/sub channel carrying the events of every session hosted
// by one device. Sessions on a device never overlap.
func Channel(deviceID string) string {
	if deviceID == "" {
		deviceID = "local"
	}
	return "observer:" + deviceID + ":events"
}
