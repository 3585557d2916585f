package models

import (
	"encoding/json"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestProbeOffsetIsMilliseconds(t *testing.T) {
	p := Probe{ID: "p1", OffsetMS: (24 * time.Second).Milliseconds(), Text: "why a queue?"}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var asJSON map[string]any
	_ = json.Unmarshal(b, &asJSON)
	if asJSON["offset_ms"] != float64(24000) {
		t.Errorf("json offset_ms=%v", asJSON["offset_ms"])
	}

	raw, err := bson.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if got := bson.Raw(raw).Lookup("offset_ms").AsInt64(); got != 24000 {
		t.Errorf("bson offset_ms=%d", got)
	}

	var back Probe
	if err := bson.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Offset() != 24*time.Second {
		t.Errorf("offset=%s", back.Offset())
	}
}
