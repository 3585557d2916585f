package observer

import (
	"context"
	"time"

	"github.com/yoockh/thinkprobe/internal/capture"
	"github.com/yoockh/thinkprobe/internal/models"
)

type GapRequest struct {
	Audio   []byte
	Format  string
	Problem string
}

type GapAnalysis struct {
	Score      float64  `json:"gap_score"`
	Signals    []string `json:"signals"`
	Transcript string   `json:"transcript,omitempty"`
}

// GapAnalyzer scores how much the latest audio shows a hole in the speaker's
// reasoning.
type GapAnalyzer interface {
	AnalyzeGap(ctx context.Context, req GapRequest) (GapAnalysis, error)
}

type ProbeRequest struct {
	Problem     string
	GapScore    float64
	Signals     []string
	PriorProbes []string
}

// ProbeGenerator writes the follow-up question for a detected gap.
type ProbeGenerator interface {
	GenerateProbe(ctx context.Context, req ProbeRequest) (string, error)
}

type EndCheckRequest struct {
	Problem      string
	ProbeCount   int
	Elapsed      time.Duration
	RecentProbes []string
}

type EndVerdict struct {
	ShouldEnd bool   `json:"should_end"`
	Reason    string `json:"reason"`
}

// EndChecker judges whether the session has run its course.
type EndChecker interface {
	CheckEnd(ctx context.Context, req EndCheckRequest) (EndVerdict, error)
}

// WindowSource is the capture side the orchestrator reads from.
type WindowSource interface {
	RecentWindow(d time.Duration) (*capture.Window, error)
}

// Sink receives what the orchestrator surfaces to the user.
type Sink interface {
	ProbeCreated(p models.Probe)
	EndSuggested(s models.EndSuggestion)
}

// ConfigSink is an optional Sink extension told about config changes the
// orchestrator makes on its own, such as a mute running out.
type ConfigSink interface {
	ConfigChanged(c models.ObserverConfig)
}
