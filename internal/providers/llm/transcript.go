package llm

import (
	"context"
	"strings"

	"github.com/yoockh/thinkprobe/internal/observer"
	"github.com/yoockh/thinkprobe/internal/providers/stt"
	"github.com/yoockh/thinkprobe/internal/utils"
)

var _ observer.GapAnalyzer = (*TranscriptAnalyzer)(nil)

// TranscriptAnalyzer scores gaps for text-only models: transcribe the window
// first, then have the model judge the words.
type TranscriptAnalyzer struct {
	STT      stt.Provider
	Judge    *Judge
	Language string
}

func (t *TranscriptAnalyzer) AnalyzeGap(ctx context.Context, req observer.GapRequest) (observer.GapAnalysis, error) {
	const op = "TranscriptAnalyzer.AnalyzeGap"

	text, _, err := t.STT.Transcribe(ctx, req.Audio, req.Format, t.Language)
	if err != nil {
		return observer.GapAnalysis{}, utils.E(utils.CodeUnavailable, op, "transcription failed", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// silence is not a reasoning gap
		return observer.GapAnalysis{Score: 0}, nil
	}

	g, err := t.Judge.scoreTranscript(ctx, req.Problem, text)
	if err != nil {
		return observer.GapAnalysis{}, utils.E(utils.CodeUnavailable, op, "gap scoring failed", err)
	}
	g.Transcript = text
	return g, nil
}
