// Package llm adapts hosted language models to the observer's collaborator
// contracts: gap scoring, probe writing and session-end judgement.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/yoockh/thinkprobe/internal/observer"
	"github.com/yoockh/thinkprobe/internal/utils"
)

// Completer is a single-turn text model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Close() error
}

var (
	_ observer.ProbeGenerator = (*Judge)(nil)
	_ observer.EndChecker     = (*Judge)(nil)
)

// Judge writes probes and end verdicts with any text model.
type Judge struct {
	Model Completer
}

func NewJudge(m Completer) *Judge { return &Judge{Model: m} }

func (j *Judge) GenerateProbe(ctx context.Context, req observer.ProbeRequest) (string, error) {
	const op = "Judge.GenerateProbe"

	out, err := j.Model.Complete(ctx, probeSystem, probePrompt(req))
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "probe model call failed", err)
	}
	text := cleanProbe(out)
	if text == "" {
		return "", utils.E(utils.CodeInternal, op, "model returned an empty probe", nil)
	}
	return text, nil
}

func (j *Judge) CheckEnd(ctx context.Context, req observer.EndCheckRequest) (observer.EndVerdict, error) {
	const op = "Judge.CheckEnd"

	out, err := j.Model.Complete(ctx, endSystem, endPrompt(req))
	if err != nil {
		return observer.EndVerdict{}, utils.E(utils.CodeUnavailable, op, "end check call failed", err)
	}
	var v observer.EndVerdict
	if err := decodeJSON(out, &v); err != nil {
		return observer.EndVerdict{}, utils.E(utils.CodeInternal, op, "unreadable verdict", err)
	}
	return v, nil
}

// scoreTranscript asks the model to judge a transcript in place of audio.
func (j *Judge) scoreTranscript(ctx context.Context, problem, transcript string) (observer.GapAnalysis, error) {
	out, err := j.Model.Complete(ctx, gapSystem, transcriptPrompt(problem, transcript))
	if err != nil {
		return observer.GapAnalysis{}, err
	}
	var g observer.GapAnalysis
	if err := decodeJSON(out, &g); err != nil {
		return observer.GapAnalysis{}, fmt.Errorf("unreadable gap analysis: %w", err)
	}
	return g, nil
}

// cleanProbe drops wrapping quotes and labels models like to add.
func cleanProbe(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"Probe:", "Question:", "probe:", "question:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}
