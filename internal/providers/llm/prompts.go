package llm

import (
	"fmt"
	"strings"

	"github.com/yoockh/thinkprobe/internal/observer"
)

const gapSystem = `You listen to a person solving a problem out loud and judge whether their
reasoning in the latest stretch shows a gap: a skipped step, an unexamined
assumption, a contradiction, hand-waving, or a stall.
Reply with JSON only:
{"gap_score": <0..1>, "signals": [<short labels>], "transcript": "<what you heard>"}
A score near 0 means the reasoning is sound or there is nothing to judge.`

const probeSystem = `You write one short follow-up question that makes a person examine the gap
in their reasoning. Ask, never tell. Do not give away the answer. Do not repeat
a question that was already asked. Reply with the question only.`

const endSystem = `You decide whether a think-aloud session has run its course: the person has
addressed the earlier follow-up questions or is going in circles.
Reply with JSON only: {"should_end": <true|false>, "reason": "<one sentence>"}`

func gapPrompt(problem string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem being worked on:\n%s\n\n", orNone(problem))
	b.WriteString("Judge the attached audio of the last few seconds.")
	return b.String()
}

func transcriptPrompt(problem, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem being worked on:\n%s\n\n", orNone(problem))
	fmt.Fprintf(&b, "Transcript of the last few seconds:\n%s", transcript)
	return b.String()
}

func probePrompt(req observer.ProbeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n\n", orNone(req.Problem))
	fmt.Fprintf(&b, "Gap score: %.2f\n", req.GapScore)
	if len(req.Signals) > 0 {
		fmt.Fprintf(&b, "Signals: %s\n", strings.Join(req.Signals, ", "))
	}
	writeList(&b, "Questions already asked", req.PriorProbes)
	return b.String()
}

func endPrompt(req observer.EndCheckRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n\n", orNone(req.Problem))
	fmt.Fprintf(&b, "Follow-up questions so far: %d\n", req.ProbeCount)
	fmt.Fprintf(&b, "Elapsed: %d minutes %d seconds\n", int(req.Elapsed.Minutes()), int(req.Elapsed.Seconds())%60)
	writeList(&b, "Most recent questions", req.RecentProbes)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for i, s := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, s)
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(not stated)"
	}
	return s
}
