package llm

import (
	"context"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/yoockh/thinkprobe/internal/observer"
	"github.com/yoockh/thinkprobe/internal/utils"
)

var _ observer.GapAnalyzer = (*VertexGemini)(nil)

// VertexGemini scores raw audio directly and doubles as a text Completer.
type VertexGemini struct {
	client *vertexgenai.Client
	audio  *vertexgenai.GenerativeModel
	text   *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	audio := c.GenerativeModel(modelName)
	audio.ResponseMIMEType = "application/json"
	audio.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(gapSystem)}}
	audio.SetTemperature(0.2)

	text := c.GenerativeModel(modelName)
	text.SetTemperature(0.7)

	return &VertexGemini{client: c, audio: audio, text: text}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) AnalyzeGap(ctx context.Context, req observer.GapRequest) (observer.GapAnalysis, error) {
	const op = "VertexGemini.AnalyzeGap"

	resp, err := v.audio.GenerateContent(ctx,
		vertexgenai.Blob{MIMEType: audioMIME(req.Format), Data: req.Audio},
		vertexgenai.Text(gapPrompt(req.Problem)),
	)
	if err != nil {
		return observer.GapAnalysis{}, utils.E(utils.CodeUnavailable, op, "gemini call failed", err)
	}

	var g observer.GapAnalysis
	if err := decodeJSON(responseText(resp), &g); err != nil {
		return observer.GapAnalysis{}, utils.E(utils.CodeInternal, op, "unreadable gap analysis", err)
	}
	return g, nil
}

// Complete streams the reply and joins the chunks.
func (v *VertexGemini) Complete(ctx context.Context, system, user string) (string, error) {
	it := v.text.GenerateContentStream(ctx,
		vertexgenai.Text(system),
		vertexgenai.Text(user),
	)

	var b strings.Builder
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(responseText(resp))
	}
	return b.String(), nil
}

func responseText(resp *vertexgenai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String()
}

// audioMIME drops codec parameters; the model only wants the container type.
func audioMIME(format string) string {
	base, _, _ := strings.Cut(format, ";")
	base = strings.TrimSpace(base)
	if base == "" {
		return "audio/webm"
	}
	return base
}
