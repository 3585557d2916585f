package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	// Used when the format tag is not recognised.
	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz: 16000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "en-US", "id-ID"
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, format, language string) (string, float64, error) {
	if language == "" {
		language = "en-US"
	}
	enc, rate := g.encodingFor(format)

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			SampleRateHertz:            rate,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	// results are consecutive segments; keep the best alternative of each
	var parts []string
	var conf float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 || r.Alternatives[0].Transcript == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		conf += float64(r.Alternatives[0].Confidence)
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), conf / float64(len(parts)), nil
}

// TranscribeURI runs a long-running recognition over a stored recording and
// waits for it.
func (g *GoogleSpeech) TranscribeURI(ctx context.Context, uri, format, language string) (string, error) {
	if language == "" {
		language = "en-US"
	}
	enc, rate := g.encodingFor(format)

	op, err := g.c.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			SampleRateHertz:            rate,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri},
		},
	})
	if err != nil {
		return "", err
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	return strings.Join(parts, " "), nil
}

// encodingFor maps a media type to a recognizer encoding. Opus in WebM/Ogg
// comes from browsers at 48 kHz.
func (g *GoogleSpeech) encodingFor(format string) (speechpb.RecognitionConfig_AudioEncoding, int32) {
	f := strings.ToLower(format)
	switch {
	case strings.HasPrefix(f, "audio/webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000
	case strings.HasPrefix(f, "audio/ogg"):
		return speechpb.RecognitionConfig_OGG_OPUS, 48000
	case strings.HasPrefix(f, "audio/flac"):
		return speechpb.RecognitionConfig_FLAC, 0
	case strings.HasPrefix(f, "audio/l16"), strings.HasPrefix(f, "audio/wav"), strings.HasPrefix(f, "audio/x-wav"):
		return speechpb.RecognitionConfig_LINEAR16, g.SampleRateHz
	}
	return g.Encoding, g.SampleRateHz
}
