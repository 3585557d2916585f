package stt

import "context"

type Provider interface {
	// format is the container/codec tag of audio, ex: "audio/webm;codecs=opus".
	Transcribe(ctx context.Context, audio []byte, format, language string) (text string, confidence float64, err error)
	Close() error
}

// BatchProvider transcribes a whole stored recording, ex: gs://bucket/object.
type BatchProvider interface {
	TranscribeURI(ctx context.Context, uri, format, language string) (text string, err error)
}
