package storage

import (
	"context"
	"io"
	"strings"
)

type Uploader interface {
	// Upload stores r under objectName and returns where it can be fetched.
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (Object, error)
}

type Object struct {
	Name string
	// URI is the bucket-native address, ex: gs://bucket/name.
	URI string
	// URL is set when the object is publicly readable.
	URL string
}

// AudioObjectName is where a session's full recording is kept.
func AudioObjectName(sessionID, format string) string {
	return "sessions/" + sessionID + "/audio." + Extension(format)
}

// Extension picks a file extension for an audio media type.
func Extension(format string) string {
	base, _, _ := strings.Cut(strings.ToLower(format), ";")
	switch strings.TrimSpace(base) {
	case "audio/ogg":
		return "ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/flac":
		return "flac"
	case "audio/mp4", "audio/aac":
		return "m4a"
	default:
		return "webm"
	}
}
