package storage

import (
	"context"
	"fmt"
	"mime"
	"strings"
)

// ObjectWriter is the part of S3Client the archive needs
type ObjectWriter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte, metadata map[string]string) error
}

// AudioArchive stores reassembled answers in object storage
type AudioArchive struct {
	objects ObjectWriter
	prefix  string
}

// NewAudioArchive creates an archive writing under prefix (default "sessions")
func NewAudioArchive(objects ObjectWriter, prefix string) *AudioArchive {
	if prefix == "" {
		prefix = "sessions"
	}
	return &AudioArchive{objects: objects, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a session's answer
func (a *AudioArchive) Key(sessionID, format string) string {
	return fmt.Sprintf("%s/%s/answer.%s", a.prefix, sessionID, format)
}

// Store uploads audio and returns its object key
func (a *AudioArchive) Store(ctx context.Context, sessionID, format string, audio []byte) (string, error) {
	key := a.Key(sessionID, format)
	metadata := map[string]string{"session-id": sessionID, "audio-format": format}
	if err := a.objects.PutObject(ctx, key, contentType(format), audio, metadata); err != nil {
		return "", fmt.Errorf("archive audio for session %s: %w", sessionID, err)
	}
	return key, nil
}

func contentType(format string) string {
	if t := mime.TypeByExtension("." + format); t != "" {
		return t
	}
	return "audio/" + format
}
