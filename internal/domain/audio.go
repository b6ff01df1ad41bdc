package domain

import "time"

// AudioChunk is one framed piece of a streamed answer
type AudioChunk struct {
	Sequence uint32
	Payload  []byte
	Final    bool
}

// AudioWarningKind names a non-fatal ingestion problem
type AudioWarningKind string

const (
	AudioWarningSequenceGap     AudioWarningKind = "SequenceGapError"
	AudioWarningIncompleteAudio AudioWarningKind = "IncompleteAudio"
)

// Code maps the warning to its error code
func (k AudioWarningKind) Code() string {
	if k == AudioWarningIncompleteAudio {
		return ErrCodeIncompleteAudio
	}
	return ErrCodeSequenceGap
}

// AudioWarning is recorded on the session without failing it
type AudioWarning struct {
	Kind     AudioWarningKind
	Sequence uint32
	Message  string
	At       time.Time
}
