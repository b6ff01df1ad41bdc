package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// Binary frame layout: [sequence uint32 big-endian][flags uint8][payload]
const (
	frameHeaderSize = 5
	flagFinal       = 0x01
)

// DecodeFrame parses a binary websocket frame into a chunk
func DecodeFrame(frame []byte) (domain.AudioChunk, error) {
	if len(frame) < frameHeaderSize {
		return domain.AudioChunk{}, fmt.Errorf("%w: %d bytes", domain.ErrMalformedFrame, len(frame))
	}
	flags := frame[4]
	if flags&^flagFinal != 0 {
		return domain.AudioChunk{}, fmt.Errorf("%w: unknown flags %#x", domain.ErrMalformedFrame, flags)
	}
	return domain.AudioChunk{
		Sequence: binary.BigEndian.Uint32(frame[:4]),
		Final:    flags&flagFinal != 0,
		Payload:  append([]byte(nil), frame[frameHeaderSize:]...),
	}, nil
}

// EncodeFrame is the inverse of DecodeFrame
func EncodeFrame(chunk domain.AudioChunk) []byte {
	frame := make([]byte, frameHeaderSize+len(chunk.Payload))
	binary.BigEndian.PutUint32(frame[:4], chunk.Sequence)
	if chunk.Final {
		frame[4] = flagFinal
	}
	copy(frame[frameHeaderSize:], chunk.Payload)
	return frame
}

// Split cuts audio into chunks of at most size bytes numbered from first. The
// last chunk carries the final flag.
func Split(data []byte, size int, first uint32) []domain.AudioChunk {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([]domain.AudioChunk, 0, (len(data)+size-1)/size)
	seq := first
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		chunks = append(chunks, domain.AudioChunk{Sequence: seq, Payload: data[off:end]})
		seq++
	}
	chunks[len(chunks)-1].Final = true
	return chunks
}
