package audio

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// Defaults for the reorder buffer
const (
	DefaultWindow        = 64
	DefaultFirstSequence = 1
)

// PushResult describes what happened to one chunk
type PushResult struct {
	Accepted  bool
	Duplicate bool
	Warnings  []domain.AudioWarning
}

type gap struct {
	from, to uint32 // inclusive
}

// Reassembler rebuilds an ordered byte stream from reordered, duplicated chunks.
// It is not safe for concurrent use.
type Reassembler struct {
	window   uint32
	first    uint32
	next     uint32
	highest  uint32
	seen     bool
	pending  map[uint32][]byte
	gaps     []gap
	out      bytes.Buffer
	final    uint32
	hasFinal bool
	now      func() time.Time

	warnings []domain.AudioWarning
	received int

	// set once sequence MaxUint32 was delivered; next cannot move past it
	exhausted bool
}

// NewReassembler creates a reorder buffer expecting firstSequence next
func NewReassembler(window int, firstSequence uint32) *Reassembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reassembler{
		window:  uint32(window),
		first:   firstSequence,
		next:    firstSequence,
		pending: make(map[uint32][]byte),
		now:     time.Now,
	}
}

// Push adds a chunk to the buffer
func (r *Reassembler) Push(chunk domain.AudioChunk) PushResult {
	seq := chunk.Sequence
	r.received++

	if r.hasFinal && seq > r.final {
		return r.drop(seq, fmt.Sprintf("chunk %d is past the final chunk %d", seq, r.final))
	}
	if seq < r.first {
		return r.drop(seq, fmt.Sprintf("chunk %d is before the first sequence %d", seq, r.first))
	}
	if r.exhausted || seq < r.next {
		if r.inGap(seq) {
			return r.drop(seq, fmt.Sprintf("chunk %d arrived after its window closed", seq))
		}
		return PushResult{Duplicate: true}
	}
	if _, dup := r.pending[seq]; dup {
		return PushResult{Duplicate: true}
	}

	var warnings []domain.AudioWarning
	if chunk.Final && !r.hasFinal {
		r.final = seq
		r.hasFinal = true
		warnings = r.discardPast(seq)
	}
	if !r.seen || seq > r.highest {
		r.highest = seq
		r.seen = true
	}
	r.pending[seq] = chunk.Payload

	if seq-r.next >= r.window {
		warnings = append(warnings, r.slide(seq-r.window+1)...)
	}
	r.drain()
	return PushResult{Accepted: true, Warnings: warnings}
}

// Complete reports whether every chunk up to the declared final one was delivered
func (r *Reassembler) Complete() bool {
	return r.hasFinal && (!r.seen || r.exhausted || r.next > r.final)
}

// HasFinal reports whether a final chunk was seen
func (r *Reassembler) HasFinal() bool {
	return r.hasFinal
}

// DeclareFinal marks the highest sequence seen so far as final. It is used when
// the stream is ended explicitly without a final-flagged chunk.
func (r *Reassembler) DeclareFinal() {
	if r.hasFinal {
		return
	}
	r.hasFinal = true
	r.final = r.highest
}

// Bytes returns the contiguous prefix assembled so far
func (r *Reassembler) Bytes() []byte {
	return append([]byte(nil), r.out.Bytes()...)
}

// Warnings returns every warning recorded so far
func (r *Reassembler) Warnings() []domain.AudioWarning {
	return append([]domain.AudioWarning(nil), r.warnings...)
}

// Pending returns the number of buffered, undelivered chunks
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Received returns the number of pushed chunks, duplicates included
func (r *Reassembler) Received() int {
	return r.received
}

func (r *Reassembler) drain() {
	for {
		payload, ok := r.pending[r.next]
		if !ok {
			return
		}
		r.out.Write(payload)
		delete(r.pending, r.next)
		if r.next == math.MaxUint32 {
			r.exhausted = true
			return
		}
		r.next++
	}
}

// slide moves the window start to newNext, flushing buffered chunks in order and
// declaring every missing sequence below newNext a gap.
func (r *Reassembler) slide(newNext uint32) []domain.AudioWarning {
	var below []uint32
	for seq := range r.pending {
		if seq < newNext {
			below = append(below, seq)
		}
	}
	sort.Slice(below, func(i, j int) bool { return below[i] < below[j] })

	var warnings []domain.AudioWarning
	for _, seq := range below {
		if seq > r.next {
			warnings = append(warnings, r.markGap(r.next, seq-1))
		}
		r.out.Write(r.pending[seq])
		delete(r.pending, seq)
		r.next = seq + 1
	}
	if r.next < newNext {
		warnings = append(warnings, r.markGap(r.next, newNext-1))
		r.next = newNext
	}
	return warnings
}

func (r *Reassembler) markGap(from, to uint32) domain.AudioWarning {
	r.gaps = append(r.gaps, gap{from: from, to: to})
	msg := fmt.Sprintf("chunk %d missing", from)
	if to > from {
		msg = fmt.Sprintf("chunks %d-%d missing", from, to)
	}
	return r.warn(domain.AudioWarningSequenceGap, from, msg)
}

func (r *Reassembler) inGap(seq uint32) bool {
	for _, g := range r.gaps {
		if seq >= g.from && seq <= g.to {
			return true
		}
	}
	return false
}

func (r *Reassembler) discardPast(final uint32) []domain.AudioWarning {
	var warnings []domain.AudioWarning
	for seq := range r.pending {
		if seq > final {
			delete(r.pending, seq)
			warnings = append(warnings, r.warn(domain.AudioWarningSequenceGap, seq,
				fmt.Sprintf("chunk %d is past the final chunk %d", seq, final)))
		}
	}
	return warnings
}

func (r *Reassembler) drop(seq uint32, msg string) PushResult {
	return PushResult{Warnings: []domain.AudioWarning{r.warn(domain.AudioWarningSequenceGap, seq, msg)}}
}

func (r *Reassembler) warn(kind domain.AudioWarningKind, seq uint32, msg string) domain.AudioWarning {
	w := domain.AudioWarning{Kind: kind, Sequence: seq, Message: msg, At: r.now()}
	r.warnings = append(r.warnings, w)
	return w
}
