package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// DefaultEndGrace is how long an ended stream waits for missing chunks
const DefaultEndGrace = 2 * time.Second

// ErrPipelineClosed is returned for chunks pushed after the audio was assembled
var ErrPipelineClosed = errors.New("audio pipeline already assembled")

// Config configures a per-session pipeline
type Config struct {
	Window        int
	FirstSequence uint32
	EndGrace      time.Duration
}

// DefaultConfig numbers chunks from 1
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, FirstSequence: DefaultFirstSequence, EndGrace: DefaultEndGrace}
}

// Assembled is the single audio unit handed to transcription
type Assembled struct {
	Audio      []byte
	Warnings   []domain.AudioWarning
	Incomplete bool
	Chunks     int
}

// Pipeline owns one session's reorder buffer and its end-of-stream grace timer.
// Exactly one Assembled value is produced, either returned from Push/End or
// delivered to onTimeout when the grace timer fires.
type Pipeline struct {
	mu        sync.Mutex
	r         *Reassembler
	grace     time.Duration
	timer     *time.Timer
	done      bool
	onTimeout func(Assembled)
}

// NewPipeline creates a pipeline; onTimeout runs on the timer goroutine
func NewPipeline(cfg Config, onTimeout func(Assembled)) *Pipeline {
	if cfg.EndGrace <= 0 {
		cfg.EndGrace = DefaultEndGrace
	}
	return &Pipeline{
		r:         NewReassembler(cfg.Window, cfg.FirstSequence),
		grace:     cfg.EndGrace,
		onTimeout: onTimeout,
	}
}

// Push buffers a chunk. When it completes a stream whose final chunk is known,
// the assembled audio is returned.
func (p *Pipeline) Push(chunk domain.AudioChunk) (PushResult, *Assembled, error) {
	if len(chunk.Payload) == 0 && !chunk.Final {
		return PushResult{}, nil, fmt.Errorf("%w: sequence %d", domain.ErrEmptyChunk, chunk.Sequence)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return PushResult{}, nil, ErrPipelineClosed
	}
	res := p.r.Push(chunk)
	if !p.r.HasFinal() {
		return res, nil, nil
	}
	if p.r.Complete() {
		return res, p.finish(false), nil
	}
	p.armTimer()
	return res, nil, nil
}

// End signals that the sender has no more chunks. The highest sequence seen is
// taken as final when no final chunk was sent. Returns the assembled audio if
// nothing is missing, otherwise the grace timer decides.
func (p *Pipeline) End() *Assembled {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil
	}
	p.r.DeclareFinal()
	if p.r.Complete() {
		return p.finish(false)
	}
	p.armTimer()
	return nil
}

// Waiting reports whether the grace timer is running
func (p *Pipeline) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil && !p.done
}

// Close stops the grace timer without producing audio
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *Pipeline) armTimer() {
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.grace, p.expire)
}

func (p *Pipeline) expire() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	assembled := p.finish(!p.r.Complete())
	p.mu.Unlock()

	if p.onTimeout != nil {
		p.onTimeout(*assembled)
	}
}

// finish must be called with mu held
func (p *Pipeline) finish(incomplete bool) *Assembled {
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}
	if incomplete {
		p.r.warn(domain.AudioWarningIncompleteAudio, p.r.next,
			fmt.Sprintf("end of stream timed out waiting for chunk %d; %d buffered chunks discarded", p.r.next, p.r.Pending()))
	}
	return &Assembled{
		Audio:      p.r.Bytes(),
		Warnings:   p.r.Warnings(),
		Incomplete: incomplete,
		Chunks:     p.r.Received(),
	}
}
