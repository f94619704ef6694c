// Package stream coalesces model output deltas into paced document events.
// A buffer sits between a generation backend and a transport: tiny deltas
// accumulate until a flush rule fires, then leave as one event.
package stream

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/okempf/inkstream/internal/protocol"
)

// Sink receives flushed events. Delivery is fire-and-forget; a sink must
// not call back into the buffer.
type Sink func(protocol.DocumentDelta)

// Fanout delivers every event to each sink in order.
func Fanout(sinks ...Sink) Sink {
	return func(event protocol.DocumentDelta) {
		for _, sink := range sinks {
			if sink != nil {
				sink(event)
			}
		}
	}
}

// Terminal and separator marks, CJK and Latin, that release a buffered
// sentence fragment as soon as they arrive.
const punctuationMarks = "，。！？；：、,.!?;:"

// Config tunes the flush policy. Values are trusted as given.
type Config struct {
	BufferTime         time.Duration
	MaxBufferSize      int
	FlushOnPunctuation bool
	FlushOnNewline     bool
	MaxWait            time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferTime:         200 * time.Millisecond,
		MaxBufferSize:      15,
		FlushOnPunctuation: true,
		FlushOnNewline:     true,
		MaxWait:            400 * time.Millisecond,
	}
}

type Option func(*Buffer)

func WithConfig(cfg Config) Option {
	return func(b *Buffer) { b.cfg = cfg }
}

func WithBufferTime(d time.Duration) Option {
	return func(b *Buffer) { b.cfg.BufferTime = d }
}

func WithMaxBufferSize(n int) Option {
	return func(b *Buffer) { b.cfg.MaxBufferSize = n }
}

func WithFlushOnPunctuation(on bool) Option {
	return func(b *Buffer) { b.cfg.FlushOnPunctuation = on }
}

func WithFlushOnNewline(on bool) Option {
	return func(b *Buffer) { b.cfg.FlushOnNewline = on }
}

func WithMaxWait(d time.Duration) Option {
	return func(b *Buffer) { b.cfg.MaxWait = d }
}

// WithObserver reports each flush with its trigger reason and the rune
// count it released.
func WithObserver(fn func(reason string, chars int)) Option {
	return func(b *Buffer) { b.observer = fn }
}

// Buffer accumulates content and reasoning text and emits one event per
// flush, stamping the base-event template with a per-buffer sequence
// number. Safe for concurrent use; the deferred flush runs on a timer
// goroutine.
type Buffer struct {
	mu       sync.Mutex
	sink     Sink
	base     protocol.DocumentDelta
	cfg      Config
	observer func(reason string, chars int)

	content   string
	reasoning string
	size      int
	seq       int
	lastFlush time.Time
	timer     *time.Timer
	timerGen  uint64
	destroyed bool
}

// New builds a buffer delivering to sink. A nil sink makes every Push a
// no-op. The base event is the metadata template merged into each flush.
func New(sink Sink, base protocol.DocumentDelta, opts ...Option) *Buffer {
	b := &Buffer{
		sink:      sink,
		base:      base,
		cfg:       DefaultConfig(),
		lastFlush: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends a delta and applies the flush rules in order: size cap,
// punctuation in the new content, newline in the new content, max wait
// exceeded; otherwise one deferred flush is scheduled. An already pending
// deferred flush is never extended.
func (b *Buffer) Push(content, reasoning string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil || b.destroyed {
		return
	}
	if content == "" && reasoning == "" {
		return
	}
	b.content += content
	b.reasoning += reasoning
	b.size += utf8.RuneCountInString(content) + utf8.RuneCountInString(reasoning)

	switch {
	case b.size >= b.cfg.MaxBufferSize:
		b.flushLocked("size")
	case b.cfg.FlushOnPunctuation && strings.ContainsAny(content, punctuationMarks):
		b.flushLocked("punctuation")
	case b.cfg.FlushOnNewline && strings.Contains(content, "\n"):
		b.flushLocked("newline")
	case time.Since(b.lastFlush) >= b.cfg.MaxWait:
		b.flushLocked("max_wait")
	default:
		b.scheduleLocked()
	}
}

// Flush forces out whatever is buffered. Empty buffers emit nothing.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.flushLocked("manual")
}

// UpdateBase merges metadata into the template used by future flushes.
func (b *Buffer) UpdateBase(apply func(*protocol.DocumentDelta)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if apply != nil {
		apply(&b.base)
	}
}

// Destroy flushes trailing content and releases the timer. The buffer is
// inert afterwards; repeated calls do nothing.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.flushLocked("destroy")
	b.cancelTimerLocked()
	b.destroyed = true
}

// Len reports the buffered rune count across both accumulators.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// TimerPending reports whether a deferred flush is scheduled.
func (b *Buffer) TimerPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

func (b *Buffer) flushLocked(reason string) {
	b.cancelTimerLocked()
	if b.content == "" && b.reasoning == "" {
		return
	}
	event := b.base
	event.Type = protocol.TypeDocumentDelta
	event.Seq = b.seq
	event.Content = b.content
	event.ReasoningContent = b.reasoning
	b.seq++
	chars := b.size
	b.content = ""
	b.reasoning = ""
	b.size = 0
	b.lastFlush = time.Now()
	if b.observer != nil {
		b.observer(reason, chars)
	}
	b.sink(event)
}

func (b *Buffer) scheduleLocked() {
	if b.timer != nil {
		return
	}
	b.timerGen++
	gen := b.timerGen
	b.timer = time.AfterFunc(b.cfg.BufferTime, func() {
		b.deferredFlush(gen)
	})
}

func (b *Buffer) deferredFlush(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// a manual flush may have won the race after the timer fired
	if b.destroyed || b.timer == nil || gen != b.timerGen {
		return
	}
	b.timer = nil
	b.flushLocked("timer")
}

func (b *Buffer) cancelTimerLocked() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	b.timer = nil
	b.timerGen++
}
