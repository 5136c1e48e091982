package traits

import (
	"context"
	"iter"
	"slices"

	"github.com/goliatone/go-traits/pkg/observe"
)

// defaultSkipBelow is the length at or below which progress wrapping is
// bypassed.
const defaultSkipBelow = 3

// ProgressReporter renders progress for one wrapped iteration. Start is
// called each time the sequence begins iterating, Done when iteration stops,
// including early breaks.
type ProgressReporter interface {
	Start(label string, total int)
	Advance(n int)
	Done()
}

// ProgressReporting adds opt-in progress decoration to any type that embeds
// it. The zero value bypasses wrapping entirely: without a reporter the
// wrapped sequence is returned unchanged, zero overhead.
type ProgressReporting struct {
	reporter ProgressReporter
	disabled bool
	skip     *int
	emitter  *observe.Emitter
}

// SetReporter installs the reporter used for wrapped iterations.
func (p *ProgressReporting) SetReporter(reporter ProgressReporter) {
	p.reporter = reporter
}

// DisableProgress bypasses wrapping regardless of reporter or length.
func (p *ProgressReporting) DisableProgress() {
	p.disabled = true
}

// EnableProgress re-enables wrapping after DisableProgress.
func (p *ProgressReporting) EnableProgress() {
	p.disabled = false
}

// SetSkipBelow sets the length at or below which wrapping is bypassed.
func (p *ProgressReporting) SetSkipBelow(n int) {
	p.skip = &n
}

// Observe routes progress events through emitter.
func (p *ProgressReporting) Observe(emitter *observe.Emitter) {
	p.emitter = emitter
}

func (p *ProgressReporting) skipBelow() int {
	if p.skip == nil {
		return defaultSkipBelow
	}
	return *p.skip
}

// Progress wraps items with progress reporting. The returned sequence is
// lazy and restartable exactly as often as a plain slice iteration.
func Progress[T any](p *ProgressReporting, label string, items []T) iter.Seq[T] {
	return ProgressSeq(p, label, len(items), slices.Values(items))
}

// ProgressSeq wraps seq, announcing total items under label. The wrapping is
// bypassed, returning seq unchanged, when reporting is disabled, no reporter
// is installed, or total is at or below the skip threshold. Nothing is
// consumed from seq until the returned sequence is iterated.
func ProgressSeq[T any](p *ProgressReporting, label string, total int, seq iter.Seq[T]) iter.Seq[T] {
	if p == nil || p.disabled || p.reporter == nil || total <= p.skipBelow() {
		return seq
	}
	reporter := p.reporter
	return func(yield func(T) bool) {
		reporter.Start(label, total)
		defer reporter.Done()
		p.emitProgress(observe.VerbProgressStarted, label, total)
		defer p.emitProgress(observe.VerbProgressDone, label, total)
		for value := range seq {
			if !yield(value) {
				return
			}
			reporter.Advance(1)
		}
	}
}

func (p *ProgressReporting) emitProgress(verb, label string, total int) {
	if !p.emitter.Enabled() {
		return
	}
	_ = p.emitter.Emit(context.Background(), observe.Event{
		Verb:     verb,
		Trait:    "progress",
		Key:      label,
		Metadata: map[string]any{"total": total},
	})
}
