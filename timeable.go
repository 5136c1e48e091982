package traits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-traits/pkg/observe"
)

// ErrTimerNotRecorded indicates a profile request for a key that never
// recorded a sample.
var ErrTimerNotRecorded = errors.New("traits: timer key not recorded")

// Timeable adds wall-clock profiling to any type that embeds it. The zero
// value is ready to use; the timing log is created lazily and is append-only
// per key for the lifetime of the instance.
//
// Like the other capability traits, a Timeable instance is not safe for
// concurrent use.
type Timeable struct {
	timings map[string][]time.Duration
	order   []string
	emitter *observe.Emitter
}

// Profile summarizes the samples recorded under one timer key.
type Profile struct {
	Count int
	Total time.Duration
	Mean  time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Observe routes timing events through emitter.
func (t *Timeable) Observe(emitter *observe.Emitter) {
	t.emitter = emitter
}

// TimeAs runs fn and records its wall-clock duration under key. The sample is
// recorded on every exit path, including when fn fails or panics, and fn's
// error passes through unchanged.
func (t *Timeable) TimeAs(key string, fn func() error) error {
	defer t.StartTimer(key)()
	return fn()
}

// TimedResult is TimeAs for value-returning methods.
func TimedResult[T any](t *Timeable, key string, fn func() (T, error)) (T, error) {
	defer t.StartTimer(key)()
	return fn()
}

// StartTimer begins timing a named block and returns the function that stops
// it and records the sample. Intended for deferred use:
//
//	defer t.StartTimer("rebuild")()
func (t *Timeable) StartTimer(key string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		if elapsed < 0 {
			elapsed = 0
		}
		t.record(key, elapsed)
	}
}

// Profile reports the recorded samples for key.
func (t *Timeable) Profile(key string) (Profile, error) {
	samples, ok := t.timings[key]
	if !ok || len(samples) == 0 {
		return Profile{}, fmt.Errorf("%w: %q", ErrTimerNotRecorded, key)
	}
	profile := Profile{Count: len(samples), Min: samples[0], Max: samples[0]}
	for _, sample := range samples {
		profile.Total += sample
		if sample < profile.Min {
			profile.Min = sample
		}
		if sample > profile.Max {
			profile.Max = sample
		}
	}
	profile.Mean = profile.Total / time.Duration(profile.Count)
	return profile, nil
}

// ProfileDurations reports every recorded key, in first-use order of keys.
func (t *Timeable) ProfileDurations() map[string]Profile {
	out := make(map[string]Profile, len(t.timings))
	for _, key := range t.order {
		if profile, err := t.Profile(key); err == nil {
			out[key] = profile
		}
	}
	return out
}

// Durations returns a copy of the raw samples recorded under key.
func (t *Timeable) Durations(key string) []time.Duration {
	samples := t.timings[key]
	if len(samples) == 0 {
		return nil
	}
	out := make([]time.Duration, len(samples))
	copy(out, samples)
	return out
}

// FormatDurations renders a human-readable profiling report, one key per
// line, ordered by total time spent ascending.
func (t *Timeable) FormatDurations() string {
	keys := make([]string, 0, len(t.order))
	longest := 0
	for _, key := range t.order {
		keys = append(keys, key)
		if len(key) > longest {
			longest = len(key)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		pi, _ := t.Profile(keys[i])
		pj, _ := t.Profile(keys[j])
		return pi.Total < pj.Total
	})

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		profile, err := t.Profile(key)
		if err != nil {
			continue
		}
		entry := fmt.Sprintf("%s:%s %s", key, strings.Repeat(" ", longest-len(key)), formatSeconds(profile.Mean.Seconds()))
		if profile.Count > 1 {
			entry += fmt.Sprintf(" (x%d)", profile.Count)
		}
		lines = append(lines, entry)
	}
	return strings.Join(lines, "\n")
}

func (t *Timeable) record(key string, elapsed time.Duration) {
	if t.timings == nil {
		t.timings = map[string][]time.Duration{}
	}
	if _, seen := t.timings[key]; !seen {
		t.order = append(t.order, key)
	}
	t.timings[key] = append(t.timings[key], elapsed)

	if t.emitter.Enabled() {
		_ = t.emitter.Emit(context.Background(), observe.Event{
			Verb:     observe.VerbTimerRecorded,
			Trait:    "timeable",
			Key:      key,
			Duration: elapsed,
			Metadata: map[string]any{"samples": len(t.timings[key])},
		})
	}
}

// durationUnits is the promotion ladder used when rendering durations: a
// value is expressed in the largest unit that keeps it below the next cutoff.
var durationUnits = []struct {
	cutoff float64
	unit   string
}{
	{1000, "µs"},
	{1000, "ms"},
	{60, "sec"},
	{60, "min"},
	{24, "hour"},
	{7, "days"},
	{0, "weeks"},
}

func formatSeconds(seconds float64) string {
	value := seconds * 1e6
	for _, step := range durationUnits {
		if step.cutoff == 0 || value < step.cutoff {
			return fmt.Sprintf("%.1f %s", value, step.unit)
		}
		value /= step.cutoff
	}
	return fmt.Sprintf("%.1f weeks", value)
}
