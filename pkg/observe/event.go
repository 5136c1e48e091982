package observe

import (
	"strings"
	"time"
)

// Verbs emitted by the capability traits. Hooks can filter on these without
// coupling to trait internals.
const (
	VerbSeedApplied     = "seed.applied"
	VerbTimerRecorded   = "timer.recorded"
	VerbVariantSwitched = "variant.switched"
	VerbVariantStored   = "variant.stored"
	VerbSnapshotSaved   = "snapshot.saved"
	VerbSnapshotLoaded  = "snapshot.loaded"
	VerbProgressStarted = "progress.started"
	VerbProgressDone    = "progress.done"
)

// Event describes one capability occurrence that can be fanned out to hooks.
type Event struct {
	Verb       string
	Trait      string
	Key        string
	Channel    string
	Duration   time.Duration
	Metadata   map[string]any
	OccurredAt time.Time
}

// NormalizeEvent trims identifiers, clones metadata, and ensures a timestamp
// is present.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Verb = strings.TrimSpace(event.Verb)
	normalized.Trait = strings.TrimSpace(event.Trait)
	normalized.Key = strings.TrimSpace(event.Key)
	normalized.Channel = strings.TrimSpace(event.Channel)
	normalized.Metadata = cloneMap(event.Metadata)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
