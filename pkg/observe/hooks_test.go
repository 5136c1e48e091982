package observe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHooksNotifyFansOut(t *testing.T) {
	var seen []Event
	hooks := Hooks{
		HookFunc(func(_ context.Context, event Event) error {
			seen = append(seen, event)
			return nil
		}),
		nil,
		HookFunc(func(_ context.Context, event Event) error {
			seen = append(seen, event)
			return nil
		}),
	}

	err := hooks.Notify(context.Background(), Event{Verb: VerbSeedApplied, Trait: "seedable", Key: "fit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(seen))
	}
	if seen[0].OccurredAt.IsZero() {
		t.Fatalf("expected normalization to stamp OccurredAt")
	}
}

func TestHooksNotifyJoinsErrors(t *testing.T) {
	failA := errors.New("sink a down")
	failB := errors.New("sink b down")
	hooks := Hooks{
		HookFunc(func(context.Context, Event) error { return failA }),
		HookFunc(func(context.Context, Event) error { return failB }),
	}

	err := hooks.Notify(nil, Event{Verb: VerbTimerRecorded, Trait: "timeable"})
	if !errors.Is(err, failA) || !errors.Is(err, failB) {
		t.Fatalf("expected both hook errors joined, got %v", err)
	}
}

func TestHooksNotifySkipsIncompleteEvents(t *testing.T) {
	delivered := 0
	hooks := Hooks{HookFunc(func(context.Context, Event) error {
		delivered++
		return nil
	})}

	if err := hooks.Notify(context.Background(), Event{Verb: "  ", Trait: "seedable"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := hooks.Notify(context.Background(), Event{Verb: VerbSeedApplied}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected no deliveries for incomplete events, got %d", delivered)
	}
}

func TestNormalizeEventClonesMetadata(t *testing.T) {
	metadata := map[string]any{"seed": int64(42)}
	event := NormalizeEvent(Event{Verb: VerbSeedApplied, Trait: "seedable", Metadata: metadata})

	metadata["seed"] = int64(7)
	if event.Metadata["seed"] != int64(42) {
		t.Fatalf("expected metadata copy to remain 42, got %v", event.Metadata["seed"])
	}
}

func TestEmitterAppliesDefaults(t *testing.T) {
	var got Event
	hooks := Hooks{HookFunc(func(_ context.Context, event Event) error {
		got = event
		return nil
	})}

	emitter := NewEmitter(hooks, Config{Enabled: true})
	if !emitter.Enabled() {
		t.Fatalf("expected emitter to be enabled")
	}

	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := emitter.Emit(context.Background(), Event{Verb: VerbVariantSwitched, Trait: "swapcache", OccurredAt: at}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Channel != "traits" {
		t.Fatalf("expected default channel, got %q", got.Channel)
	}
	if !got.OccurredAt.Equal(at) {
		t.Fatalf("expected supplied timestamp preserved, got %v", got.OccurredAt)
	}
}

func TestEmitterDisabledIsNoop(t *testing.T) {
	delivered := 0
	hooks := Hooks{HookFunc(func(context.Context, Event) error {
		delivered++
		return nil
	})}

	emitter := NewEmitter(hooks, Config{Enabled: false})
	if emitter.Enabled() {
		t.Fatalf("expected emitter disabled")
	}
	if err := emitter.Emit(context.Background(), Event{Verb: VerbSnapshotSaved, Trait: "saveable"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}

	var nilEmitter *Emitter
	if nilEmitter.Enabled() {
		t.Fatalf("nil emitter should report disabled")
	}
}
