package traits

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTimeAsRecordsOneSamplePerCall(t *testing.T) {
	tm := &Timeable{}
	for i := 0; i < 3; i++ {
		err := tm.TimeAs("fit", func() error {
			time.Sleep(time.Millisecond)
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	profile, err := tm.Profile("fit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Count != 3 {
		t.Fatalf("expected 3 samples, got %d", profile.Count)
	}
	for _, sample := range tm.Durations("fit") {
		if sample < 0 {
			t.Fatalf("expected non-negative samples, got %v", sample)
		}
	}
	if profile.Min > profile.Mean || profile.Mean > profile.Max {
		t.Fatalf("expected Min <= Mean <= Max, got %+v", profile)
	}
	var total time.Duration
	for _, sample := range tm.Durations("fit") {
		total += sample
	}
	if total != profile.Total {
		t.Fatalf("expected Total %v to equal sum of samples %v", profile.Total, total)
	}
}

func TestTimeAsPropagatesErrorsAfterRecording(t *testing.T) {
	tm := &Timeable{}
	boom := errors.New("transform failed")

	err := tm.TimeAs("transform", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped method error unchanged, got %v", err)
	}
	profile, err := tm.Profile("transform")
	if err != nil {
		t.Fatalf("expected sample recorded despite failure: %v", err)
	}
	if profile.Count != 1 {
		t.Fatalf("expected exactly one sample, got %d", profile.Count)
	}
}

func TestTimeAsRecordsOnPanic(t *testing.T) {
	tm := &Timeable{}
	func() {
		defer func() { _ = recover() }()
		_ = tm.TimeAs("explode", func() error { panic("boom") })
	}()

	profile, err := tm.Profile("explode")
	if err != nil {
		t.Fatalf("expected sample recorded despite panic: %v", err)
	}
	if profile.Count != 1 {
		t.Fatalf("expected exactly one sample, got %d", profile.Count)
	}
}

func TestProfileUnknownKey(t *testing.T) {
	tm := &Timeable{}
	if _, err := tm.Profile("never"); !errors.Is(err, ErrTimerNotRecorded) {
		t.Fatalf("expected ErrTimerNotRecorded, got %v", err)
	}
}

func TestStartTimerTimesBlocks(t *testing.T) {
	tm := &Timeable{}
	func() {
		defer tm.StartTimer("rebuild")()
		time.Sleep(time.Millisecond)
	}()

	profile, err := tm.Profile("rebuild")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Count != 1 || profile.Total <= 0 {
		t.Fatalf("expected one positive sample, got %+v", profile)
	}
}

func TestTimedResultReturnsValue(t *testing.T) {
	tm := &Timeable{}
	value, err := TimedResult(tm, "compute", func() (string, error) {
		return "done", nil
	})
	if err != nil || value != "done" {
		t.Fatalf("expected (done, nil), got (%q, %v)", value, err)
	}
}

func TestProfileDurationsCoversAllKeys(t *testing.T) {
	tm := &Timeable{}
	_ = tm.TimeAs("alpha", func() error { return nil })
	_ = tm.TimeAs("beta", func() error { return nil })
	_ = tm.TimeAs("alpha", func() error { return nil })

	profiles := tm.ProfileDurations()
	if len(profiles) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(profiles))
	}
	if profiles["alpha"].Count != 2 || profiles["beta"].Count != 1 {
		t.Fatalf("unexpected counts: %+v", profiles)
	}
}

func TestFormatDurationsListsEveryKey(t *testing.T) {
	tm := &Timeable{}
	_ = tm.TimeAs("fit", func() error { return nil })
	_ = tm.TimeAs("fit", func() error { return nil })
	_ = tm.TimeAs("predict", func() error { return nil })

	report := tm.FormatDurations()
	if !strings.Contains(report, "fit:") || !strings.Contains(report, "predict:") {
		t.Fatalf("expected report to mention both keys, got %q", report)
	}
	if !strings.Contains(report, "(x2)") {
		t.Fatalf("expected repeat count marker, got %q", report)
	}
}

func TestFormatSecondsPromotesUnits(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0.0000015, "1.5 µs"},
		{0.0015, "1.5 ms"},
		{1.5, "1.5 sec"},
		{90, "1.5 min"},
		{3 * 3600, "3.0 hour"},
	}
	for _, tc := range cases {
		if got := formatSeconds(tc.seconds); got != tc.want {
			t.Fatalf("formatSeconds(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
