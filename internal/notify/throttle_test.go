package notify

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/group"
)

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		MinSeverity: string(group.SevMedium),
		Cooldown:    config.Duration{Duration: 30 * time.Minute},
		Milestones:  []int64{10, 50, 100, 1000},
	}
}

func TestSeverityFloor(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	if th.ShouldNotify("fp-low", group.SevLow) {
		t.Error("low severity should not clear a medium floor")
	}
	if !th.ShouldNotify("fp-med", group.SevMedium) {
		t.Error("medium severity should clear a medium floor")
	}
	if !th.ShouldNotify("fp-crit", group.SevCritical) {
		t.Error("critical severity should clear a medium floor")
	}
}

func TestSeverityFloorUnsetAllowsAll(t *testing.T) {
	cfg := testNotifyConfig()
	cfg.MinSeverity = ""
	th := NewThrottler(cfg, nil)
	if !th.SeverityMeetsMinimum(group.SevLow) {
		t.Error("no floor configured should allow everything")
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	if !th.ShouldNotify("fp-a", group.SevHigh) {
		t.Fatal("first alert should fire")
	}
	if th.ShouldNotify("fp-a", group.SevHigh) {
		t.Error("repeat within cooldown should be suppressed")
	}
	// Independent keys are unaffected.
	if !th.ShouldNotify("fp-b", group.SevHigh) {
		t.Error("different key should fire")
	}
}

func TestCooldownExpires(t *testing.T) {
	cfg := testNotifyConfig()
	cfg.Cooldown = config.Duration{Duration: 10 * time.Millisecond}
	th := NewThrottler(cfg, nil)

	if !th.ShouldNotify("fp-a", group.SevHigh) {
		t.Fatal("first alert should fire")
	}
	time.Sleep(30 * time.Millisecond)
	if !th.ShouldNotify("fp-a", group.SevHigh) {
		t.Error("alert after cooldown expiry should fire")
	}
}

func TestShouldNotifyConcurrent(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	const n = 50
	var wg sync.WaitGroup
	fired := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired <- th.ShouldNotify("fp-race", group.SevHigh)
		}()
	}
	wg.Wait()
	close(fired)

	count := 0
	for f := range fired {
		if f {
			count++
		}
	}
	if count != 1 {
		t.Errorf("%d concurrent callers passed, want exactly 1", count)
	}
}

func TestMilestoneFiresOnce(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	if got := th.MilestoneCrossed("g-1", 9); got != 0 {
		t.Errorf("count 9: crossed %d, want 0", got)
	}
	if got := th.MilestoneCrossed("g-1", 10); got != 10 {
		t.Errorf("count 10: crossed %d, want 10", got)
	}
	if got := th.MilestoneCrossed("g-1", 11); got != 0 {
		t.Errorf("count 11: crossed %d, want 0 (already fired)", got)
	}
	if got := th.MilestoneCrossed("g-1", 50); got != 50 {
		t.Errorf("count 50: crossed %d, want 50", got)
	}
}

func TestMilestoneJumpConsumesEarlier(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	// A burst can jump straight past several milestones; only the highest
	// fires and the skipped ones stay quiet.
	if got := th.MilestoneCrossed("g-1", 120); got != 100 {
		t.Errorf("count 120: crossed %d, want 100", got)
	}
	if got := th.MilestoneCrossed("g-1", 130); got != 0 {
		t.Errorf("count 130: crossed %d, want 0", got)
	}
	// Groups track milestones independently.
	if got := th.MilestoneCrossed("g-2", 15); got != 10 {
		t.Errorf("other group: crossed %d, want 10", got)
	}
}

func TestThrottlerClear(t *testing.T) {
	th := NewThrottler(testNotifyConfig(), nil)

	th.ShouldNotify("fp-a", group.SevHigh)
	th.MilestoneCrossed("g-1", 10)
	th.Clear()

	if !th.ShouldNotify("fp-a", group.SevHigh) {
		t.Error("cooldowns should be gone after Clear")
	}
	if got := th.MilestoneCrossed("g-1", 10); got != 10 {
		t.Error("milestone state should be gone after Clear")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	s.Set("k", 10*time.Millisecond)
	if !s.Get("k") {
		t.Error("fresh key should be present")
	}
	time.Sleep(30 * time.Millisecond)
	if s.Get("k") {
		t.Error("expired key should be gone")
	}
	if s.Get("missing") {
		t.Error("missing key should be absent")
	}
}

func TestBuildPayloadTruncatesBacktrace(t *testing.T) {
	g := &group.Group{
		ID:              "g-1",
		ApplicationID:   "app",
		ErrorType:       "NoMethodError",
		Message:         "boom\nsecond line",
		Severity:        group.SevHigh,
		OccurrenceCount: 42,
		Backtrace:       "a\nb\nc\nd\ne",
	}
	p := BuildPayload(g, 3)
	if len(p.Backtrace) != 4 {
		t.Fatalf("backtrace lines = %d, want 3 + footer", len(p.Backtrace))
	}
	if !strings.Contains(p.Backtrace[3], "2 more lines") {
		t.Errorf("footer = %q", p.Backtrace[3])
	}
	if !strings.Contains(p.Title(), "boom") || strings.Contains(p.Title(), "second line") {
		t.Errorf("title should use the first message line: %q", p.Title())
	}
}

func TestPayloadMilestoneTitle(t *testing.T) {
	p := Payload{ApplicationID: "app", ErrorType: "NoMethodError", Milestone: 100}
	if !strings.Contains(p.Title(), "crossed 100 occurrences") {
		t.Errorf("milestone title = %q", p.Title())
	}
}
