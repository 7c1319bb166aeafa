package moat

import (
	"testing"
	"time"
)

func TestIsDueForms(t *testing.T) {
	t.Parallel()

	// Tuesday 2026-03-10 09:30 UTC.
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name       string
		descriptor string
		want       bool
	}{
		{"now", "NOW", true},
		{"now lowercase", "now", true},
		{"now padded", "  NOW  ", true},
		{"once match", "ONCE - 2026-03-10 - 09:30", true},
		{"once wrong day", "ONCE - 2026-03-11 - 09:30", false},
		{"once wrong minute", "ONCE - 2026-03-10 - 09:31", false},
		{"daily match", "DAILY - 09:30", true},
		{"daily wrong minute", "DAILY - 09:29", false},
		{"weekly match", "WEEKLY - Tuesday - 09:30", true},
		{"weekly lowercase day", "WEEKLY - tuesday - 09:30", true},
		{"weekly wrong day", "WEEKLY - Monday - 09:30", false},
		{"monthly match", "MONTHLY - 10 - 09:30", true},
		{"monthly zero padded day", "MONTHLY - 010 - 09:30", false},
		{"monthly wrong day", "MONTHLY - 11 - 09:30", false},
		{"malformed word", "FOO", false},
		{"empty", "", false},
		{"weekly missing time", "WEEKLY - Monday", false},
		{"once missing time", "ONCE - 2026-03-10", false},
		{"daily extra field", "DAILY - 09:30 - extra", false},
		{"now extra field", "NOW - 09:30", false},
		{"unpadded hour never matches", "DAILY - 9:30", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsDue(tc.descriptor, nil, now); got != tc.want {
				t.Fatalf("IsDue(%q) = %v, want %v", tc.descriptor, got, tc.want)
			}
		})
	}
}

func TestIsDueCooldown(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name    string
		lastRun time.Duration // how long before now the job last ran
		want    bool
	}{
		{"30s ago suppressed", 30 * time.Second, false},
		{"59s ago suppressed", 59 * time.Second, false},
		{"61s ago fires", 61 * time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			last := now.Add(-tc.lastRun)
			if got := IsDue("NOW", &last, now); got != tc.want {
				t.Fatalf("IsDue(NOW, -%v) = %v, want %v", tc.lastRun, got, tc.want)
			}
		})
	}

	if !IsDue("NOW", nil, now) {
		t.Fatal("nil lastRun must fire")
	}
}

func TestIsDueCooldownAppliesToAllForms(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	last := now.Add(-20 * time.Second)

	for _, d := range []string{
		"DAILY - 09:30",
		"WEEKLY - Tuesday - 09:30",
		"MONTHLY - 10 - 09:30",
		"ONCE - 2026-03-10 - 09:30",
	} {
		if IsDue(d, &last, now) {
			t.Errorf("IsDue(%q) fired inside cooldown", d)
		}
		old := now.Add(-2 * time.Minute)
		if !IsDue(d, &old, now) {
			t.Errorf("IsDue(%q) suppressed outside cooldown", d)
		}
	}
}

func TestIsDueUsesUTC(t *testing.T) {
	t.Parallel()
	// 09:30 UTC expressed in a +02:00 zone.
	zone := time.FixedZone("EET", 2*60*60)
	now := time.Date(2026, 3, 10, 11, 30, 0, 0, zone)

	if !IsDue("DAILY - 09:30", nil, now) {
		t.Fatal("expected UTC minute match")
	}
	if IsDue("DAILY - 11:30", nil, now) {
		t.Fatal("matched local minute instead of UTC")
	}
}

func TestOneShot(t *testing.T) {
	t.Parallel()
	cases := []struct {
		descriptor string
		want       bool
	}{
		{"NOW", true},
		{"ONCE - 2026-03-10 - 09:30", true},
		{"once - 2026-03-10 - 09:30", true},
		{"DAILY - 09:30", false},
		{"WEEKLY - Tuesday - 09:30", false},
		{"MONTHLY - 10 - 09:30", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := OneShot(tc.descriptor); got != tc.want {
			t.Errorf("OneShot(%q) = %v, want %v", tc.descriptor, got, tc.want)
		}
	}
}
