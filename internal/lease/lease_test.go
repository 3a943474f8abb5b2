package lease

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestClassifyTimeline(t *testing.T) {
	start := time.Unix(1_000, 0)
	const (
		leaseInterval = 10 * time.Second
		gracePeriod   = 5 * time.Second
	)
	cases := []struct {
		offset time.Duration
		want   Health
	}{
		{0, Healthy},
		{9999 * time.Millisecond, Healthy},
		{10 * time.Second, InJeopardy},
		{12 * time.Second, InJeopardy},
		{14999 * time.Millisecond, InJeopardy},
		{15 * time.Second, Expired},
		{time.Hour, Expired},
	}
	for _, tc := range cases {
		if got := Classify(start, leaseInterval, gracePeriod, start.Add(tc.offset)); got != tc.want {
			t.Fatalf("t=%v: got %s, want %s", tc.offset, got, tc.want)
		}
	}
}

func TestNextDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	d := Compute(start, 10*time.Second, 5*time.Second)
	next, ok := d.Next(start.Add(3 * time.Second))
	if !ok || !next.Equal(d.Jeopardy) {
		t.Fatalf("expected jeopardy deadline, got %v %v", next, ok)
	}
	next, ok = d.Next(d.Jeopardy)
	if !ok || !next.Equal(d.Expire) {
		t.Fatalf("expected expire deadline, got %v %v", next, ok)
	}
	if _, ok := d.Next(d.Expire); ok {
		t.Fatal("expected no deadline after expiry")
	}
}

func TestClassifyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		leaseMs := rapid.Int64Range(1, 600_000).Draw(t, "lease_ms")
		graceMs := rapid.Int64Range(1, 600_000).Draw(t, "grace_ms")
		offsetMs := rapid.Int64Range(0, 2_000_000).Draw(t, "offset_ms")
		leaseInterval := time.Duration(leaseMs) * time.Millisecond
		gracePeriod := time.Duration(graceMs) * time.Millisecond
		renewed := time.Unix(0, 0)
		d := Compute(renewed, leaseInterval, gracePeriod)

		if !d.Jeopardy.Equal(renewed.Add(leaseInterval)) {
			t.Fatalf("jeopardy deadline %v != renewed+lease", d.Jeopardy)
		}
		if !d.Expire.Equal(d.Jeopardy.Add(gracePeriod)) {
			t.Fatalf("expire deadline %v != jeopardy+grace", d.Expire)
		}

		now := renewed.Add(time.Duration(offsetMs) * time.Millisecond)
		var want Health
		switch {
		case offsetMs < leaseMs:
			want = Healthy
		case offsetMs < leaseMs+graceMs:
			want = InJeopardy
		default:
			want = Expired
		}
		if got := d.Classify(now); got != want {
			t.Fatalf("offset %dms lease %dms grace %dms: got %s want %s", offsetMs, leaseMs, graceMs, got, want)
		}
	})
}
