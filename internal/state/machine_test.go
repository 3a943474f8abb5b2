package state

import (
	"testing"

	"pkt.systems/hyperspace/internal/lease"
	"pkt.systems/pslog"
)

func TestMachineJeopardyThenExpired(t *testing.T) {
	m := NewMachine(pslog.NoopLogger())
	if m.Status() != Connected {
		t.Fatalf("expected initial connected, got %s", m.Status())
	}
	if trs := m.Observe(lease.Healthy); len(trs) != 0 {
		t.Fatalf("healthy must not transition, got %+v", trs)
	}
	trs := m.Observe(lease.InJeopardy)
	if len(trs) != 1 || trs[0].From != Connected || trs[0].To != Jeopardy {
		t.Fatalf("unexpected transitions %+v", trs)
	}
	if trs := m.Observe(lease.InJeopardy); len(trs) != 0 {
		t.Fatalf("repeated jeopardy must not transition, got %+v", trs)
	}
	trs = m.Observe(lease.Expired)
	if len(trs) != 1 || trs[0].To != Expired {
		t.Fatalf("unexpected transitions %+v", trs)
	}
	if _, ok := m.Renew(false); ok {
		t.Fatal("expired session must not recover")
	}
	if _, ok := m.Close(); ok {
		t.Fatal("expired session must not close")
	}
	if m.Status() != Expired {
		t.Fatalf("expected expired, got %s", m.Status())
	}
}

func TestMachineConnectedStraightToExpiredPassesThroughJeopardy(t *testing.T) {
	m := NewMachine(nil)
	trs := m.Observe(lease.Expired)
	if len(trs) != 2 {
		t.Fatalf("expected two transitions, got %+v", trs)
	}
	if trs[0].To != Jeopardy || trs[1].From != Jeopardy || trs[1].To != Expired {
		t.Fatalf("unexpected order %+v", trs)
	}
}

func TestMachineRecovery(t *testing.T) {
	m := NewMachine(nil)
	if _, ok := m.Renew(false); ok {
		t.Fatal("connected renew must not transition")
	}
	m.Observe(lease.InJeopardy)
	tr, ok := m.Renew(true)
	if !ok || tr.From != Jeopardy || tr.To != Connected || !tr.NewSession {
		t.Fatalf("unexpected recovery %+v ok=%v", tr, ok)
	}
}

func TestMachineCloseIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	m.Observe(lease.InJeopardy)
	tr, ok := m.Close()
	if !ok || tr.From != Jeopardy || tr.To != Closed {
		t.Fatalf("unexpected close %+v ok=%v", tr, ok)
	}
	if _, ok := m.Close(); ok {
		t.Fatal("second close must be a no-op")
	}
	if trs := m.Observe(lease.Expired); len(trs) != 0 {
		t.Fatalf("closed session must ignore clock, got %+v", trs)
	}
}

type recordingCallback struct {
	calls []string
}

func (r *recordingCallback) Jeopardy()    { r.calls = append(r.calls, "jeopardy") }
func (r *recordingCallback) Reconnected() { r.calls = append(r.calls, "reconnected") }
func (r *recordingCallback) Safe()        { r.calls = append(r.calls, "safe") }
func (r *recordingCallback) Expired()     { r.calls = append(r.calls, "expired") }

func TestNotify(t *testing.T) {
	cases := []struct {
		tr   Transition
		want []string
	}{
		{Transition{From: Connected, To: Jeopardy}, []string{"jeopardy"}},
		{Transition{From: Jeopardy, To: Connected}, []string{"reconnected", "safe"}},
		{Transition{From: Jeopardy, To: Connected, NewSession: true}, []string{"reconnected"}},
		{Transition{From: Jeopardy, To: Expired}, []string{"expired"}},
		{Transition{From: Connected, To: Closed}, nil},
	}
	for _, tc := range cases {
		cb := &recordingCallback{}
		Notify(cb, tc.tr)
		if len(cb.calls) != len(tc.want) {
			t.Fatalf("%s->%s: got %v want %v", tc.tr.From, tc.tr.To, cb.calls, tc.want)
		}
		for i := range tc.want {
			if cb.calls[i] != tc.want[i] {
				t.Fatalf("%s->%s: got %v want %v", tc.tr.From, tc.tr.To, cb.calls, tc.want)
			}
		}
	}
	Notify(nil, Transition{To: Expired})
}
