package svcfields

import "testing"

func TestJoinSkipsEmptyFragments(t *testing.T) {
	cases := map[string][]string{
		"":                         nil,
		"session":                  {"session"},
		"session.keepalive.driver": {"session", "", ".keepalive.", " driver "},
		"session.keepalive":        {"session", "keepalive", "  "},
	}
	for want, parts := range cases {
		if got := join(parts); got != want {
			t.Fatalf("join(%q) = %q, want %q", parts, got, want)
		}
	}
}

func TestEnsureNeverReturnsNil(t *testing.T) {
	if Ensure(nil) == nil {
		t.Fatal("expected noop logger")
	}
	if WithSubsystem(nil, "a", "b") == nil {
		t.Fatal("expected logger with subsystem")
	}
}
