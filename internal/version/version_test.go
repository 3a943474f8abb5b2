package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestPseudoVersion(t *testing.T) {
	got := pseudo([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-03-01T10:20:30Z"},
		{Key: "vcs.modified", Value: "true"},
	})
	if want := "v0.0.0-20260301102030-0123456789ab+dirty"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if pseudo([]debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}}) != "" {
		t.Fatal("expected empty pseudo version without vcs.time")
	}
}

func TestBuildVersionOverride(t *testing.T) {
	prev := buildVersion
	buildVersion = "v1.2.3"
	defer func() { buildVersion = prev }()
	if Current() != "v1.2.3" {
		t.Fatalf("unexpected version %q", Current())
	}
	if !strings.HasSuffix(UserAgent(), "/v1.2.3") {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
