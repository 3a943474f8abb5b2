package correlation

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	if got, ok := Normalize("  ka-17  "); !ok || got != "ka-17" {
		t.Fatalf("expected trimmed id, got %q ok=%v", got, ok)
	}
	if _, ok := Normalize(""); ok {
		t.Fatal("empty id should be invalid")
	}
	if _, ok := Normalize(strings.Repeat("a", MaxIDLength+1)); ok {
		t.Fatal("overlong id should be invalid")
	}
	if _, ok := Normalize("bad\x01suffix"); ok {
		t.Fatal("non-printable should be invalid")
	}
}

func TestEnsureGeneratesOnce(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" || ID(ctx) != id {
		t.Fatalf("expected generated id on context, got %q / %q", id, ID(ctx))
	}
	again, same := Ensure(ctx)
	if same != id || ID(again) != id {
		t.Fatalf("Ensure replaced an existing id: %q -> %q", id, same)
	}
	if Set(ctx, "\x00") != ctx {
		t.Fatal("invalid id must leave context unchanged")
	}
}

func TestGenerateIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := Generate()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestInject(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://master/v1/session/keepalive", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	Inject(context.Background(), req)
	if req.Header.Get(Header) != "" {
		t.Fatal("expected no header without id")
	}
	Inject(Set(context.Background(), "cid-1"), req)
	if got := req.Header.Get(Header); got != "cid-1" {
		t.Fatalf("expected cid-1, got %q", got)
	}
}
