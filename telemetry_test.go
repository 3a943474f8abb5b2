package hyperspace

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/pslog"
)

func TestParseOTLPEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		protocol string
		endpoint string
		path     string
		insecure bool
	}{
		{"collector", "grpc", "collector:4317", "", true},
		{"collector:9999", "grpc", "collector:9999", "", true},
		{"grpcs://collector", "grpc", "collector:4317", "", false},
		{"http://collector/v1/traces/", "http", "collector:4318", "/v1/traces", true},
		{"https://collector:443", "http", "collector:443", "", false},
	}
	for _, c := range cases {
		got, err := parseOTLPEndpoint(c.raw)
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if got.protocol != c.protocol || got.endpoint != c.endpoint || got.path != c.path || got.insecure != c.insecure {
			t.Fatalf("%s: unexpected target %+v", c.raw, got)
		}
	}
	if _, err := parseOTLPEndpoint("ftp://collector"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), TelemetryConfig{}, pslog.NoopLogger())
	if err != nil || tel != nil {
		t.Fatalf("expected nil telemetry, got %v (%v)", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
	if _, err := SetupTelemetry(context.Background(), TelemetryConfig{RuntimeMetrics: true}, pslog.NoopLogger()); err == nil {
		t.Fatal("expected error for runtime metrics without listener")
	}
}

func TestTelemetryExportsSessionMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := SetupTelemetry(ctx, TelemetryConfig{MetricsListen: "127.0.0.1:0"}, pslog.NoopLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer func() {
		if err := tel.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	master := newFakeMaster(t, 11)
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	sess := openTestSession(t, testConfig(master.srv.URL), nil, clk)
	advanceUntil(t, clk, "keepalive", func() bool { return master.keepaliveCount() > 0 })

	resp, err := http.Get("http://" + tel.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	for _, name := range []string{"hyperspace_session_status", "hyperspace_keepalive_sent"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from scrape:\n%s", name, body)
		}
	}
	_ = sess.Close()
}
