package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pkt.systems/hyperspace/api"
	"pkt.systems/hyperspace/internal/correlation"
	"pkt.systems/hyperspace/internal/dispatch"
	"pkt.systems/pslog"
)

type chanSink chan dispatch.Event

func (s chanSink) Submit(ev dispatch.Event) bool {
	s <- ev
	return true
}

func (s chanSink) next(t *testing.T) dispatch.Event {
	t.Helper()
	select {
	case ev := <-s:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport outcome")
		return dispatch.Event{}
	}
}

func newTestTransport(srv *httptest.Server, sink Sink) *HTTP {
	return New(Config{
		HTTPClient:     srv.Client(),
		RequestTimeout: 2 * time.Second,
		Sink:           sink,
		Logger:         pslog.NoopLogger(),
	})
}

func TestSendSubmitsResponse(t *testing.T) {
	gotCID := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != KeepalivePath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotCID <- r.Header.Get(correlation.Header)
		var req api.KeepaliveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(api.KeepaliveResponse{SessionID: req.SessionID})
	}))
	defer srv.Close()
	sink := make(chanSink, 1)
	tr := newTestTransport(srv, sink)
	defer tr.Close()

	ctx := correlation.Set(context.Background(), "cid-42")
	payload, _ := json.Marshal(api.KeepaliveRequest{SessionID: 9})
	tr.Send(ctx, srv.URL, payload)

	ev := sink.next(t)
	if ev.Kind != dispatch.ResponseReceived || ev.CorrelationID != "cid-42" || ev.Addr != srv.URL {
		t.Fatalf("unexpected event %+v", ev)
	}
	resp, err := api.JSONCodec{}.DecodeKeepalive(ev.Payload)
	if err != nil || resp.SessionID != 9 {
		t.Fatalf("unexpected payload %q (%v)", ev.Payload, err)
	}
	if cid := <-gotCID; cid != "cid-42" {
		t.Fatalf("correlation header not propagated, got %q", cid)
	}
}

func TestSendReportsAPIErrorAsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "not_master", Detail: "standby"})
	}))
	defer srv.Close()
	sink := make(chanSink, 1)
	tr := newTestTransport(srv, sink)
	defer tr.Close()

	tr.Send(context.Background(), srv.URL, []byte(`{}`))
	ev := sink.next(t)
	if ev.Kind != dispatch.ConnectionError || ev.Addr != srv.URL {
		t.Fatalf("unexpected event %+v", ev)
	}
	var apiErr *APIError
	if !errors.As(ev.Err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable || apiErr.Response.Error != "not_master" {
		t.Fatalf("expected APIError, got %v", ev.Err)
	}
	if apiErr.Error() != "hyperspace: not_master (standby)" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}

func TestSendReportsUnreachableMaster(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	sink := make(chanSink, 1)
	tr := New(Config{Sink: sink, RequestTimeout: time.Second, Logger: pslog.NoopLogger()})
	defer tr.Close()

	tr.Send(context.Background(), addr, []byte(`{}`))
	ev := sink.next(t)
	if ev.Kind != dispatch.ConnectionError || ev.Err == nil {
		t.Fatalf("expected connection error, got %+v", ev)
	}
}

func TestCloseCancelsInFlightSends(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	sink := make(chanSink, 1)
	tr := newTestTransport(srv, sink)

	tr.Send(context.Background(), srv.URL, []byte(`{}`))
	tr.Close()
	tr.Close()
	select {
	case ev := <-sink:
		t.Fatalf("cancelled send submitted %+v", ev)
	default:
	}
	tr.Send(context.Background(), srv.URL, []byte(`{}`))
	if _, err := tr.Open(context.Background(), srv.URL, api.OpenSessionRequest{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != OpenPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get(correlation.Header) == "" {
			t.Errorf("open request without correlation id")
		}
		body, _ := io.ReadAll(r.Body)
		var req api.OpenSessionRequest
		if err := json.Unmarshal(body, &req); err != nil || req.ClientID != "worker-1" {
			t.Errorf("unexpected open body %s", body)
		}
		_ = json.NewEncoder(w).Encode(api.OpenSessionResponse{SessionID: 12, LeaseIntervalMillis: 8000})
	}))
	defer srv.Close()
	tr := newTestTransport(srv, nil)
	defer tr.Close()

	resp, err := tr.Open(context.Background(), srv.URL+"/", api.OpenSessionRequest{ClientID: "worker-1", LeaseIntervalMillis: 10000})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.SessionID != 12 || resp.LeaseIntervalMillis != 8000 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenRejectsMissingSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	tr := newTestTransport(srv, nil)
	defer tr.Close()
	if _, err := tr.Open(context.Background(), srv.URL, api.OpenSessionRequest{}); err == nil {
		t.Fatal("expected error for missing session id")
	}
}
