package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"homeescrow/core/types"
)

type stubEvent struct{ body *types.Event }

func (s stubEvent) EventType() string   { return s.body.Type }
func (s stubEvent) Event() *types.Event { return s.body }

type captured struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestDispatcherSignsPayload(t *testing.T) {
	srv, got := captureServer(t)
	d, err := New(Config{Endpoint: srv.URL, Secret: []byte("secret")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer d.Close()

	d.Emit(stubEvent{&types.Event{
		Type:       "offer.accepted",
		Sequence:   7,
		Timestamp:  1_700_000_000,
		Attributes: map[string]string{"buyer": "home1xyz"},
	}})

	var req captured
	select {
	case req = <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
	}
	ts := req.header.Get(HeaderTimestamp)
	if !Verify([]byte("secret"), ts, req.body, req.header.Get(HeaderSignature), time.Minute, time.Now()) {
		t.Fatalf("signature did not verify")
	}
	if Verify([]byte("other"), ts, req.body, req.header.Get(HeaderSignature), 0, time.Now()) {
		t.Fatalf("signature verified with the wrong secret")
	}
	if req.header.Get(HeaderEvent) != "offer.accepted" {
		t.Fatalf("unexpected event header %q", req.header.Get(HeaderEvent))
	}
	var payload Payload
	if err := json.Unmarshal(req.body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Sequence != 7 || payload.Attributes["buyer"] != "home1xyz" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.DeliveryID != req.header.Get(HeaderDelivery) {
		t.Fatalf("delivery id mismatch")
	}
	again, _ := encode(&types.Event{Type: "offer.accepted", Sequence: 7})
	if again.payload.DeliveryID != payload.DeliveryID {
		t.Fatalf("delivery id not stable")
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign([]byte("k"), "1000", body)
	if Verify([]byte("k"), "1000", body, sig, time.Minute, time.Unix(1000+120, 0)) {
		t.Fatalf("stale signature accepted")
	}
	if !Verify([]byte("k"), "1000", body, sig, time.Minute, time.Unix(1030, 0)) {
		t.Fatalf("fresh signature rejected")
	}
}

func TestDispatcherRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	d, err := New(Config{
		Endpoint: srv.URL,
		Secret:   []byte("secret"),
		Retry:    Retry{Attempts: 5, Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		Meter:    provider.Meter("test"),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer d.Close()
	if err := d.Enqueue(context.Background(), &types.Event{Type: "listing.sold", Sequence: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&attempts) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if got := counterTotal(t, reader, "homeescrow.webhooks.retries"); got != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", got)
	}
}

func TestQueueDropsAreCounted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	d, err := New(Config{Endpoint: srv.URL, Secret: []byte("secret"), QueueSize: 1, Meter: provider.Meter("test")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer d.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		d.Emit(stubEvent{&types.Event{Type: "offer.submitted", Sequence: seq}})
	}
	if got := counterTotal(t, reader, "homeescrow.webhooks.dropped"); got < 1 {
		t.Fatalf("expected at least one dropped event, got %d", got)
	}
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRetryDelay(t *testing.T) {
	r := Retry{Attempts: 6, Initial: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := r.delay(i + 1); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	if retryAfter("3", time.Minute) != 3*time.Second || retryAfter("600", time.Minute) != time.Minute || retryAfter("soon", time.Minute) != 0 {
		t.Fatalf("unexpected Retry-After parsing")
	}
}

func TestNewRejectsMissingConfig(t *testing.T) {
	if _, err := New(Config{Endpoint: " ", Secret: []byte("secret")}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := New(Config{Endpoint: "http://localhost"}); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestEmitAfterCloseDoesNotBlock(t *testing.T) {
	d, err := New(Config{Endpoint: "http://127.0.0.1:1", Secret: []byte("secret"), QueueSize: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	d.Close()
	done := make(chan struct{})
	go func() {
		for seq := uint64(1); seq <= 4; seq++ {
			d.Emit(stubEvent{&types.Event{Type: "listing.created", Sequence: seq}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("emit blocked on a closed dispatcher")
	}
	if err := d.Enqueue(context.Background(), &types.Event{Type: "listing.created"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
