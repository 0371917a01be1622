package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterPerKey(t *testing.T) {
	l := NewLimiter(1, 2)

	if !l.Allow("cmr.earthdata.nasa.gov") || !l.Allow("cmr.earthdata.nasa.gov") {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if l.Allow("cmr.earthdata.nasa.gov") {
		t.Error("Expected third request within burst window to be denied")
	}
	if !l.Allow("harmony.earthdata.nasa.gov") {
		t.Error("Expected a different host to have its own budget")
	}
}

func TestDisabledLimiter(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("host") {
			t.Fatalf("request %d denied with limiting disabled", i)
		}
	}
}

func TestTransportWaitsForToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(srv.Client().Transport, 20, 1)}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}
	// 3 requests at 20 rps with burst 1 need at least ~100ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("requests were not throttled: %v", elapsed)
	}
}

func TestTransportHonoursContext(t *testing.T) {
	tr := NewTransport(http.DefaultTransport, 0.001, 1)
	tr.Limiter.GetLimiter("example.invalid").Allow() // drain the burst

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid/", nil)
	if _, err := tr.RoundTrip(req); err == nil {
		t.Error("Expected an error when the context expires while waiting")
	}
}
