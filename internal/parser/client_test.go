package parser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/parser"
)

func TestBuildSignature(t *testing.T) {
	body := []byte(`{"disk":"s3","path":"designs/file.dst"}`)
	got := parser.BuildSignature("test-secret-key", 1700000000, "POST", "/parse", body)
	want := "122432ae760d631a8cfc2cf9c6c5301ab18682905d0933793e877a8c3fed843e"
	if got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}

	// Method case must not change the signature.
	if lower := parser.BuildSignature("test-secret-key", 1700000000, "post", "/parse", body); lower != want {
		t.Fatalf("lowercase method signature = %s, want %s", lower, want)
	}

	// Any input change must change the signature.
	if same := parser.BuildSignature("test-secret-key", 1700000001, "POST", "/parse", body); same == want {
		t.Fatal("timestamp change should alter the signature")
	}
}

func newTestClient(t *testing.T, baseURL string, retryTimes int) *parser.Client {
	t.Helper()
	cfg := config.Parser{
		BaseURL:               baseURL,
		Secret:                "test-secret-key",
		TimeoutSeconds:        5,
		ConnectTimeoutSeconds: 1,
		RetryTimes:            retryTimes,
		RetrySleepMS:          200,
	}
	return parser.NewClient(cfg, logging.NewNop(),
		parser.WithSleeper(func(time.Duration) {}),
		parser.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestParseSendsSignedRequest(t *testing.T) {
	var gotTimestamp, gotSignature, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTimestamp = r.Header.Get("X-SS-Timestamp")
		gotSignature = r.Header.Get("X-SS-Signature")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"width_mm":95.4,"height_mm":82.1,"stitch_count":12450,"color_changes":5,"jump_count":87,"longest_jump_mm":9.2,"min_stitch_length_mm":0.4,"max_stitch_length_mm":12.0,"avg_stitch_length_mm":3.1}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 1)
	metrics, err := client.Parse(context.Background(), "s3", "designs/file.dst")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if metrics.StitchCount != 12450 || metrics.JumpCount != 87 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	if metrics.DensityMaxRatio != nil {
		t.Fatal("density fields should be absent")
	}

	if gotTimestamp != strconv.FormatInt(1700000000, 10) {
		t.Fatalf("timestamp header = %q", gotTimestamp)
	}
	want := "122432ae760d631a8cfc2cf9c6c5301ab18682905d0933793e877a8c3fed843e"
	if gotSignature != want {
		t.Fatalf("signature header = %q, want %q", gotSignature, want)
	}
	if gotAccept != "application/json" {
		t.Fatalf("accept header = %q", gotAccept)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	body, err := client.RenderPreview(context.Background(), "s3", "designs/file.dst")
	if err != nil {
		t.Fatalf("RenderPreview failed: %v", err)
	}
	if string(body) != "png-bytes" {
		t.Fatalf("body = %q", body)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	if _, err := client.RenderDensity(context.Background(), "s3", "designs/file.dst"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.Parse(context.Background(), "s3", "designs/file.dst"); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClientRequiresConfiguration(t *testing.T) {
	client := parser.NewClient(config.Parser{Secret: "s"}, logging.NewNop())
	if _, err := client.Parse(context.Background(), "s3", "x.dst"); err == nil {
		t.Fatal("expected error for missing base_url")
	}

	client = parser.NewClient(config.Parser{BaseURL: "http://localhost:1"}, logging.NewNop())
	if _, err := client.Parse(context.Background(), "s3", "x.dst"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestMockGatewayIsDeterministic(t *testing.T) {
	gateway := parser.NewGateway(config.Parser{MockEnabled: true}, logging.NewNop())
	if _, ok := gateway.(*parser.Mock); !ok {
		t.Fatalf("expected mock gateway, got %T", gateway)
	}

	metrics, err := gateway.Parse(context.Background(), "s3", "anything.dst")
	if err != nil {
		t.Fatalf("mock Parse failed: %v", err)
	}
	if metrics.WidthMM != 95.4 || metrics.StitchCount != 12450 || metrics.AvgStitchLengthMM != 3.1 {
		t.Fatalf("unexpected mock metrics: %+v", metrics)
	}

	png, err := gateway.RenderPreview(context.Background(), "s3", "anything.dst")
	if err != nil {
		t.Fatalf("mock RenderPreview failed: %v", err)
	}
	if len(png) == 0 || string(png[1:4]) != "PNG" {
		t.Fatalf("mock preview is not a PNG: %v", png[:8])
	}
}
