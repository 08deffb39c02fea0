package debrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dydhzo/wastream/internal/httpclient"
)

func newTestClient(t *testing.T, apiURL string, maxRetries int) *Client {
	t.Helper()
	hc, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient: %v", err)
	}
	t.Cleanup(hc.Close)

	c, err := New(Options{
		HTTP:       hc,
		APIURL:     apiURL,
		Agent:      "WAStream",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func apiError(code string) string {
	return fmt.Sprintf(`{"status":"error","error":{"code":%q,"message":"x"}}`, code)
}

func TestResolve_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/link/redirector":
			if r.URL.Query().Get("apikey") != "key" || r.URL.Query().Get("agent") != "WAStream" {
				t.Errorf("missing query params: %v", r.URL.Query())
			}
			fmt.Fprint(w, `{"status":"success","data":{"links":["https://host/file"]}}`)
		case "/link/unlock":
			if got := r.URL.Query().Get("link"); got != "https://host/file" {
				t.Errorf("unlock link = %q", got)
			}
			fmt.Fprint(w, `{"status":"success","data":{"link":"https://direct/stream.mkv"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	direct, err := c.Resolve(context.Background(), "key", "https://dl-protect/abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if direct != "https://direct/stream.mkv" {
		t.Errorf("direct = %q", direct)
	}
}

func TestResolve_DefaultAgentSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("agent"); got != DefaultAgent {
			t.Errorf("%s agent = %q, want %q", r.URL.Path, got, DefaultAgent)
		}
		if r.URL.Path == "/link/redirector" {
			fmt.Fprint(w, `{"status":"success","data":{"links":["https://host/file"]}}`)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://direct/stream.mkv"}}`)
	}))
	defer srv.Close()

	hc, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient: %v", err)
	}
	defer hc.Close()

	c, err := New(Options{HTTP: hc, APIURL: srv.URL, MaxRetries: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Resolve(context.Background(), "key", "https://dl-protect/abc"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolve_LinkObjectShape(t *testing.T) {
	// the API sometimes returns links as objects instead of strings
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/link/redirector" {
			fmt.Fprint(w, `{"status":"success","data":{"links":[{"link":"https://host/file2"}]}}`)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://direct/2.mkv"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	direct, err := c.Resolve(context.Background(), "key", "x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if direct != "https://direct/2.mkv" {
		t.Errorf("direct = %q", direct)
	}
}

func TestResolve_LinkDownShortCircuits(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, apiError("LINK_DOWN"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	_, err := c.Resolve(context.Background(), "key", "x")
	if !errors.Is(err, ErrLinkDown) {
		t.Fatalf("err = %v, want ErrLinkDown", err)
	}
	if calls.Load() != 1 {
		t.Errorf("LINK_DOWN retried: %d calls", calls.Load())
	}
}

func TestResolve_UnsupportedHostShortCircuits(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, apiError("LINK_HOST_NOT_SUPPORTED"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	_, err := c.Resolve(context.Background(), "key", "x")
	if !errors.Is(err, ErrUnsupportedHost) {
		t.Fatalf("err = %v, want ErrUnsupportedHost", err)
	}
	if calls.Load() != 1 {
		t.Errorf("unsupported host retried: %d calls", calls.Load())
	}
}

func TestResolve_UnlockLinkDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/link/redirector" {
			fmt.Fprint(w, `{"status":"success","data":{"links":["https://host/file"]}}`)
			return
		}
		fmt.Fprint(w, apiError("LINK_DOWN"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	_, err := c.Resolve(context.Background(), "key", "x")
	if !errors.Is(err, ErrLinkDown) {
		t.Fatalf("err = %v, want ErrLinkDown", err)
	}
}

func TestResolve_RetriesTransientThenSucceeds(t *testing.T) {
	var redirectorCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/link/redirector" {
			if redirectorCalls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"status":"success","data":{"links":["https://host/file"]}}`)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://direct/ok.mkv"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	direct, err := c.Resolve(context.Background(), "key", "x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if direct != "https://direct/ok.mkv" {
		t.Errorf("direct = %q", direct)
	}
	if redirectorCalls.Load() != 3 {
		t.Errorf("redirector calls = %d, want 3", redirectorCalls.Load())
	}
}

func TestResolve_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	_, err := c.Resolve(context.Background(), "key", "x")
	if err == nil {
		t.Fatal("exhausted retries did not error")
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

func TestResolve_EmptyAPIKey(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid", 1)
	if _, err := c.Resolve(context.Background(), "", "x"); err == nil {
		t.Fatal("empty api key accepted")
	}
}

func TestResolve_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 10)
	c.sleep = sleepCtx
	c.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Resolve(ctx, "key", "x")
	if err == nil {
		t.Fatal("cancelled resolve succeeded")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not interrupt backoff")
	}
}
