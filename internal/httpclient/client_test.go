package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHandle_LazySingleton(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const goroutines = 32
	handles := make([]*http.Client, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			handles[i] = c.Handle()
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("concurrent Handle() calls returned distinct handles")
		}
	}
}

func TestClose_RearmsOnNextUse(t *testing.T) {
	c, _ := New(Options{})

	first := c.Handle()
	c.Close()
	second := c.Handle()

	if second == nil {
		t.Fatal("Handle after Close returned nil")
	}
	if second == first {
		t.Fatal("Handle after Close returned the stale handle")
	}
}

func TestClose_IdempotentAndSafeWhenUnopened(t *testing.T) {
	c, _ := New(Options{})
	// never opened
	c.Close()
	// opened then closed twice
	_ = c.Handle()
	c.Close()
	c.Close()
}

func TestGet_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("agent") != "wastream" {
			t.Errorf("query agent = %q", r.URL.Query().Get("agent"))
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("header X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		io.WriteString(w, "pong")
	}))
	defer srv.Close()

	c, _ := New(Options{})
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL,
		WithQuery("agent", "wastream"),
		WithHeader("X-Api-Key", "secret"),
	)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}
}

func TestGet_AfterCloseStillWorks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := New(Options{})
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	c.Close()

	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get after Close: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestPost_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"ok":true}` {
			t.Errorf("body = %q", body)
		}
	}))
	defer srv.Close()

	c, _ := New(Options{})
	defer c.Close()

	resp, err := c.Post(context.Background(), srv.URL,
		WithBody("application/json", strings.NewReader(`{"ok":true}`)))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
}

func TestProxy_RoutesAllSchemes(t *testing.T) {
	c, err := New(Options{ProxyURL: "http://proxy.internal:3128"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, ok := c.Handle().Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport type = %T", c.Handle().Transport)
	}
	if tr.Proxy == nil {
		t.Fatal("proxy func not installed")
	}

	for _, target := range []string{"http://example.com/a", "https://example.com/b"} {
		req, _ := http.NewRequest(http.MethodGet, target, nil)
		got, err := tr.Proxy(req)
		if err != nil {
			t.Fatalf("Proxy(%s): %v", target, err)
		}
		if got == nil || got.Host != "proxy.internal:3128" {
			t.Errorf("Proxy(%s) = %v, want proxy.internal:3128", target, got)
		}
	}
}

func TestNoProxy_ByDefault(t *testing.T) {
	c, _ := New(Options{})
	tr := c.Handle().Transport.(*http.Transport)
	if tr.Proxy != nil {
		t.Error("proxy func installed without configuration")
	}
}

func TestNew_BadProxyURL(t *testing.T) {
	if _, err := New(Options{ProxyURL: "http://bad url with spaces"}); err == nil {
		t.Error("want error for unparseable proxy URL")
	}
}

func TestTimeout_DefaultApplied(t *testing.T) {
	c, _ := New(Options{})
	if got := c.Handle().Timeout; got != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", got, DefaultTimeout)
	}
}

func TestWithTimeout_BoundsSlowServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, _ := New(Options{})
	defer c.Close()

	start := time.Now()
	_, err := c.Get(context.Background(), srv.URL, WithTimeout(50*time.Millisecond))
	if err == nil {
		t.Fatal("want timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, per-call timeout not applied", elapsed)
	}
}
