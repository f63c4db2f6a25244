package condense

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/adaptive-context-kernel/internal/jsonx"
	"github.com/adaptive-context-kernel/internal/provider"
	"github.com/adaptive-context-kernel/internal/tokens"
)

func TestTruncatingCondense(t *testing.T) {
	c := NewTruncating()
	counter := tokens.NewCounter()

	long := strings.Repeat("words flowing on and on ", 100)
	out, err := c.Condense(context.Background(), long, 20)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if counter.Count(out) > 20 {
		t.Errorf("result is %d tokens, want <= 20", counter.Count(out))
	}

	short := "already brief"
	out, err = c.Condense(context.Background(), short, 100)
	if err != nil || out != short {
		t.Errorf("short input: %q %v", out, err)
	}
}

func TestClientCondense(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/condense" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Text         string `json:"text"`
			TargetTokens int    `json:"target_tokens"`
		}
		if err := jsonx.DecodeReader(r.Body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TargetTokens != 150 {
			t.Errorf("target_tokens = %d", req.TargetTokens)
		}
		data, _ := jsonx.Marshal(map[string]string{"text": "a tight summary"})
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	out, err := c.Condense(context.Background(), "lots of raw text", 150)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if out != "a tight summary" {
		t.Errorf("out = %q", out)
	}
}

func TestClientErrorMapping(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := c.Condense(ctx, "text", 10)
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("500 err = %v, want ErrUnavailable", err)
	}

	status = http.StatusTooManyRequests
	_, err = c.Condense(ctx, "text", 10)
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Errorf("429 err = %v, want ErrRateLimited", err)
	}

	status = http.StatusBadRequest
	_, err = c.Condense(ctx, "text", 10)
	if err == nil || provider.IsRetryable(err) {
		t.Errorf("400 err = %v, want non-retryable", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", zaptest.NewLogger(t))
	_, err := c.Condense(context.Background(), "text", 10)
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClientEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	if _, err := c.Condense(context.Background(), "text", 10); err == nil {
		t.Error("empty condensation accepted")
	}
}
