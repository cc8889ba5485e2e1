package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTool_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("expected header to be forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"low":72,"high":88}`))
	}))
	defer srv.Close()

	h := NewHTTPTool()
	result, err := h.Call(context.Background(), map[string]interface{}{
		"url":     srv.URL + "/prices?product=slack",
		"headers": map[string]interface{}{"X-Api-Key": "secret"},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result["status_code"] != http.StatusOK {
		t.Errorf("unexpected status %v", result["status_code"])
	}
	if result["body"] != `{"low":72,"high":88}` {
		t.Errorf("unexpected body %v", result["body"])
	}
	headers := result["headers"].(map[string]interface{})
	if headers["Content-Type"] != "application/json" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestHTTPTool_Post(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "post",
		"url":    srv.URL,
		"body":   `{"to":"sales@acme.com"}`,
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result["status_code"] != http.StatusAccepted {
		t.Errorf("unexpected status %v", result["status_code"])
	}
	if gotBody != `{"to":"sales@acme.com"}` {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestHTTPTool_Validation(t *testing.T) {
	h := NewHTTPTool()
	tests := []struct {
		name  string
		input map[string]interface{}
		want  string
	}{
		{"missing url", map[string]interface{}{}, "url parameter required"},
		{"bad method", map[string]interface{}{"url": "http://x", "method": "DELETE"}, "unsupported HTTP method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Call(context.Background(), tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
			if IsTransport(err) {
				t.Error("validation errors must not be transport errors")
			}
		})
	}
}

func TestHTTPTool_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	h := NewHTTPTool(WithTimeout(20 * time.Millisecond))
	_, err := h.Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHTTPTool_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	result, err := NewHTTPTool(WithMaxBodyBytes(10), WithHTTPClient(srv.Client())).Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(result["body"].(string)) != 10 {
		t.Errorf("expected body truncated to 10 bytes, got %d", len(result["body"].(string)))
	}
}

func TestScriptedTool(t *testing.T) {
	refused := &TransportError{URL: "http://prices", Cause: errors.New("refused")}
	s := &ScriptedTool{ToolName: "prices", Steps: []Step{
		{Err: refused},
		{Output: map[string]interface{}{"n": 1}},
		{Output: map[string]interface{}{"n": 2}},
	}}
	if s.Name() != "prices" {
		t.Errorf("unexpected name %q", s.Name())
	}
	ctx := context.Background()

	if _, err := s.Call(ctx, map[string]interface{}{"try": 0}); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	for _, want := range []int{1, 2, 2} {
		out, err := s.Call(ctx, map[string]interface{}{"try": want})
		if err != nil {
			t.Fatal(err)
		}
		if out["n"] != want {
			t.Errorf("got %v, want %d", out["n"], want)
		}
	}
	if inputs := s.Inputs(); len(inputs) != 4 || inputs[0]["try"] != 0 {
		t.Errorf("unexpected inputs %v", inputs)
	}
}
