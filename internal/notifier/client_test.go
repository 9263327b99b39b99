package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_OK(t *testing.T) {
	var got Notification

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Notification{
		To:       "buyer@example.com",
		Template: "order-shipped",
		Locale:   "en",
		Data:     map[string]any{"orderNumber": "R-1"},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if got.To != "buyer@example.com" || got.Template != "order-shipped" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, Notification{To: "x@example.com", Template: "order-confirmed"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	var client *Client

	if err := client.Send(context.Background(), Notification{}); err == nil {
		t.Fatalf("expected error for nil client")
	}

	empty := NewClient("")
	if err := empty.Send(context.Background(), Notification{}); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
