package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serramenti/internal/eventing/eventbus"
	quote "serramenti/internal/quote/domain"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingChannel struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.messages = append(r.messages, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func savedEvent() quote.QuoteSaved {
	return quote.QuoteSaved{
		QuoteID:    "q-1",
		OwnerID:    "owner-a",
		Number:     42,
		Mode:       quote.SaveCreated,
		FrameID:    "basic-window",
		Total:      decimal.RequireFromString("450"),
		Currency:   "EUR",
		OccurredAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	bus := eventbus.NewInMemoryBus()
	notifier.Register(bus, nil)

	if err := bus.Publish(context.Background(), savedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected text msgtype, got %s", payload.MsgType)
		}
		for _, want := range []string{"P-2026-000042", "owner-a", "basic-window", "450.00 EUR", "Created"} {
			if !strings.Contains(payload.Text.Content, want) {
				t.Fatalf("content missing %q: %s", want, payload.Text.Content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not called")
	}
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestWebhookChannelSignsBody(t *testing.T) {
	secret := "hook-secret"
	verified := make(chan bool, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified <- r.Header.Get(SignatureHeader) == Sign([]byte(secret), body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithSigningSecret(secret))
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if err := channel.Send(context.Background(), "signed"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !<-verified {
		t.Fatalf("signature header did not match body")
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	ctx := context.Background()
	event := savedEvent()

	if err := notifier.HandleSaved(ctx, event); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := notifier.HandleSaved(ctx, event); err != nil {
		t.Fatalf("second: %v", err)
	}
	if channel.count() != 1 {
		t.Fatalf("expected duplicate suppressed, got %d sends", channel.count())
	}

	changed := event
	changed.Mode = quote.SaveReplaced
	changed.Total = decimal.RequireFromString("500")
	if err := notifier.HandleSaved(ctx, changed); err != nil {
		t.Fatalf("changed: %v", err)
	}
	if channel.count() != 2 {
		t.Fatalf("expected changed content sent, got %d sends", channel.count())
	}

	clock.Advance(2 * time.Minute)
	if err := notifier.HandleSaved(ctx, changed); err != nil {
		t.Fatalf("after window: %v", err)
	}
	if channel.count() != 3 {
		t.Fatalf("expected resend after window, got %d sends", channel.count())
	}
}

func TestNotifierFinalizedOnly(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithFinalizedOnly())
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	ctx := context.Background()
	if err := notifier.HandleSaved(ctx, savedEvent()); err != nil {
		t.Fatalf("saved: %v", err)
	}
	if channel.count() != 0 {
		t.Fatalf("expected drafts skipped")
	}
	err = notifier.HandleFinalized(ctx, quote.QuoteFinalized{
		QuoteID:      "q-1",
		OwnerID:      "owner-a",
		Number:       42,
		SnapshotHash: "abc123",
		Total:        decimal.RequireFromString("450"),
		Currency:     "EUR",
		OccurredAt:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("finalized: %v", err)
	}
	if channel.count() != 1 || !strings.Contains(channel.messages[0], "Snapshot: abc123") {
		t.Fatalf("unexpected messages: %v", channel.messages)
	}
}
