package audit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMemoryLogNormalizesEntries(t *testing.T) {
	var log MemoryLog
	if err := log.Log(context.Background(), Entry{Action: ActionQuoteCreate, ResourceType: "quote", ResourceID: "q-1"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry")
	}
	e := entries[0]
	if !strings.HasPrefix(e.ID, "audit-") || e.CreatedAt.IsZero() {
		t.Fatalf("entry not normalized: %+v", e)
	}
	if string(e.Metadata) != "{}" || e.PayloadDigest != DigestJSON([]byte("{}")) {
		t.Fatalf("metadata defaults missing: %s %s", e.Metadata, e.PayloadDigest)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:4321"
	if ip := ClientIP(r); ip != "10.0.0.5" {
		t.Fatalf("remote addr ip: %s", ip)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := ClientIP(r); ip != "203.0.113.9" {
		t.Fatalf("forwarded ip: %s", ip)
	}
}
