package interfaces

import (
	"context"
	"encoding/json"

	"serramenti/internal/audit"
	"serramenti/internal/auth"
	"serramenti/internal/eventing"
	"serramenti/internal/eventing/eventbus"
	quote "serramenti/internal/quote/domain"
)

// AuditRecorder writes quote lifecycle events to the audit log.
type AuditRecorder struct {
	log audit.Logger
}

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(log audit.Logger) *AuditRecorder {
	return &AuditRecorder{log: log}
}

// Register subscribes the recorder to quote events. With a processed store,
// events redelivered from the outbox are handled at most once.
func (r *AuditRecorder) Register(bus *eventbus.InMemoryBus, processed eventing.ProcessedStore) {
	eventing.On(bus, "quote-audit", processed, r.HandleSaved)
	eventing.On(bus, "quote-audit", processed, r.HandleFinalized)
}

// HandleSaved records a create or draft replacement.
func (r *AuditRecorder) HandleSaved(ctx context.Context, event quote.QuoteSaved) error {
	action := audit.ActionQuoteCreate
	if event.Mode == quote.SaveReplaced {
		action = audit.ActionQuoteUpdate
	}
	return r.record(ctx, event.OwnerID, event.QuoteID, action, map[string]any{
		"number":   event.Number,
		"frameId":  event.FrameID,
		"total":    event.Total.StringFixed(2),
		"currency": event.Currency,
	})
}

// HandleFinalized records a finalization with the frozen snapshot hash.
func (r *AuditRecorder) HandleFinalized(ctx context.Context, event quote.QuoteFinalized) error {
	return r.record(ctx, event.OwnerID, event.QuoteID, audit.ActionQuoteFinalize, map[string]any{
		"number":       event.Number,
		"snapshotHash": event.SnapshotHash,
		"total":        event.Total.StringFixed(2),
	})
}

func (r *AuditRecorder) record(ctx context.Context, ownerID, quoteID, action string, meta map[string]any) error {
	if r == nil || r.log == nil {
		return nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	entry := audit.Entry{
		OwnerID:       ownerID,
		Actor:         ownerID,
		Action:        action,
		ResourceType:  "quote",
		ResourceID:    quoteID,
		Metadata:      payload,
		PayloadDigest: audit.DigestJSON(payload),
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry.Role = string(id.Role)
		if id.Email != "" {
			entry.Actor = id.Email
		}
	}
	return r.log.Log(ctx, entry)
}
