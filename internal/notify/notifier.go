package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"serramenti/internal/eventing"
	"serramenti/internal/eventing/eventbus"
	quote "serramenti/internal/quote/domain"
)

// Clock provides time for dedupe bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier forwards quote events to a channel.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	dedupeWindow time.Duration
	onlyFinal    bool

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithFinalizedOnly skips draft saves.
func WithFinalizedOnly() Option {
	return func(n *Notifier) {
		n.onlyFinal = true
	}
}

// NewNotifier constructs a quote notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("quote notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Register subscribes the notifier to quote events. With a processed store,
// events redelivered from the outbox are handled at most once.
func (n *Notifier) Register(bus *eventbus.InMemoryBus, processed eventing.ProcessedStore) {
	eventing.On(bus, "quote-notifier", processed, n.HandleSaved)
	eventing.On(bus, "quote-notifier", processed, n.HandleFinalized)
}

// HandleSaved notifies a stored quote.
func (n *Notifier) HandleSaved(ctx context.Context, event quote.QuoteSaved) error {
	if n.onlyFinal {
		return nil
	}
	label := "Created"
	if event.Mode == quote.SaveReplaced {
		label = "Draft updated"
	}
	return n.dispatch(ctx, event.QuoteID, string(event.Mode), TemplateData{
		Event:         string(event.Mode),
		EventLabel:    label,
		QuoteID:       event.QuoteID,
		DisplayNumber: displayNumber(event.OccurredAt, event.Number),
		OwnerID:       event.OwnerID,
		FrameID:       event.FrameID,
		Total:         event.Total.StringFixed(2),
		Currency:      event.Currency,
		OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
	})
}

// HandleFinalized notifies a finalized quote.
func (n *Notifier) HandleFinalized(ctx context.Context, event quote.QuoteFinalized) error {
	return n.dispatch(ctx, event.QuoteID, "finalized", TemplateData{
		Event:         "finalized",
		EventLabel:    "Finalized",
		QuoteID:       event.QuoteID,
		DisplayNumber: displayNumber(event.OccurredAt, event.Number),
		OwnerID:       event.OwnerID,
		Total:         event.Total.StringFixed(2),
		Currency:      event.Currency,
		OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
		SnapshotHash:  event.SnapshotHash,
	})
}

func (n *Notifier) dispatch(ctx context.Context, quoteID, eventType string, data TemplateData) error {
	content, err := n.template.Render(data)
	if err != nil {
		return err
	}
	if !n.shouldSend(quoteID, eventType, content) {
		return nil
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return fmt.Errorf("quote notifier: %w", err)
	}
	n.markSent(quoteID, eventType, content)
	return nil
}

func (n *Notifier) shouldSend(quoteID, eventType, content string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	n.mu.Lock()
	record, ok := n.sent[notificationKey(quoteID, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	return record.hash != hashContent(content) || n.clock.Now().UTC().Sub(record.at) >= n.dedupeWindow
}

func (n *Notifier) markSent(quoteID, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(quoteID, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

// displayNumber mirrors Quote.DisplayNumber for events, which carry no
// creation year; the event time is used instead.
func displayNumber(at time.Time, number int64) string {
	q := quote.Quote{Number: number, CreatedAt: at}
	return q.DisplayNumber()
}

func notificationKey(quoteID, eventType string) string {
	return quoteID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
