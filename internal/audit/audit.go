package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actions recorded for quotes.
const (
	ActionQuoteCreate   = "quote.create"
	ActionQuoteUpdate   = "quote.update_draft"
	ActionQuoteFinalize = "quote.finalize"
	ActionQuoteExport   = "quote.export"
	ActionRatesReload   = "rate_tables.reload"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	OwnerID       string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage(`{}`)
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}

// LogWriter writes entries to the application log. Used when no database is
// configured.
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter constructs a log-backed audit logger.
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Log writes the entry as a structured log line.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	w.logger.Info().
		Str("audit_id", entry.ID).
		Str("owner_id", entry.OwnerID).
		Str("actor", entry.Actor).
		Str("action", entry.Action).
		Str("resource", entry.ResourceType+"/"+entry.ResourceID).
		RawJSON("metadata", entry.Metadata).
		Str("ip", entry.IP).
		Msg("audit")
	return nil
}

// MemoryLog keeps entries in memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Log appends the entry.
func (m *MemoryLog) Log(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, normalize(entry))
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
