package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"serramenti/internal/observability/metrics"
)

// DefaultDebounce is the quiescence window before an automatic save.
const DefaultDebounce = 800 * time.Millisecond

// Saver persists a configuration snapshot and returns the draft id it wrote.
type Saver interface {
	SaveDraft(ctx context.Context, snap Snapshot) (string, error)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, snap Snapshot) (string, error)

// SaveDraft calls f.
func (f SaverFunc) SaveDraft(ctx context.Context, snap Snapshot) (string, error) {
	return f(ctx, snap)
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SaveToken identifies one scheduled save. Its context is cancelled as soon
// as a newer edit supersedes it.
type SaveToken struct {
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
	fired  bool
}

// Seq is the monotonically increasing attempt number.
func (t *SaveToken) Seq() uint64 { return t.seq }

// Context is cancelled when the token is superseded or the autosaver stops.
func (t *SaveToken) Context() context.Context { return t.ctx }

// Autosaver debounces session edits into draft saves. Only the result of the
// most recent token is applied to the session.
type Autosaver struct {
	session  *Session
	saver    Saver
	debounce time.Duration
	after    AfterFunc
	now      func() time.Time
	logger   zerolog.Logger

	root   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	seq    uint64
	active *SaveToken
	timer  Timer
	wg     sync.WaitGroup
	// saving serializes saves so a save always sees the draft id written
	// by the one before it.
	saving sync.Mutex
}

// AutosaverOption configures an Autosaver.
type AutosaverOption func(*Autosaver)

// WithDebounce sets the quiescence window.
func WithDebounce(d time.Duration) AutosaverOption {
	return func(a *Autosaver) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// WithAfterFunc replaces the timer factory.
func WithAfterFunc(fn AfterFunc) AutosaverOption {
	return func(a *Autosaver) {
		if fn != nil {
			a.after = fn
		}
	}
}

// WithNow replaces the clock used to stamp saves.
func WithNow(fn func() time.Time) AutosaverOption {
	return func(a *Autosaver) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithAutosaveLogger sets the logger.
func WithAutosaveLogger(logger zerolog.Logger) AutosaverOption {
	return func(a *Autosaver) {
		a.logger = logger
	}
}

// NewAutosaver attaches an autosaver to the session. Every edit from then on
// reschedules a save.
func NewAutosaver(s *Session, saver Saver, opts ...AutosaverOption) (*Autosaver, error) {
	if s == nil {
		return nil, errors.New("autosaver: nil session")
	}
	if saver == nil {
		return nil, errors.New("autosaver: nil saver")
	}
	root, stop := context.WithCancel(context.Background())
	a := &Autosaver{
		session:  s,
		saver:    saver,
		debounce: DefaultDebounce,
		after:    realAfterFunc,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zerolog.Nop(),
		root:     root,
		stop:     stop,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	s.setOnChange(a.onChange)
	return a, nil
}

func (a *Autosaver) onChange(reset bool) {
	if reset {
		a.Cancel()
		return
	}
	a.Schedule()
}

// Schedule cancels the outstanding token and arms a new one.
func (a *Autosaver) Schedule() *SaveToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.root.Err() != nil {
		return nil
	}
	a.cancelLocked()

	a.seq++
	ctx, cancel := context.WithCancel(a.root)
	token := &SaveToken{seq: a.seq, ctx: ctx, cancel: cancel}
	a.active = token
	a.timer = a.after(a.debounce, func() { a.fire(token) })
	return token
}

// Cancel drops the outstanding token, if any.
func (a *Autosaver) Cancel() {
	a.mu.Lock()
	a.cancelLocked()
	a.mu.Unlock()
}

// Active returns the token whose result will be applied, or nil.
func (a *Autosaver) Active() *SaveToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Stop cancels pending work and waits for running saves to return.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	a.cancelLocked()
	a.stop()
	a.mu.Unlock()
	a.session.setOnChange(nil)
	a.wg.Wait()
}

func (a *Autosaver) cancelLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.active != nil {
		a.active.cancel()
		a.active = nil
	}
}

// Flush runs the pending save now instead of waiting for the debounce
// window, then waits for running saves to return.
func (a *Autosaver) Flush() {
	a.mu.Lock()
	token := a.active
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	if token != nil {
		a.fire(token)
	}
	a.wg.Wait()
}

func (a *Autosaver) fire(token *SaveToken) {
	a.mu.Lock()
	if a.active != token || token.fired {
		a.mu.Unlock()
		return
	}
	token.fired = true
	a.timer = nil
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	a.saving.Lock()
	defer a.saving.Unlock()
	if token.ctx.Err() != nil {
		metrics.IncAutosave(metrics.AutosaveStale)
		return
	}
	snap := a.session.Snapshot()
	if snap.Request.FrameID == "" {
		a.release(token)
		return
	}
	draftID, err := a.saver.SaveDraft(token.ctx, snap)
	a.apply(token, snap, draftID, err)
}

func (a *Autosaver) apply(token *SaveToken, snap Snapshot, draftID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != token || token.ctx.Err() != nil {
		if err == nil {
			a.session.adoptDraft(snap, draftID)
		}
		metrics.IncAutosave(metrics.AutosaveStale)
		a.logger.Debug().Uint64("token", token.seq).Msg("autosave result discarded")
		return
	}
	a.active = nil
	token.cancel()

	if !a.session.completeSave(snap, draftID, a.now(), err) {
		metrics.IncAutosave(metrics.AutosaveStale)
		return
	}
	if err != nil {
		metrics.IncAutosave(metrics.AutosaveFailed)
		a.logger.Warn().Err(err).Uint64("token", token.seq).Msg("autosave failed")
		return
	}
	metrics.IncAutosave(metrics.AutosaveApplied)
	a.logger.Debug().Uint64("token", token.seq).Str("draft_id", draftID).Msg("autosave applied")
}

func (a *Autosaver) release(token *SaveToken) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == token {
		a.active = nil
		token.cancel()
	}
}
