// internal/command/log.go
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultBound is how many applied commands are kept for undo.
const DefaultBound = 100

// ErrNoHistory is returned by UndoLast when there is nothing to undo.
var ErrNoHistory = errors.New("no command to undo")

// Action is one half of a reversible command. Compensations must close over
// a snapshot taken before the forward action ran, never re-derive it.
type Action func(ctx context.Context) error

// Entry is an applied command kept for undo.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	AppliedAt time.Time `json:"applied_at"`

	compensate Action
}

// Log is a bounded, ordered history of applied commands. It is not safe for
// concurrent use: the owner must serialize calls, typically under the same
// lock that guards the state the actions touch.
type Log struct {
	bound   int
	now     func() time.Time
	history []Entry
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates a log holding at most bound entries. A bound below one
// falls back to DefaultBound.
func NewLog(bound int, opts ...Option) *Log {
	if bound < 1 {
		bound = DefaultBound
	}
	l := &Log{bound: bound, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit runs apply and, only if it succeeds, records the pair. Once the bound
// is exceeded the oldest entry is dropped without being compensated.
func (l *Log) Submit(ctx context.Context, kind string, apply, compensate Action) (uuid.UUID, error) {
	if apply == nil || compensate == nil {
		return uuid.Nil, fmt.Errorf("command %q: apply and compensate are required", kind)
	}
	if err := apply(ctx); err != nil {
		return uuid.Nil, err
	}
	e := Entry{
		ID:         uuid.New(),
		Kind:       kind,
		AppliedAt:  l.now(),
		compensate: compensate,
	}
	l.history = append(l.history, e)
	if over := len(l.history) - l.bound; over > 0 {
		clear(l.history[:over])
		l.history = l.history[over:]
	}
	return e.ID, nil
}

// UndoLast compensates the most recently applied command. If compensation
// fails the entry stays on top of the log so the undo can be retried.
func (l *Log) UndoLast(ctx context.Context) (Entry, error) {
	if len(l.history) == 0 {
		return Entry{}, ErrNoHistory
	}
	last := len(l.history) - 1
	e := l.history[last]
	l.history[last] = Entry{}
	l.history = l.history[:last]
	if err := e.compensate(ctx); err != nil {
		l.history = append(l.history, e)
		return e, err
	}
	return e, nil
}

func (l *Log) Len() int { return len(l.history) }

func (l *Log) Bound() int { return l.bound }

// Entries returns the history oldest first. The returned entries carry
// metadata only and cannot be replayed.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.history))
	for i, e := range l.history {
		out[i] = Entry{ID: e.ID, Kind: e.Kind, AppliedAt: e.AppliedAt}
	}
	return out
}
