// Package journal persists a durable trace of transmission attempts.
// The pipeline writes an entry before each raw send and resolves it
// after the log store commit, so a crash between send and commit leaves
// an open "sent" entry behind. On restart those open entries are the
// receiver-side duplicate window made observable, instead of silent.
package journal

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trackflow/trackflow/pkg/errors"
)

// Entry phases, in lifecycle order. A committed entry is deleted from
// the backend; only in-flight and failed entries persist.
const (
	PhaseQueued = "queued"
	PhaseSent   = "sent"
	PhaseFailed = "failed"
)

// Entry records one transmission attempt.
type Entry struct {
	ID        string    `json:"id"`
	Bytes     int       `json:"bytes"`
	Checksum  uint64    `json:"checksum"`
	Attempts  int       `json:"attempts"`
	Phase     string    `json:"phase"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend persists journal entries. Implementations exist for the local
// filesystem and for Redis.
type Backend interface {
	// Save persists an entry, overwriting any previous version.
	Save(ctx context.Context, e *Entry) error

	// Load retrieves an entry by ID.
	Load(ctx context.Context, id string) (*Entry, error)

	// Delete removes an entry.
	Delete(ctx context.Context, id string) error

	// List returns every persisted entry.
	List(ctx context.Context) ([]*Entry, error)

	// Name identifies the backend for status reporting.
	Name() string
}

// Journal is the attempt ledger in front of a Backend.
type Journal struct {
	backend Backend
}

// New returns a journal over the given backend.
func New(backend Backend) *Journal {
	return &Journal{backend: backend}
}

// BackendName reports which backend is in use.
func (j *Journal) BackendName() string { return j.backend.Name() }

// Begin opens an entry for a chunk about to be transmitted.
func (j *Journal) Begin(ctx context.Context, bytes int, checksum uint64) (*Entry, error) {
	now := time.Now().UTC()
	e := &Entry{
		ID:        uuid.NewString(),
		Bytes:     bytes,
		Checksum:  checksum,
		Phase:     PhaseQueued,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := j.backend.Save(ctx, e); err != nil {
		return nil, errors.Wrap(err, errors.CodeJournal, "cannot open journal entry")
	}
	return e, nil
}

// MarkSent records that the raw send was acknowledged but the log store
// has not yet dropped the bytes. This is the window in which a crash
// produces a duplicate on the receiving end.
func (j *Journal) MarkSent(ctx context.Context, e *Entry, attempts int) error {
	e.Phase = PhaseSent
	e.Attempts = attempts
	e.UpdatedAt = time.Now().UTC()
	if err := j.backend.Save(ctx, e); err != nil {
		return errors.Wrap(err, errors.CodeJournal, "cannot mark entry sent")
	}
	return nil
}

// Resolve closes an entry after the consumed bytes were committed.
func (j *Journal) Resolve(ctx context.Context, e *Entry) error {
	if err := j.backend.Delete(ctx, e.ID); err != nil {
		return errors.Wrap(err, errors.CodeJournal, "cannot resolve journal entry")
	}
	return nil
}

// MarkFailed records a transmission that exhausted its attempts.
func (j *Journal) MarkFailed(ctx context.Context, e *Entry, attempts int, cause error) error {
	e.Phase = PhaseFailed
	e.Attempts = attempts
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.UpdatedAt = time.Now().UTC()
	if err := j.backend.Save(ctx, e); err != nil {
		return errors.Wrap(err, errors.CodeJournal, "cannot mark entry failed")
	}
	return nil
}

// OpenSent returns entries that were sent but never resolved, oldest
// first. Checked once on startup to report the possible duplicate
// window.
func (j *Journal) OpenSent(ctx context.Context) ([]*Entry, error) {
	all, err := j.backend.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeJournal, "cannot list journal entries")
	}
	var open []*Entry
	for _, e := range all {
		if e.Phase == PhaseSent {
			open = append(open, e)
		}
	}
	sortByStart(open)
	return open, nil
}

// Sweep removes failed and stale queued entries older than maxAge.
func (j *Journal) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := j.backend.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeJournal, "cannot list journal entries")
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, e := range all {
		if e.Phase == PhaseSent || e.UpdatedAt.After(cutoff) {
			continue
		}
		if err := j.backend.Delete(ctx, e.ID); err != nil {
			return removed, errors.Wrap(err, errors.CodeJournal, "cannot sweep journal entry")
		}
		removed++
	}
	return removed, nil
}

func sortByStart(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
}
