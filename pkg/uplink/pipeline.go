// Package uplink drives chunked, signal-gated transmission of pending
// log data over the long-range link. The log store is only shrunk after
// a confirmed send, never optimistically, so an interrupted transmission
// leaves untransmitted data intact for the next attempt. Delivery is
// at-least-once; the journal makes the duplicate window observable.
package uplink

import (
	"bytes"
	"context"
	"hash/fnv"
	"time"

	"github.com/trackflow/trackflow/pkg/errors"
	"github.com/trackflow/trackflow/pkg/journal"
)

// Defaults mirror the field deployment: a 95-byte payload frame, signal
// quality reported on a 0-5 scale with 2 as the usable floor, and three
// attempts per trigger.
const (
	DefaultPayloadCeiling = 95
	DefaultMinSignal      = 2
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 2 * time.Second
)

// Modem is the long-range link collaborator. Send blocks until the link
// acknowledges the payload or its internal timeout expires.
type Modem interface {
	SignalQuality(ctx context.Context) (int, error)
	Send(ctx context.Context, payload []byte) error
}

// Store is the slice of the log store the pipeline needs.
type Store interface {
	PeekOldest(maxBytes int) ([]byte, error)
	CommitConsumed(n int) error
	TotalPendingBytes() (int64, error)
}

// Progress receives human-readable transmission progress for the
// operator link. May be nil.
type Progress func(percent int, status string)

// OutcomeKind classifies the result of one transmission trigger.
type OutcomeKind int

const (
	NothingToSend OutcomeKind = iota
	LinkTooWeak
	IntegrityRejected
	Failed
	Success
)

func (k OutcomeKind) String() string {
	switch k {
	case NothingToSend:
		return "nothing to send"
	case LinkTooWeak:
		return "link too weak"
	case IntegrityRejected:
		return "integrity rejected"
	case Failed:
		return "failed"
	case Success:
		return "success"
	}
	return "unknown"
}

// Outcome is the result of one TransmitPending or SendMessage call.
type Outcome struct {
	Kind     OutcomeKind
	Bytes    int
	Elapsed  time.Duration
	Attempts int
	Quality  int
	Err      error
}

// Pipeline sequences signal gate, peek, integrity check, retry loop and
// commit for each transmission trigger.
type Pipeline struct {
	modem    Modem
	store    Store
	journal  *journal.Journal
	progress Progress

	payloadCeiling int
	minSignal      int
	maxAttempts    int
	backoff        time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPayloadCeiling sets the maximum bytes per transmitted chunk.
func WithPayloadCeiling(n int) Option {
	return func(p *Pipeline) { p.payloadCeiling = n }
}

// WithMinSignal sets the signal-quality floor below which no attempt is
// made.
func WithMinSignal(q int) Option {
	return func(p *Pipeline) { p.minSignal = q }
}

// WithMaxAttempts sets the per-trigger attempt budget.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) { p.maxAttempts = n }
}

// WithBackoff sets the base delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(p *Pipeline) { p.backoff = d }
}

// WithProgress sets the progress callback.
func WithProgress(fn Progress) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithJournal records every attempt in a durable journal.
func WithJournal(j *journal.Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

// New builds a pipeline over the given modem and store.
func New(modem Modem, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		modem:          modem,
		store:          store,
		payloadCeiling: DefaultPayloadCeiling,
		minSignal:      DefaultMinSignal,
		maxAttempts:    DefaultMaxAttempts,
		backoff:        DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignalQuality queries the modem, for the signal-check command and the
// status report.
func (p *Pipeline) SignalQuality(ctx context.Context) (int, error) {
	q, err := p.modem.SignalQuality(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeModemSend, "signal query failed")
	}
	return q, nil
}

// TransmitPending sends up to one payload-ceiling chunk of the oldest
// pending log bytes. The consumed bytes are committed out of the store
// only after the modem acknowledged the send.
func (p *Pipeline) TransmitPending(ctx context.Context) Outcome {
	start := time.Now()

	quality, err := p.modem.SignalQuality(ctx)
	if err != nil {
		return Outcome{Kind: Failed, Err: errors.Wrap(err, errors.CodeModemSend, "signal query failed")}
	}
	if quality < p.minSignal {
		return Outcome{Kind: LinkTooWeak, Quality: quality}
	}

	chunk, err := p.store.PeekOldest(p.payloadCeiling)
	if err != nil {
		return Outcome{Kind: Failed, Quality: quality, Err: err}
	}
	if len(chunk) == 0 {
		// An empty peek over a non-empty store means the head record
		// does not fit the payload ceiling. Report the wedge instead
		// of pretending the store is drained.
		if pending, perr := p.store.TotalPendingBytes(); perr == nil && pending > 0 {
			return Outcome{Kind: IntegrityRejected, Quality: quality,
				Err: errors.New(errors.CodeIntegrityRejected, "pending record exceeds the payload ceiling").
					WithContext("pending", pending).
					WithContext("ceiling", p.payloadCeiling)}
		}
		return Outcome{Kind: NothingToSend, Quality: quality}
	}
	if !saneChunk(chunk) {
		return Outcome{Kind: IntegrityRejected, Quality: quality,
			Err: errors.New(errors.CodeIntegrityRejected, "chunk failed sanity check")}
	}

	var entry *journal.Entry
	if p.journal != nil {
		if entry, err = p.journal.Begin(ctx, len(chunk), chunkSum(chunk)); err != nil {
			return Outcome{Kind: Failed, Quality: quality, Err: err}
		}
	}

	p.report(10, "transmitting")
	attempts, sendErr := p.send(ctx, chunk)
	if sendErr != nil {
		if p.journal != nil {
			p.journal.MarkFailed(ctx, entry, attempts, sendErr)
		}
		p.report(0, "transmission failed")
		return Outcome{Kind: Failed, Quality: quality, Attempts: attempts, Err: sendErr}
	}

	if p.journal != nil {
		if err := p.journal.MarkSent(ctx, entry, attempts); err != nil {
			// The send is acknowledged; a journal fault must not
			// trigger a duplicate by skipping the commit.
			p.report(90, "journal degraded")
		}
	}
	if err := p.store.CommitConsumed(len(chunk)); err != nil {
		return Outcome{Kind: Failed, Bytes: len(chunk), Attempts: attempts, Quality: quality,
			Err: errors.Wrap(err, errors.CodeWriteFailed, "sent but not committed")}
	}
	if p.journal != nil {
		p.journal.Resolve(ctx, entry)
	}

	p.report(100, "transmission complete")
	return Outcome{
		Kind:     Success,
		Bytes:    len(chunk),
		Elapsed:  time.Since(start),
		Attempts: attempts,
		Quality:  quality,
	}
}

// SendMessage pushes free text through the same gate and retry loop
// without touching the log store.
func (p *Pipeline) SendMessage(ctx context.Context, text string) Outcome {
	start := time.Now()

	quality, err := p.modem.SignalQuality(ctx)
	if err != nil {
		return Outcome{Kind: Failed, Err: errors.Wrap(err, errors.CodeModemSend, "signal query failed")}
	}
	if quality < p.minSignal {
		return Outcome{Kind: LinkTooWeak, Quality: quality}
	}
	if len(text) == 0 {
		return Outcome{Kind: NothingToSend, Quality: quality}
	}

	payload := []byte(text)
	if len(payload) > p.payloadCeiling {
		payload = payload[:p.payloadCeiling]
	}

	attempts, sendErr := p.send(ctx, payload)
	if sendErr != nil {
		return Outcome{Kind: Failed, Quality: quality, Attempts: attempts, Err: sendErr}
	}
	return Outcome{
		Kind:     Success,
		Bytes:    len(payload),
		Elapsed:  time.Since(start),
		Attempts: attempts,
		Quality:  quality,
	}
}

// send runs the bounded retry loop. Between attempts it re-checks the
// signal and aborts the remaining budget if the link collapsed.
func (p *Pipeline) send(ctx context.Context, payload []byte) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			p.report(10+30*(attempt-1), "retrying")
			if err := p.wait(ctx, time.Duration(attempt-1)*p.backoff); err != nil {
				return attempt - 1, errors.ContextCanceled("transmit backoff")
			}
			quality, qerr := p.modem.SignalQuality(ctx)
			if qerr == nil && quality < p.minSignal {
				// lastErr is always set here: a retry only runs after
				// a failed attempt. The abort reports that failure,
				// with the collapsed signal as context.
				return attempt - 1, errors.Wrap(lastErr,
					errors.CodeRetriesExhausted, "signal collapsed mid-retry").
					WithContext("quality", quality).
					WithContext("minimum", p.minSignal)
			}
		}
		if err := p.modem.Send(ctx, payload); err != nil {
			lastErr = err
			continue
		}
		return attempt, nil
	}
	return p.maxAttempts, errors.Wrap(lastErr, errors.CodeRetriesExhausted, "attempt budget exhausted")
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) report(percent int, status string) {
	if p.progress != nil {
		p.progress(percent, status)
	}
}

// saneChunk rejects chunks that cannot be record data: empty, or
// missing every recognized field separator.
func saneChunk(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	return bytes.IndexByte(chunk, ',') >= 0 || bytes.IndexByte(chunk, '\n') >= 0
}

// chunkSum is the FNV-64a fingerprint recorded on the journal entry.
func chunkSum(chunk []byte) uint64 {
	h := fnv.New64a()
	h.Write(chunk)
	return h.Sum64()
}
