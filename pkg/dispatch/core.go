// Package dispatch routes operator commands and drives the idle-loop
// tick. Core owns the confirmation guard, the session state machine,
// the log store and the transmission pipeline; exactly one of
// {service a command, run one idle tick} executes at a time, to
// completion, so none of the owned state needs locking.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trackflow/trackflow/internal/model"
	"github.com/trackflow/trackflow/pkg/command"
	"github.com/trackflow/trackflow/pkg/errors"
	"github.com/trackflow/trackflow/pkg/journal"
	"github.com/trackflow/trackflow/pkg/logstore"
	"github.com/trackflow/trackflow/pkg/session"
	"github.com/trackflow/trackflow/pkg/uplink"
)

// DefaultFrameSize is the operator link's maximum outbound frame, the
// same 95-byte ceiling as the long-range payload.
const DefaultFrameSize = 95

// Sampler is the sensing collaborator. ok is false when no valid fix or
// time is available yet; the tick simply skips that sample.
type Sampler interface {
	Sample() (rec model.Record, ok bool)
}

// HelpProvider supplies the menu and per-command help text that the
// dispatcher streams back to the operator.
type HelpProvider interface {
	Menu() string
	Help(topic string) string
}

// Recorder receives session and transmission history. May be nil.
type Recorder interface {
	RecordSession(sum session.Summary)
	RecordTransmission(at time.Time, out uplink.Outcome)
}

// OutboundKind separates operator messages from host-runtime signals.
type OutboundKind int

const (
	// Message is one frame of text for the operator link.
	Message OutboundKind = iota
	// RestartRequested asks the host runtime to restart the tracker.
	// The core never exits the process itself.
	RestartRequested
)

// Outbound is one frame produced by a Tick.
type Outbound struct {
	Kind OutboundKind
	Text string
}

// Core is the command dispatcher and tick loop.
type Core struct {
	guard    *command.Guard
	sess     *session.Machine
	store    *logstore.Store
	pipe     *uplink.Pipeline
	journal  *journal.Journal
	sampler  Sampler
	help     HelpProvider
	recorder Recorder

	frameSize     int
	autoTransmit  int64 // pending-byte threshold, 0 disables
	linkConnected bool
	lastOutcome   *uplink.Outcome
	lastOutcomeAt time.Time
}

// Option configures a Core.
type Option func(*Core)

// WithFrameSize sets the operator link frame size.
func WithFrameSize(n int) Option {
	return func(c *Core) { c.frameSize = n }
}

// WithAutoTransmit makes the idle tick trigger a transmission whenever
// pending bytes reach n. Zero disables automatic transmission.
func WithAutoTransmit(n int64) Option {
	return func(c *Core) { c.autoTransmit = n }
}

// WithRecorder attaches a history recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Core) { c.recorder = r }
}

// WithJournal lets the status report surface unresolved transmission
// attempts left by a crash.
func WithJournal(j *journal.Journal) Option {
	return func(c *Core) { c.journal = j }
}

// WithHelp replaces the default help provider.
func WithHelp(h HelpProvider) Option {
	return func(c *Core) { c.help = h }
}

// New assembles a dispatcher over its owned components.
func New(store *logstore.Store, pipe *uplink.Pipeline, sampler Sampler, opts ...Option) *Core {
	c := &Core{
		guard:     command.NewGuard(),
		sess:      session.New(),
		store:     store,
		pipe:      pipe,
		sampler:   sampler,
		help:      defaultHelp{},
		frameSize: DefaultFrameSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session exposes the state machine for status surfaces outside the
// command path.
func (c *Core) Session() *session.Machine { return c.sess }

// LinkConnected records that the operator link came up, pausing an
// active session.
func (c *Core) LinkConnected() {
	c.linkConnected = true
	c.sess.LinkConnected()
}

// LinkDisconnected records that the operator link dropped, resuming a
// paused session. Any outstanding confirmation dies with the link.
func (c *Core) LinkDisconnected() {
	c.linkConnected = false
	c.sess.LinkDisconnected()
	c.guard.Intercept("")
}

// Tick services one inbound command, or runs one idle-loop pass when
// inbound is nil. It returns the outbound frames for the operator link.
func (c *Core) Tick(ctx context.Context, now time.Time, inbound *string) []Outbound {
	if inbound != nil {
		return c.serve(ctx, now, *inbound)
	}
	return c.idle(ctx, now)
}

// serve routes one operator command.
func (c *Core) serve(ctx context.Context, now time.Time, raw string) []Outbound {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// The guard sees the raw text before any normalization; an
	// outstanding confirmation consumes whatever arrives next.
	if kind, target, decision, handled := c.guard.Intercept(raw); handled {
		if decision != command.DecisionExecute {
			return c.frames(fmt.Sprintf("Cancelled %s.", kind))
		}
		return c.confirmed(now, kind, target)
	}

	cmd := command.Normalize(raw)
	switch cmd.ID {
	case command.Menu:
		return c.frames(c.help.Menu())
	case command.Help:
		return c.frames(c.help.Help(cmd.Params))
	case command.List:
		return c.listFiles()
	case command.Start:
		if !c.sess.Start(now) {
			return c.frames("Already logging.")
		}
		msg := fmt.Sprintf("Logging started, session %s. Interval %s, duration %s.",
			shortID(c.sess.ID().String()), c.sess.Interval(), c.sess.Duration())
		if c.sess.State() == session.Paused {
			msg += " Sampling begins when you disconnect."
		}
		return c.frames(msg)
	case command.Stop:
		sum, ok := c.sess.Stop(now)
		if !ok {
			return c.frames("Not logging.")
		}
		c.recordSession(sum)
		return c.frames(fmt.Sprintf("Logging stopped after %s.", sum.StoppedAt.Sub(sum.StartedAt).Round(time.Second)))
	case command.QuickTrack:
		if !c.sess.QuickTrack(now) {
			return c.frames("Already logging.")
		}
		msg := fmt.Sprintf("Quick track started: %s interval, %s duration.",
			session.QuickTrackInterval, session.QuickTrackDuration)
		if c.sess.State() == session.Paused {
			msg += " Sampling begins when you disconnect."
		}
		return c.frames(msg)
	case command.Duration:
		return c.setDuration(cmd.Params)
	case command.Interval:
		return c.setInterval(cmd.Params)
	case command.Status:
		return c.status(ctx, now)
	case command.Signal:
		return c.signal(ctx)
	case command.Transmit:
		return c.transmit(ctx, now)
	case command.Message:
		return c.message(ctx, now, cmd.Params)
	case command.Validate:
		return c.validate(cmd.Params)
	case command.ClearAll:
		c.guard.RequestBulkErase()
		return c.frames("Delete ALL log data? Send YES to confirm, anything else cancels.")
	case command.Delete:
		if cmd.Params == "" {
			return c.frames("Usage: D <file>, e.g. D TRK00001.DAT")
		}
		c.guard.RequestDelete(cmd.Params)
		return c.frames(fmt.Sprintf("Delete %s? Send YES to confirm, anything else cancels.", cmd.Params))
	case command.Reboot:
		return append(c.frames("Restarting."), Outbound{Kind: RestartRequested})
	default:
		return c.unknown(cmd.Raw)
	}
}

// confirmed executes a destructive operation the guard approved.
func (c *Core) confirmed(now time.Time, kind command.PendingKind, target string) []Outbound {
	switch kind {
	case command.PendingBulkErase:
		if err := c.store.EraseAll(); err != nil {
			return c.errorFrames(err)
		}
		return c.frames("All log data erased.")
	case command.PendingDelete:
		if err := c.store.RemoveFile(target); err != nil {
			return c.errorFrames(err)
		}
		return c.frames(fmt.Sprintf("Deleted %s.", target))
	}
	return nil
}

// idle runs the unattended pass: duration expiry, interval sampling and
// threshold-triggered transmission.
func (c *Core) idle(ctx context.Context, now time.Time) []Outbound {
	var out []Outbound

	if sum, expired := c.sess.Tick(now); expired {
		c.recordSession(sum)
		out = append(out, c.frames("Session duration reached, logging stopped.")...)
	}

	if c.sess.ShouldSample(now) {
		if rec, ok := c.sampler.Sample(); ok {
			if err := c.store.Append(rec); err != nil {
				out = append(out, c.errorFrames(err)...)
			}
		}
	}

	if c.autoTransmit > 0 && !c.linkConnected {
		if pending, err := c.store.TotalPendingBytes(); err == nil && pending >= c.autoTransmit {
			res := c.pipe.TransmitPending(ctx)
			c.noteOutcome(now, res)
		}
	}
	return out
}

func (c *Core) listFiles() []Outbound {
	files, err := c.store.ListFiles()
	if err != nil {
		return c.errorFrames(err)
	}
	if len(files) == 0 {
		return c.frames("No log files.")
	}
	var b strings.Builder
	var total int64
	for _, f := range files {
		fmt.Fprintf(&b, "%s  %d bytes\n", f.Name, f.Size)
		total += f.Size
	}
	fmt.Fprintf(&b, "%d file(s), %d bytes pending", len(files), total)
	return c.frames(b.String())
}

func (c *Core) setDuration(params string) []Outbound {
	minutes, err := strconv.Atoi(strings.TrimSpace(params))
	if err != nil {
		return c.frames("Usage: DT<minutes>, 1-1440.")
	}
	if err := c.sess.SetDuration(minutes); err != nil {
		return c.frames("Duration must be 1-1440 minutes.")
	}
	return c.frames(fmt.Sprintf("Duration set to %d minute(s).", minutes))
}

func (c *Core) setInterval(params string) []Outbound {
	millis, err := strconv.Atoi(strings.TrimSpace(params))
	if err != nil {
		return c.frames("Usage: UI<milliseconds>.")
	}
	applied := c.sess.SetInterval(millis)
	if applied != time.Duration(millis)*time.Millisecond {
		return c.frames(fmt.Sprintf("Interval clamped to %s.", applied))
	}
	return c.frames(fmt.Sprintf("Interval set to %s.", applied))
}

func (c *Core) status(ctx context.Context, now time.Time) []Outbound {
	var b strings.Builder

	fmt.Fprintf(&b, "State: %s\n", c.sess.State())
	if c.sess.State() != session.Idle {
		fmt.Fprintf(&b, "Session: %s, elapsed %s, remaining %s\n",
			shortID(c.sess.ID().String()),
			c.sess.Elapsed(now).Round(time.Second),
			c.sess.Remaining(now).Round(time.Second))
	}
	fmt.Fprintf(&b, "Interval: %s  Duration: %s\n", c.sess.Interval(), c.sess.Duration())

	if pending, err := c.store.TotalPendingBytes(); err == nil {
		files, _ := c.store.ListFiles()
		fmt.Fprintf(&b, "Pending: %d bytes in %d file(s)\n", pending, len(files))
	} else {
		fmt.Fprintf(&b, "Pending: storage unavailable (%s)\n", errors.GetCode(err))
	}

	if q, err := c.pipe.SignalQuality(ctx); err == nil {
		fmt.Fprintf(&b, "Signal: %d/5\n", q)
	} else {
		b.WriteString("Signal: unavailable\n")
	}

	if c.lastOutcome != nil {
		fmt.Fprintf(&b, "Last transmission: %s at %s\n",
			c.lastOutcome.Kind, c.lastOutcomeAt.UTC().Format("15:04:05"))
	}
	if c.journal != nil {
		if open, err := c.journal.OpenSent(ctx); err == nil && len(open) > 0 {
			fmt.Fprintf(&b, "Warning: %d unresolved transmission(s), duplicates possible\n", len(open))
		}
	}
	return c.frames(strings.TrimRight(b.String(), "\n"))
}

func (c *Core) signal(ctx context.Context) []Outbound {
	q, err := c.pipe.SignalQuality(ctx)
	if err != nil {
		return c.errorFrames(err)
	}
	verdict := "usable"
	if q < uplink.DefaultMinSignal {
		verdict = "too weak to transmit"
	}
	return c.frames(fmt.Sprintf("Signal quality: %d/5 (%s)", q, verdict))
}

func (c *Core) transmit(ctx context.Context, now time.Time) []Outbound {
	res := c.pipe.TransmitPending(ctx)
	c.noteOutcome(now, res)

	switch res.Kind {
	case uplink.Success:
		return c.frames(fmt.Sprintf("Sent %d bytes in %d attempt(s), %s.",
			res.Bytes, res.Attempts, res.Elapsed.Round(time.Millisecond)))
	case uplink.NothingToSend:
		return c.frames("Nothing to transmit.")
	case uplink.LinkTooWeak:
		return c.frames(fmt.Sprintf("Signal too weak (%d/5), transmission skipped.", res.Quality))
	case uplink.IntegrityRejected:
		return c.frames("Pending chunk failed integrity check, not transmitted.")
	default:
		return c.frames(fmt.Sprintf("Transmission failed after %d attempt(s): %s.",
			res.Attempts, errors.GetCode(res.Err)))
	}
}

func (c *Core) message(ctx context.Context, now time.Time, text string) []Outbound {
	if text == "" {
		return c.frames("Usage: P<text>.")
	}
	res := c.pipe.SendMessage(ctx, text)
	c.noteOutcome(now, res)
	if res.Kind == uplink.Success {
		return c.frames(fmt.Sprintf("Message sent, %d bytes.", res.Bytes))
	}
	if res.Kind == uplink.LinkTooWeak {
		return c.frames(fmt.Sprintf("Signal too weak (%d/5), message not sent.", res.Quality))
	}
	return c.frames("Message failed.")
}

func (c *Core) validate(params string) []Outbound {
	name := strings.TrimSpace(params)
	if name == "" {
		return c.frames("Usage: VD<file>, e.g. VDTRK00001.DAT")
	}
	rep, err := c.store.ValidateFile(name)
	if err != nil {
		return c.errorFrames(err)
	}
	if rep.OK() {
		return c.frames(fmt.Sprintf("%s: %d record(s), %d bytes, all checksums OK.",
			rep.Name, rep.Records, rep.Bytes))
	}
	return c.frames(fmt.Sprintf("%s: %d good, %d corrupt record(s).",
		rep.Name, rep.Records, rep.Corrupt))
}

// unknown treats the token as a request to stream the named artifact.
func (c *Core) unknown(raw string) []Outbound {
	data, err := c.store.ReadFile(raw)
	if err != nil {
		if errors.IsCode(err, errors.CodeFileNotFound) {
			return c.frames(fmt.Sprintf("Unknown command %q. Send M for the menu.", raw))
		}
		return c.errorFrames(err)
	}
	return c.frames(strings.TrimRight(string(data), "\n"))
}

func (c *Core) noteOutcome(now time.Time, res uplink.Outcome) {
	c.lastOutcome = &res
	c.lastOutcomeAt = now
	if c.recorder != nil {
		c.recorder.RecordTransmission(now, res)
	}
}

func (c *Core) recordSession(sum session.Summary) {
	if c.recorder != nil {
		c.recorder.RecordSession(sum)
	}
}

func (c *Core) errorFrames(err error) []Outbound {
	return c.frames(fmt.Sprintf("Error %s: %s", errors.GetCode(err), err.Error()))
}

// frames chunks text to the operator link frame size, preferring line
// boundaries.
func (c *Core) frames(text string) []Outbound {
	var out []Outbound
	for _, line := range strings.Split(text, "\n") {
		for len(line) > c.frameSize {
			out = append(out, Outbound{Kind: Message, Text: line[:c.frameSize]})
			line = line[c.frameSize:]
		}
		if line != "" {
			out = append(out, Outbound{Kind: Message, Text: line})
		}
	}
	return out
}

// shortID trims a UUID to its first group for operator display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
