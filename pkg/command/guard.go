package command

// AffirmativeToken is the exact reply that executes a pending
// destructive operation. Any other reply cancels it.
const AffirmativeToken = "YES"

// PendingKind identifies which destructive operation awaits confirmation.
type PendingKind int

const (
	NoneRequested PendingKind = iota
	PendingBulkErase
	PendingDelete
)

func (k PendingKind) String() string {
	switch k {
	case PendingBulkErase:
		return "bulk-erase"
	case PendingDelete:
		return "delete"
	default:
		return "none"
	}
}

// Decision is the guard's verdict on the reply that resolved a pending
// confirmation.
type Decision int

const (
	DecisionExecute Decision = iota
	DecisionCancel
)

// Guard is the two-phase commit wrapper around destructive operations.
// At most one confirmation is outstanding process-wide; the next inbound
// command always resolves it, so no timeout is needed.
type Guard struct {
	pending PendingKind
	target  string
}

// NewGuard returns a guard with no confirmation outstanding.
func NewGuard() *Guard {
	return &Guard{}
}

// Pending reports the outstanding operation, if any.
func (g *Guard) Pending() (PendingKind, string) {
	return g.pending, g.target
}

// RequestBulkErase arms the guard for a bulk erase. Returns false if a
// confirmation is already outstanding.
func (g *Guard) RequestBulkErase() bool {
	if g.pending != NoneRequested {
		return false
	}
	g.pending = PendingBulkErase
	return true
}

// RequestDelete arms the guard for deletion of a single artifact.
func (g *Guard) RequestDelete(target string) bool {
	if g.pending != NoneRequested {
		return false
	}
	g.pending = PendingDelete
	g.target = target
	return true
}

// Intercept inspects an inbound raw command. When a confirmation is
// outstanding it consumes the command, whatever it is, and returns the
// resolved operation with handled=true. The raw text must equal
// AffirmativeToken exactly for DecisionExecute; the cancelling command
// is swallowed, never forwarded to normal dispatch.
func (g *Guard) Intercept(raw string) (kind PendingKind, target string, decision Decision, handled bool) {
	if g.pending == NoneRequested {
		return NoneRequested, "", DecisionCancel, false
	}

	kind, target = g.pending, g.target
	g.pending = NoneRequested
	g.target = ""

	if raw == AffirmativeToken {
		return kind, target, DecisionExecute, true
	}
	return kind, target, DecisionCancel, true
}
