package uplink

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/trackflow/trackflow/internal/model"
	"github.com/trackflow/trackflow/pkg/errors"
	"github.com/trackflow/trackflow/pkg/journal"
	"github.com/trackflow/trackflow/pkg/logstore"
)

// The log store must satisfy the pipeline's view of it.
var _ Store = (*logstore.Store)(nil)

type fakeModem struct {
	quality     []int // successive results; the last repeats
	qualityErr  error
	sendErrs    []error // successive results; the last repeats
	sent        [][]byte
	signalCalls int
	sendCalls   int
}

func (m *fakeModem) SignalQuality(context.Context) (int, error) {
	if m.qualityErr != nil {
		return 0, m.qualityErr
	}
	i := m.signalCalls
	m.signalCalls++
	if i >= len(m.quality) {
		i = len(m.quality) - 1
	}
	return m.quality[i], nil
}

func (m *fakeModem) Send(_ context.Context, payload []byte) error {
	i := m.sendCalls
	m.sendCalls++
	if len(m.sendErrs) == 0 {
		m.sent = append(m.sent, payload)
		return nil
	}
	if i >= len(m.sendErrs) {
		i = len(m.sendErrs) - 1
	}
	if err := m.sendErrs[i]; err != nil {
		return err
	}
	m.sent = append(m.sent, payload)
	return nil
}

type fakeStore struct {
	chunk     []byte
	commitErr error
	committed []int
}

func (s *fakeStore) PeekOldest(maxBytes int) ([]byte, error) {
	if len(s.chunk) > maxBytes {
		return nil, nil
	}
	return s.chunk, nil
}

func (s *fakeStore) CommitConsumed(n int) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, n)
	if n >= len(s.chunk) {
		s.chunk = nil
	} else {
		s.chunk = s.chunk[n:]
	}
	return nil
}

func (s *fakeStore) TotalPendingBytes() (int64, error) {
	return int64(len(s.chunk)), nil
}

func newStoreWithRecords(t *testing.T, n int) *logstore.Store {
	t.Helper()
	s, err := logstore.New(afero.NewMemMapFs(), "/data")
	if err != nil {
		t.Fatalf("logstore.New: %v", err)
	}
	for i := 0; i < n; i++ {
		rec := model.Record{
			LatE7: 377749000, LonE7: -1224194000, Satellites: 7,
			Time:   time.Date(2026, 8, 30, 12, 0, i, 0, time.UTC),
			Source: "gps",
		}
		if err := s.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return s
}

func TestTransmitGatedOnSignal(t *testing.T) {
	modem := &fakeModem{quality: []int{1}}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store)

	out := p.TransmitPending(context.Background())
	if out.Kind != LinkTooWeak {
		t.Fatalf("outcome = %v, want link too weak", out.Kind)
	}
	if out.Quality != 1 {
		t.Fatalf("quality = %d, want 1", out.Quality)
	}
	if modem.sendCalls != 0 {
		t.Fatal("no attempt may be made below the signal floor")
	}
	if len(store.committed) != 0 {
		t.Fatal("store must be untouched below the signal floor")
	}
}

func TestTransmitNothingPending(t *testing.T) {
	modem := &fakeModem{quality: []int{5}}
	p := New(modem, &fakeStore{})

	out := p.TransmitPending(context.Background())
	if out.Kind != NothingToSend {
		t.Fatalf("outcome = %v, want nothing to send", out.Kind)
	}
	if modem.sendCalls != 0 {
		t.Fatal("empty store must not trigger a send")
	}
}

func TestTransmitSuccessCommitsExactly(t *testing.T) {
	store := newStoreWithRecords(t, 5)
	before, _ := store.TotalPendingBytes()

	modem := &fakeModem{quality: []int{4}}
	var reports []string
	p := New(modem, store, WithProgress(func(pct int, status string) {
		reports = append(reports, fmt.Sprintf("%d:%s", pct, status))
	}))

	out := p.TransmitPending(context.Background())
	if out.Kind != Success {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	if out.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", out.Attempts)
	}
	if len(modem.sent) != 1 || len(modem.sent[0]) != out.Bytes {
		t.Fatalf("sent %d payloads, outcome bytes %d", len(modem.sent), out.Bytes)
	}
	if out.Bytes > DefaultPayloadCeiling {
		t.Fatalf("chunk of %d bytes exceeds the payload ceiling", out.Bytes)
	}
	if modem.sent[0][len(modem.sent[0])-1] != '\n' {
		t.Fatal("transmitted chunk must end on a record boundary")
	}

	after, _ := store.TotalPendingBytes()
	if before-after != int64(out.Bytes) {
		t.Fatalf("store shrank by %d, sent %d", before-after, out.Bytes)
	}
	if len(reports) == 0 {
		t.Fatal("expected progress reports")
	}
}

func TestTransmitRetriesThenSucceeds(t *testing.T) {
	modem := &fakeModem{
		quality:  []int{5},
		sendErrs: []error{fmt.Errorf("no ack"), fmt.Errorf("no ack"), nil},
	}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store, WithBackoff(0))

	out := p.TransmitPending(context.Background())
	if out.Kind != Success {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", out.Attempts)
	}
	if len(store.committed) != 1 || store.committed[0] != 6 {
		t.Fatalf("commit calls = %v, want one commit of 6", store.committed)
	}
}

func TestTransmitBudgetExhaustedKeepsData(t *testing.T) {
	modem := &fakeModem{quality: []int{5}, sendErrs: []error{fmt.Errorf("no ack")}}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store, WithBackoff(0))

	out := p.TransmitPending(context.Background())
	if out.Kind != Failed {
		t.Fatalf("outcome = %v, want failed", out.Kind)
	}
	if !errors.IsCode(out.Err, errors.CodeRetriesExhausted) {
		t.Fatalf("err = %v, want retries exhausted", out.Err)
	}
	if modem.sendCalls != DefaultMaxAttempts {
		t.Fatalf("send calls = %d, want %d", modem.sendCalls, DefaultMaxAttempts)
	}
	if len(store.committed) != 0 {
		t.Fatal("pending bytes must survive a failed transmission")
	}
}

func TestTransmitAbortsWhenSignalCollapses(t *testing.T) {
	// Gate passes at quality 4, then the mid-retry re-check sees 0.
	modem := &fakeModem{quality: []int{4, 0}, sendErrs: []error{fmt.Errorf("no ack")}}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store, WithBackoff(0))

	out := p.TransmitPending(context.Background())
	if out.Kind != Failed {
		t.Fatalf("outcome = %v, want failed", out.Kind)
	}
	if modem.sendCalls != 1 {
		t.Fatalf("send calls = %d; remaining budget must be abandoned", modem.sendCalls)
	}
	if len(store.committed) != 0 {
		t.Fatal("store must be untouched after an aborted transmission")
	}
	// The abort must report the failed send, not just the weak signal.
	if out.Err == nil || !strings.Contains(out.Err.Error(), "no ack") {
		t.Fatalf("err = %v, want the last send error preserved", out.Err)
	}
}

func TestTransmitReportsOversizedHeadRecord(t *testing.T) {
	// The head record is pending but larger than the payload ceiling,
	// so PeekOldest yields nothing. The operator must see the wedge.
	oversized := strings.Repeat("9,", 60) + "\n"
	modem := &fakeModem{quality: []int{5}}
	store := &fakeStore{chunk: []byte(oversized)}
	p := New(modem, store, WithPayloadCeiling(16))

	out := p.TransmitPending(context.Background())
	if out.Kind != IntegrityRejected {
		t.Fatalf("outcome = %v, want integrity rejected", out.Kind)
	}
	if !errors.IsCode(out.Err, errors.CodeIntegrityRejected) {
		t.Fatalf("err = %v, want integrity code", out.Err)
	}
	if modem.sendCalls != 0 {
		t.Fatal("nothing must be sent for an unsendable record")
	}
}

func TestTransmitRejectsInsaneChunk(t *testing.T) {
	modem := &fakeModem{quality: []int{5}}
	store := &fakeStore{chunk: []byte("garbagewithoutseparators")}
	p := New(modem, store)

	out := p.TransmitPending(context.Background())
	if out.Kind != IntegrityRejected {
		t.Fatalf("outcome = %v, want integrity rejected", out.Kind)
	}
	if modem.sendCalls != 0 {
		t.Fatal("rejected chunk must not be transmitted")
	}
	if len(store.committed) != 0 {
		t.Fatal("rejected chunk must remain pending")
	}
}

func TestTransmitJournalsDuplicateWindow(t *testing.T) {
	ctx := context.Background()
	backend, err := journal.NewFileBackend(afero.NewMemMapFs(), "/journal")
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	jnl := journal.New(backend)

	// The send succeeds but the commit fails, leaving a sent entry
	// open for the next startup to report.
	modem := &fakeModem{quality: []int{5}}
	store := &fakeStore{chunk: []byte("1,2,3\n"), commitErr: fmt.Errorf("medium gone")}
	p := New(modem, store, WithJournal(jnl))

	out := p.TransmitPending(ctx)
	if out.Kind != Failed {
		t.Fatalf("outcome = %v, want failed", out.Kind)
	}

	open, err := jnl.OpenSent(ctx)
	if err != nil {
		t.Fatalf("OpenSent: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open sent entries = %d, want 1", len(open))
	}
	if open[0].Bytes != 6 {
		t.Fatalf("journalled bytes = %d, want 6", open[0].Bytes)
	}
}

func TestTransmitResolvesJournalOnSuccess(t *testing.T) {
	ctx := context.Background()
	backend, _ := journal.NewFileBackend(afero.NewMemMapFs(), "/journal")
	jnl := journal.New(backend)

	modem := &fakeModem{quality: []int{5}}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store, WithJournal(jnl))

	if out := p.TransmitPending(ctx); out.Kind != Success {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	open, _ := jnl.OpenSent(ctx)
	if len(open) != 0 {
		t.Fatalf("resolved attempt still open in the journal: %+v", open)
	}
}

func TestSendMessageTruncatesToCeiling(t *testing.T) {
	modem := &fakeModem{quality: []int{5}}
	store := &fakeStore{chunk: []byte("1,2,3\n")}
	p := New(modem, store)

	long := make([]byte, 2*DefaultPayloadCeiling)
	for i := range long {
		long[i] = 'a'
	}
	out := p.SendMessage(context.Background(), string(long))
	if out.Kind != Success {
		t.Fatalf("outcome = %v (%v), want success", out.Kind, out.Err)
	}
	if out.Bytes != DefaultPayloadCeiling {
		t.Fatalf("sent %d bytes, want %d", out.Bytes, DefaultPayloadCeiling)
	}
	if len(store.committed) != 0 {
		t.Fatal("free-text send must not touch the log store")
	}
}

func TestSendMessageGatedOnSignal(t *testing.T) {
	modem := &fakeModem{quality: []int{0}}
	p := New(modem, &fakeStore{})

	if out := p.SendMessage(context.Background(), "hello"); out.Kind != LinkTooWeak {
		t.Fatalf("outcome = %v, want link too weak", out.Kind)
	}
	if modem.sendCalls != 0 {
		t.Fatal("no send below the signal floor")
	}
}
