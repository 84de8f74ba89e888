package logstore

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/trackflow/trackflow/internal/model"
	"github.com/trackflow/trackflow/pkg/errors"
)

// testRecord builds records whose marshalled size is identical for any
// i in 0..59, so rotation points are predictable.
func testRecord(i int) model.Record {
	return model.Record{
		LatE7:      377749000,
		LonE7:      -1224194000,
		AltitudeMM: 15000,
		SpeedMMs:   1200,
		HeadingE5:  9000000,
		Satellites: 8,
		Time:       time.Date(2026, 8, 30, 12, 0, i, 0, time.UTC),
		Source:     "gps",
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(afero.NewMemMapFs(), "/data", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func recLen() int { return len(testRecord(0).Marshal()) }

func TestAppendRotatesAtCeiling(t *testing.T) {
	l := recLen()
	s := newTestStore(t, WithCeiling(int64(2*l)))

	for i := 0; i < 3; i++ {
		if err := s.Append(testRecord(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected rotation into 2 files, got %d", len(files))
	}
	if files[0].Name != "TRK00001.DAT" || files[1].Name != "TRK00002.DAT" {
		t.Fatalf("unexpected names %q, %q", files[0].Name, files[1].Name)
	}
	if files[0].Size != int64(2*l) || files[1].Size != int64(l) {
		t.Fatalf("sizes = %d,%d; want %d,%d", files[0].Size, files[1].Size, 2*l, l)
	}

	total, err := s.TotalPendingBytes()
	if err != nil {
		t.Fatalf("TotalPendingBytes: %v", err)
	}
	if total != int64(3*l) {
		t.Fatalf("pending = %d, want %d", total, 3*l)
	}
}

func TestPeekOldestWholeRecordsOnly(t *testing.T) {
	l := recLen()
	s := newTestStore(t, WithCeiling(int64(10*l)))
	for i := 0; i < 3; i++ {
		if err := s.Append(testRecord(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// A budget below one record yields nothing rather than a torn record.
	chunk, err := s.PeekOldest(l - 1)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if chunk != nil {
		t.Fatalf("expected empty peek, got %d bytes", len(chunk))
	}

	chunk, err = s.PeekOldest(l)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if !bytes.Equal(chunk, testRecord(0).Marshal()) {
		t.Fatalf("peek did not return the oldest record: %q", chunk)
	}

	// A budget between two and three records returns exactly two.
	chunk, err = s.PeekOldest(3*l - 1)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if len(chunk) != 2*l {
		t.Fatalf("peek = %d bytes, want %d", len(chunk), 2*l)
	}
	if chunk[len(chunk)-1] != '\n' {
		t.Fatal("peek must end on a record boundary")
	}

	// Peek does not consume.
	total, _ := s.TotalPendingBytes()
	if total != int64(3*l) {
		t.Fatalf("pending shrank to %d after peek", total)
	}
}

func TestPeekOldestEmptyStore(t *testing.T) {
	s := newTestStore(t)
	chunk, err := s.PeekOldest(200)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if chunk != nil {
		t.Fatalf("expected nothing pending, got %d bytes", len(chunk))
	}
}

func TestCommitConsumedFrontTruncates(t *testing.T) {
	l := recLen()
	s := newTestStore(t, WithCeiling(int64(10*l)))
	for i := 0; i < 3; i++ {
		s.Append(testRecord(i))
	}

	if err := s.CommitConsumed(l); err != nil {
		t.Fatalf("CommitConsumed: %v", err)
	}
	total, _ := s.TotalPendingBytes()
	if total != int64(2*l) {
		t.Fatalf("pending = %d, want %d", total, 2*l)
	}

	chunk, err := s.PeekOldest(l)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if !bytes.Equal(chunk, testRecord(1).Marshal()) {
		t.Fatalf("front truncation left wrong record at the head: %q", chunk)
	}
}

func TestCommitConsumedRemovesEmptiedFile(t *testing.T) {
	l := recLen()
	s := newTestStore(t, WithCeiling(int64(2*l)))
	for i := 0; i < 3; i++ {
		s.Append(testRecord(i))
	}

	// Drain the whole oldest file; it disappears and the next peek
	// serves the rotated file.
	if err := s.CommitConsumed(2 * l); err != nil {
		t.Fatalf("CommitConsumed: %v", err)
	}
	files, _ := s.ListFiles()
	if len(files) != 1 || files[0].Name != "TRK00002.DAT" {
		t.Fatalf("expected only TRK00002.DAT, got %v", files)
	}

	chunk, err := s.PeekOldest(l)
	if err != nil {
		t.Fatalf("PeekOldest: %v", err)
	}
	if !bytes.Equal(chunk, testRecord(2).Marshal()) {
		t.Fatalf("peek after drain returned %q", chunk)
	}
}

func TestCommitConsumedOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	if err := s.CommitConsumed(10); err == nil {
		t.Fatal("consuming from an empty store should fail")
	}
	if err := s.CommitConsumed(0); err != nil {
		t.Fatalf("zero-byte commit should be a no-op, got %v", err)
	}
}

func TestEraseAllRestartsSequence(t *testing.T) {
	l := recLen()
	s := newTestStore(t, WithCeiling(int64(l)))
	for i := 0; i < 3; i++ {
		s.Append(testRecord(i))
	}

	if err := s.EraseAll(); err != nil {
		t.Fatalf("EraseAll: %v", err)
	}
	if total, _ := s.TotalPendingBytes(); total != 0 {
		t.Fatalf("pending = %d after erase", total)
	}

	if err := s.Append(testRecord(0)); err != nil {
		t.Fatalf("append after erase: %v", err)
	}
	files, _ := s.ListFiles()
	if len(files) != 1 || files[0].Name != "TRK00001.DAT" {
		t.Fatalf("sequence did not restart: %v", files)
	}
}

func TestRemoveFile(t *testing.T) {
	s := newTestStore(t)
	s.Append(testRecord(0))

	if err := s.RemoveFile("TRK00001.DAT"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := s.RemoveFile("TRK00001.DAT"); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Fatalf("expected file-not-found, got %v", err)
	}
	if err := s.RemoveFile("../etc/passwd"); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Fatalf("non-store names must be rejected, got %v", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReadFile("TRK00007.DAT"); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Fatalf("expected file-not-found, got %v", err)
	}
}

func TestValidateFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/data")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Append(testRecord(i))
	}

	rep, err := s.ValidateFile("TRK00001.DAT")
	if err != nil {
		t.Fatalf("ValidateFile: %v", err)
	}
	if !rep.OK() || rep.Records != 3 {
		t.Fatalf("clean file: records=%d corrupt=%d", rep.Records, rep.Corrupt)
	}

	// Flip one byte inside the second record.
	data, _ := afero.ReadFile(fs, "/data/TRK00001.DAT")
	data[recLen()+2] ^= 0x01
	afero.WriteFile(fs, "/data/TRK00001.DAT", data, 0o644)

	rep, err = s.ValidateFile("TRK00001.DAT")
	if err != nil {
		t.Fatalf("ValidateFile: %v", err)
	}
	if rep.OK() || rep.Corrupt != 1 || rep.Records != 2 {
		t.Fatalf("corrupted file: records=%d corrupt=%d", rep.Records, rep.Corrupt)
	}
}

func TestSequenceRollsPastFiveDigits(t *testing.T) {
	l := recLen()
	fs := afero.NewMemMapFs()

	// A long deployment has already filled TRK99999.DAT.
	full := append(testRecord(0).Marshal(), testRecord(1).Marshal()...)
	if err := afero.WriteFile(fs, "/data/TRK99999.DAT", full, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := New(fs, "/data", WithCeiling(int64(2*l)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(testRecord(2)); err != nil {
		t.Fatalf("append past rollover: %v", err)
	}

	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || files[1].Name != "TRK100000.DAT" {
		t.Fatalf("rotation past 99999 lost the new file: %v", files)
	}
	total, err := s.TotalPendingBytes()
	if err != nil {
		t.Fatalf("TotalPendingBytes: %v", err)
	}
	if total != int64(3*l) {
		t.Fatalf("TotalPendingBytes = %d, want %d: rotated file is invisible", total, 3*l)
	}
}

func TestReopenResumesHighestSequence(t *testing.T) {
	l := recLen()
	fs := afero.NewMemMapFs()

	s, err := New(fs, "/data", WithCeiling(int64(l)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		s.Append(testRecord(i))
	}

	reopened, err := New(fs, "/data", WithCeiling(int64(l)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Append(testRecord(2)); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	files, _ := reopened.ListFiles()
	if len(files) != 3 || files[2].Name != "TRK00003.DAT" {
		t.Fatalf("reopen did not resume the sequence: %v", files)
	}
}
