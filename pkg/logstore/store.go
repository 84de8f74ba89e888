// Package logstore owns the bounded append-only record files. Records are
// appended one marshalled line at a time to the current file; when an
// append would push the file past the configured byte ceiling the store
// rotates, and the old file becomes an immutable artifact awaiting
// transmission or manual deletion. The front of the oldest file is only
// ever dropped through CommitConsumed, after a confirmed send.
//
// Files are named TRK00001.DAT, TRK00002.DAT, ... and oldest-first
// ordering is inferred from the sequence number; there is no index file.
package logstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/trackflow/trackflow/internal/model"
	"github.com/trackflow/trackflow/pkg/errors"
)

const (
	filePrefix = "TRK"
	fileExt    = ".DAT"

	// DefaultCeiling is twice the uplink payload cap, so a full file
	// drains in a couple of transmissions.
	DefaultCeiling = 190
)

// FileInfo describes one record file on the medium.
type FileInfo struct {
	Name     string
	Size     int64
	Sequence int
}

// ValidationReport is the result of a record and checksum audit of one
// file.
type ValidationReport struct {
	Name    string
	Records int
	Corrupt int
	Bytes   int64
}

// OK reports whether every record in the file passed the audit.
func (r ValidationReport) OK() bool { return r.Corrupt == 0 }

// Store manages the record files inside one directory of an afero
// filesystem. Not safe for concurrent use; the dispatcher serializes
// access.
type Store struct {
	fs      afero.Fs
	dir     string
	ceiling int64
	seq     int
}

// Option configures a Store.
type Option func(*Store)

// WithCeiling sets the per-file byte ceiling that triggers rotation.
func WithCeiling(n int64) Option {
	return func(s *Store) { s.ceiling = n }
}

// New opens (or creates) the store directory and resumes appending to
// the highest-numbered existing file.
func New(fs afero.Fs, dir string, opts ...Option) (*Store, error) {
	s := &Store{fs: fs, dir: dir, ceiling: DefaultCeiling, seq: 1}
	for _, opt := range opts {
		opt(s)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeMediumUnavailable, "cannot create store directory").
			WithContext("dir", dir)
	}
	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		s.seq = files[len(files)-1].Sequence
	}
	return s, nil
}

// Append serializes the record and appends it to the current file,
// rotating first if the append would exceed the ceiling. The full
// serialized record is written in a single call, so a failed write
// never leaves a partial record behind it on a healthy medium.
func (s *Store) Append(rec model.Record) error {
	data := rec.Marshal()

	name := s.fileName(s.seq)
	size, err := s.fileSize(name)
	if err != nil {
		return err
	}
	if size > 0 && size+int64(len(data)) > s.ceiling {
		s.seq++
		name = s.fileName(s.seq)
	}

	f, err := s.fs.OpenFile(s.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WriteFailed(name, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errors.WriteFailed(name, err)
	}
	return nil
}

// PeekOldest returns, without removing, up to maxBytes from the front of
// the oldest non-empty file. Only whole records are returned; a record
// that does not fit is left for a later call. An empty result means
// nothing is pending.
func (s *Store) PeekOldest(maxBytes int) ([]byte, error) {
	_, data, err := s.oldest()
	if err != nil || data == nil {
		return nil, err
	}

	end := 0
	for end < len(data) {
		nl := bytes.IndexByte(data[end:], '\n')
		if nl < 0 {
			break
		}
		next := end + nl + 1
		if next > maxBytes {
			break
		}
		end = next
	}
	if end == 0 {
		return nil, nil
	}
	chunk := make([]byte, end)
	copy(chunk, data[:end])
	return chunk, nil
}

// CommitConsumed permanently drops n bytes from the front of the oldest
// file. The medium has no delete-from-front primitive, so the remainder
// is rewritten through a temporary file. A file that becomes empty is
// removed.
func (s *Store) CommitConsumed(n int) error {
	if n <= 0 {
		return nil
	}
	name, data, err := s.oldest()
	if err != nil {
		return err
	}
	if data == nil {
		return errors.New(errors.CodeWriteFailed, "nothing to consume")
	}
	if n >= len(data) {
		if err := s.fs.Remove(s.path(name)); err != nil {
			return errors.WriteFailed(name, err)
		}
		return nil
	}

	tmp := s.path(name + ".tmp")
	if err := afero.WriteFile(s.fs, tmp, data[n:], 0o644); err != nil {
		return errors.WriteFailed(name, err)
	}
	if err := s.fs.Rename(tmp, s.path(name)); err != nil {
		return errors.WriteFailed(name, err)
	}
	return nil
}

// TotalPendingBytes sums the sizes of every record file.
func (s *Store) TotalPendingBytes() (int64, error) {
	files, err := s.ListFiles()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// ListFiles enumerates the record files oldest first.
func (s *Store) ListFiles() ([]FileInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMediumUnavailable, "cannot read store directory").
			WithContext("dir", s.dir)
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSequence(e.Name())
		if !ok {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: e.Size(), Sequence: seq})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Sequence < files[j].Sequence })
	return files, nil
}

// RemoveFile deletes one named record file.
func (s *Store) RemoveFile(name string) error {
	if _, ok := parseSequence(name); !ok {
		return errors.FileNotFound(name)
	}
	if err := s.fs.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound(name)
		}
		return errors.WriteFailed(name, err)
	}
	return nil
}

// EraseAll deletes every record file and restarts the sequence.
func (s *Store) EraseAll() error {
	files, err := s.ListFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.fs.Remove(s.path(f.Name)); err != nil {
			return errors.WriteFailed(f.Name, err)
		}
	}
	s.seq = 1
	return nil
}

// ReadFile returns the raw contents of one named file, for streaming
// back to the operator.
func (s *Store) ReadFile(name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(name)
		}
		return nil, errors.Wrap(err, errors.CodeMediumUnavailable, "cannot read file").
			WithContext("name", name)
	}
	return data, nil
}

// ValidateFile audits every record line in the named file against its
// checksum.
func (s *Store) ValidateFile(name string) (ValidationReport, error) {
	data, err := s.ReadFile(name)
	if err != nil {
		return ValidationReport{}, err
	}
	report := ValidationReport{Name: name, Bytes: int64(len(data))}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := model.Unmarshal(line); err != nil {
			report.Corrupt++
			continue
		}
		report.Records++
	}
	if err := sc.Err(); err != nil {
		return report, errors.Wrap(err, errors.CodeCorruptRecord, "scan failed").
			WithContext("name", name)
	}
	return report, nil
}

// oldest returns the name and contents of the oldest non-empty file, or
// a nil slice when the store is empty.
func (s *Store) oldest() (string, []byte, error) {
	files, err := s.ListFiles()
	if err != nil {
		return "", nil, err
	}
	for _, f := range files {
		if f.Size == 0 {
			continue
		}
		data, err := afero.ReadFile(s.fs, s.path(f.Name))
		if err != nil {
			return "", nil, errors.Wrap(err, errors.CodeMediumUnavailable, "cannot read file").
				WithContext("name", f.Name)
		}
		return f.Name, data, nil
	}
	return "", nil, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) fileName(seq int) string {
	return fmt.Sprintf("%s%05d%s", filePrefix, seq, fileExt)
}

func (s *Store) fileSize(name string) (int64, error) {
	fi, err := s.fs.Stat(s.path(name))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeMediumUnavailable, "cannot stat file").
			WithContext("name", name)
	}
	return fi.Size(), nil
}

// parseSequence extracts the rotation sequence from a TRKnnnnn.DAT
// name. The sequence is zero-padded to five digits but grows past
// TRK99999.DAT on long deployments, so any digit run is accepted.
func parseSequence(name string) (int, bool) {
	if len(name) < len(filePrefix)+1+len(fileExt) {
		return 0, false
	}
	if name[:len(filePrefix)] != filePrefix || filepath.Ext(name) != fileExt {
		return 0, false
	}
	digits := name[len(filePrefix) : len(name)-len(fileExt)]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}
