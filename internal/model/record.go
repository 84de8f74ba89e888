// Package model defines core data structures for Trackflow.
package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record represents a single sampled observation from the positioning
// sensor. Coordinates use fixed-point integers to keep the wire format
// deterministic; timestamps are UTC. A Record is immutable once appended
// to the log store.
type Record struct {
	// LatE7 and LonE7 are latitude/longitude in 1e-7 degrees.
	LatE7 int32
	LonE7 int32

	// AltitudeMM is altitude above mean sea level in millimetres.
	AltitudeMM int32

	// SpeedMMs is ground speed in mm/s.
	SpeedMMs int32

	// HeadingE5 is heading in 1e-5 degrees.
	HeadingE5 int32

	// Satellites is the number of satellites used in the fix.
	Satellites uint8

	// Time is the fix time in UTC.
	Time time.Time

	// Source tags the sensing unit that produced the sample.
	Source string
}

// FieldCount is the number of comma-separated fields in a marshalled
// Record, including the trailing checksum field.
const FieldCount = 10

// Marshal encodes the record as a single CSV line terminated by '\n':
//
//	lat,lon,alt,spd,hdg,sats,YYMMDD,HHMMSS,source,crc
//
// crc is the CRC-8 of every byte before the final comma, printed as two
// lowercase hex digits.
func (r Record) Marshal() []byte {
	var b bytes.Buffer
	t := r.Time.UTC()
	fmt.Fprintf(&b, "%d,%d,%d,%d,%d,%d,%02d%02d%02d,%02d%02d%02d,%s",
		r.LatE7, r.LonE7, r.AltitudeMM, r.SpeedMMs, r.HeadingE5, r.Satellites,
		t.Year()%100, int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		r.Source)
	crc := Checksum(b.Bytes())
	fmt.Fprintf(&b, ",%02x\n", crc)
	return b.Bytes()
}

// Unmarshal parses one marshalled line (with or without the trailing
// newline) back into a Record, verifying the checksum field.
func Unmarshal(line []byte) (Record, error) {
	line = bytes.TrimRight(line, "\r\n")
	idx := bytes.LastIndexByte(line, ',')
	if idx < 0 {
		return Record{}, fmt.Errorf("record has no checksum field")
	}
	payload, crcField := line[:idx], string(line[idx+1:])

	want, err := strconv.ParseUint(crcField, 16, 8)
	if err != nil {
		return Record{}, fmt.Errorf("bad checksum field %q: %w", crcField, err)
	}
	if got := Checksum(payload); got != byte(want) {
		return Record{}, fmt.Errorf("checksum mismatch: have %02x, want %02x", got, byte(want))
	}

	fields := strings.Split(string(payload), ",")
	if len(fields) != FieldCount-1 {
		return Record{}, fmt.Errorf("record has %d fields, want %d", len(fields)+1, FieldCount)
	}

	var r Record
	ints := make([]int64, 6)
	for i := 0; i < 6; i++ {
		ints[i], err = strconv.ParseInt(fields[i], 10, 32)
		if err != nil {
			return Record{}, fmt.Errorf("field %d: %w", i, err)
		}
	}
	r.LatE7 = int32(ints[0])
	r.LonE7 = int32(ints[1])
	r.AltitudeMM = int32(ints[2])
	r.SpeedMMs = int32(ints[3])
	r.HeadingE5 = int32(ints[4])
	if ints[5] < 0 || ints[5] > 255 {
		return Record{}, fmt.Errorf("satellite count %d out of range", ints[5])
	}
	r.Satellites = uint8(ints[5])

	r.Time, err = parseDateTime(fields[6], fields[7])
	if err != nil {
		return Record{}, err
	}
	r.Source = fields[8]
	return r, nil
}

// parseDateTime parses the YYMMDD and HHMMSS fields. Two-digit years are
// anchored to the 2000s; the original hardware's clock cannot predate it.
func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) != 6 {
		return time.Time{}, fmt.Errorf("bad date/time fields %q %q", date, clock)
	}
	num := func(s string) (int, error) { return strconv.Atoi(s) }
	yy, err1 := num(date[0:2])
	mo, err2 := num(date[2:4])
	dd, err3 := num(date[4:6])
	hh, err4 := num(clock[0:2])
	mi, err5 := num(clock[2:4])
	ss, err6 := num(clock[4:6])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, fmt.Errorf("bad date/time fields %q %q: %w", date, clock, err)
		}
	}
	if mo < 1 || mo > 12 || dd < 1 || dd > 31 || hh > 23 || mi > 59 || ss > 59 {
		return time.Time{}, fmt.Errorf("date/time fields out of range: %q %q", date, clock)
	}
	return time.Date(2000+yy, time.Month(mo), dd, hh, mi, ss, 0, time.UTC), nil
}

// Checksum computes the CRC-8 (polynomial 0x07) used as the per-record
// integrity value in the on-disk and over-the-air format.
func Checksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
